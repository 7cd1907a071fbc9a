package update

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBoundary = "----abc123"

func multipartBody(boundary string, payload []byte) []byte {
	var b bytes.Buffer
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"file\"; filename=\"firmware.bin\"\r\n")
	b.WriteString("Content-Type: application/octet-stream\r\n")
	b.WriteString("\r\n")
	b.Write(payload)
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return b.Bytes()
}

func feedAll(t *testing.T, s *Scanner, chunks [][]byte) []byte {
	t.Helper()
	var out bytes.Buffer
	for _, chunk := range chunks {
		err := s.Feed(chunk, func(p []byte) error {
			out.Write(p)
			return nil
		})
		require.NoError(t, err)
	}
	return out.Bytes()
}

func patternPayload(n int) []byte {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte(i * 31)
	}
	return payload
}

func TestExtractDelimiter(t *testing.T) {
	tests := []struct {
		name    string
		first   []byte
		want    string
		wantErr bool
	}{
		{
			name:  "simple boundary line",
			first: []byte("------xyz\r\nContent-Disposition: form-data\r\n"),
			want:  "------xyz",
		},
		{
			name:  "bare LF line break",
			first: []byte("--token\nrest"),
			want:  "--token",
		},
		{
			name:    "no leading dashes",
			first:   []byte("token\r\n"),
			wantErr: true,
		},
		{
			name:    "no line break",
			first:   []byte("--tokenwithoutanyterminator"),
			wantErr: true,
		},
		{
			name:    "line break beyond token limit",
			first:   append(bytes.Repeat([]byte("-"), 100), '\r', '\n'),
			wantErr: true,
		},
		{
			name:    "empty token",
			first:   []byte("--\r\n"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delim, err := ExtractDelimiter(tt.first)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(delim))
		})
	}
}

func TestScannerSingleChunk(t *testing.T) {
	payload := patternPayload(2048)
	body := multipartBody(testBoundary, payload)

	s := NewScanner([]byte("--" + testBoundary))
	out := feedAll(t, s, [][]byte{body})

	assert.True(t, s.Done())
	assert.Equal(t, payload, out)
}

func TestScannerEverySplitOffset(t *testing.T) {
	// The payload contains bytes that look like partial delimiters so a
	// wrong tie-break would leak or drop bytes.
	payload := append(patternPayload(120), []byte("\r\n--tricky\r\n----abc12x")...)
	body := multipartBody(testBoundary, payload)

	for cut := 1; cut < len(body); cut++ {
		s := NewScanner([]byte("--" + testBoundary))
		out := feedAll(t, s, [][]byte{body[:cut], body[cut:]})
		require.Truef(t, s.Done(), "split at %d: scanner not done", cut)
		require.Equalf(t, payload, out, "split at %d: payload mismatch", cut)
	}
}

func TestScannerEveryChunkSize(t *testing.T) {
	payload := patternPayload(300)
	body := multipartBody(testBoundary, payload)

	for size := 1; size <= len(body); size++ {
		var chunks [][]byte
		for at := 0; at < len(body); at += size {
			end := at + size
			if end > len(body) {
				end = len(body)
			}
			chunks = append(chunks, body[at:end])
		}

		s := NewScanner([]byte("--" + testBoundary))
		out := feedAll(t, s, chunks)
		require.Truef(t, s.Done(), "chunk size %d: scanner not done", size)
		require.Equalf(t, payload, out, "chunk size %d: payload mismatch", size)
	}
}

func TestScannerCloserSpansChunks(t *testing.T) {
	// 2048-byte part in 700/700/648 chunks, the closing delimiter
	// straddling the last chunk edge.
	payload := patternPayload(2048)
	body := multipartBody(testBoundary, payload)
	require.Greater(t, len(body), 1400)

	s := NewScanner([]byte("--" + testBoundary))
	out := feedAll(t, s, [][]byte{body[:700], body[700:1400], body[1400:]})

	assert.True(t, s.Done())
	assert.Equal(t, payload, out)
}

func TestScannerZeroLengthFile(t *testing.T) {
	body := multipartBody(testBoundary, nil)

	for cut := 1; cut < len(body); cut++ {
		s := NewScanner([]byte("--" + testBoundary))
		out := feedAll(t, s, [][]byte{body[:cut], body[cut:]})
		require.Truef(t, s.Done(), "split at %d: scanner not done", cut)
		require.Emptyf(t, out, "split at %d: leaked %d bytes", cut, len(out))
	}
}

func TestScannerWithoutClosingDelimiter(t *testing.T) {
	payload := patternPayload(500)
	var body bytes.Buffer
	body.WriteString("--" + testBoundary + "\r\n")
	body.WriteString("Content-Disposition: form-data; name=\"f\"\r\n\r\n")
	body.Write(payload)

	s := NewScanner([]byte("--" + testBoundary))
	out := feedAll(t, s, [][]byte{body.Bytes()})

	// Without a closing delimiter the trailing window stays withheld.
	assert.False(t, s.Done())
	assert.Equal(t, payload[:len(payload)-s.tailMax], out)
	assert.Equal(t, payload[len(payload)-s.tailMax:], s.tail)
}

func TestScannerDoneIsTerminal(t *testing.T) {
	body := multipartBody(testBoundary, patternPayload(64))

	s := NewScanner([]byte("--" + testBoundary))
	out := feedAll(t, s, [][]byte{body, []byte("trailing garbage that must be ignored")})

	assert.True(t, s.Done())
	assert.Equal(t, patternPayload(64), out)
}

func TestScannerEmitError(t *testing.T) {
	body := multipartBody(testBoundary, patternPayload(64))

	s := NewScanner([]byte("--" + testBoundary))
	err := s.Feed(body, func(p []byte) error {
		return fmt.Errorf("device error")
	})
	assert.EqualError(t, err, "device error")
}

func TestScannerHeaderSpansManyChunks(t *testing.T) {
	// Header block larger than the overlap window, delivered byte by
	// byte: the terminator must still be found.
	payload := patternPayload(96)
	var body bytes.Buffer
	body.WriteString("--" + testBoundary + "\r\n")
	body.WriteString("Content-Disposition: form-data; name=\"file\"; filename=\"a-rather-long-file-name-for-padding.bin\"\r\n")
	body.WriteString("Content-Type: application/octet-stream\r\n")
	body.WriteString("X-Padding: " + string(bytes.Repeat([]byte("p"), 200)) + "\r\n")
	body.WriteString("\r\n")
	body.Write(payload)
	body.WriteString("\r\n--" + testBoundary + "--\r\n")

	var chunks [][]byte
	raw := body.Bytes()
	for i := range raw {
		chunks = append(chunks, raw[i:i+1])
	}

	s := NewScanner([]byte("--" + testBoundary))
	out := feedAll(t, s, chunks)
	assert.True(t, s.Done())
	assert.Equal(t, payload, out)
}
