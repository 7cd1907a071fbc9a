package web

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theminus/minosd/internal/auth"
	"github.com/theminus/minosd/internal/flash"
	"github.com/theminus/minosd/internal/image"
	"github.com/theminus/minosd/internal/settings"
	"github.com/theminus/minosd/internal/sysinfo"
	"github.com/theminus/minosd/internal/wifi"
	"github.com/theminus/minosd/pkg/config"
)

type recordingRestarter struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingRestarter) Restart(reason string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recordingRestarter) restarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons) > 0
}

type okBackend struct{}

func (okBackend) Associate(context.Context, string, string) error { return nil }

type testEnv struct {
	server    *Server
	router    http.Handler
	store     *settings.Store
	bank      *flash.FileBank
	restarter *recordingRestarter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.LoadFromEnv()
	cfg.Auth.BCryptCost = 4
	cfg.System.RestartDelay = 0

	store, err := settings.Load(filepath.Join(t.TempDir(), "settings.yaml"), 4)
	require.NoError(t, err)

	bank, err := flash.NewFileBank(t.TempDir(), 1<<20)
	require.NoError(t, err)

	restarter := &recordingRestarter{}
	authService := auth.NewService(store, &cfg.Auth)
	wifiManager := wifi.NewManager(store, okBackend{}, restarter, time.Second)

	server := NewServer(cfg, store, bank, authService, wifiManager,
		restarter, sysinfo.NewCollector(bank), nil)

	return &testEnv{
		server:    server,
		router:    server.Router(),
		store:     store,
		bank:      bank,
		restarter: restarter,
	}
}

func (e *testEnv) request(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.SetBasicAuth("admin", "admin")
	if body != nil {
		req.ContentLength = int64(len(body))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func validImage(version, project string) []byte {
	img := make([]byte, 2048)
	img[0] = image.HeaderMagic
	img[1] = 4
	img[2] = 0x02
	img[3] = 0x20
	binary.LittleEndian.PutUint32(img[4:8], 0x40080000)
	binary.LittleEndian.PutUint32(img[image.DescOffset:], image.DescMagic)
	copy(img[image.DescOffset+4:image.DescOffset+36], version)
	copy(img[image.DescOffset+36:image.DescOffset+68], project)
	return img
}

func TestHealthRequiresNoAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestStylesheetRequiresNoAuth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/styles.css", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/css")
}

func TestRootRejectsMissingCredentials(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
}

func TestRootRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "wrong")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRootWithBasicAuth(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Module Configuration")
}

func TestBearerTokenFlow(t *testing.T) {
	env := newTestEnv(t)

	body, err := json.Marshal(map[string]string{"login": "admin", "password": "admin"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"login":"admin","password":"nope"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestModuleConfigurationShowsSettings(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Update(func(st *settings.Settings) {
		st.Hostname = "BENCH01"
	}))

	w := env.request(http.MethodGet, "/module-configuration", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BENCH01")
}

func TestWifiFormSavesSettingsWithoutRestart(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{}
	form.Set("hostname", "GARAGE")
	form.Set("mqttHost", "broker.lan")
	form.Set("mqttPort", "8883")
	form.Set("Sensitivity", "300")

	req := httptest.NewRequest(http.MethodPost, "/wifi", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("admin", "admin")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	cur := env.store.Get()
	assert.Equal(t, "GARAGE", cur.Hostname)
	assert.Equal(t, "broker.lan", cur.MQTTHost)
	assert.Equal(t, 8883, cur.MQTTPort)
	assert.Equal(t, uint8(255), cur.Sensitivity)
	assert.False(t, env.restarter.restarted())
}

func TestWifiFormStagesCredentialChange(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{}
	form.Set("wifiSSID", "lab-net")
	form.Set("wifiPassword", "hunter2")

	req := httptest.NewRequest(http.MethodPost, "/wifi", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("admin", "admin")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	// The association test runs after the response; wait for the commit.
	assert.Eventually(t, func() bool {
		cur := env.store.Get()
		return cur.WifiSSID == "lab-net" && cur.WifiState == settings.WifiCommitted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, env.restarter.restarted, 2*time.Second, 10*time.Millisecond)
}

func TestWifiFormUpdatesPassword(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{}
	form.Set("httpPassword", "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/wifi", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("admin", "admin")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Old password no longer works.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "admin")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "s3cret")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateRawImage(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodPost, "/doUpdate", validImage("2.0.0", "minos"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "OK, rebooting")
	assert.True(t, env.restarter.restarted())
	assert.Equal(t, "2.0.0", env.bank.ActiveVersion())
}

func TestUpdateMultipartImage(t *testing.T) {
	env := newTestEnv(t)
	img := validImage("3.1.0", "minos")

	var body bytes.Buffer
	boundary := "----deadbeef"
	body.WriteString("--" + boundary + "\r\n")
	body.WriteString("Content-Disposition: form-data; name=\"update\"; filename=\"fw.bin\"\r\n")
	body.WriteString("Content-Type: application/octet-stream\r\n\r\n")
	body.Write(img)
	body.WriteString("\r\n--" + boundary + "--\r\n")

	w := env.request(http.MethodPost, "/doUpdate", body.Bytes())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3.1.0", env.bank.ActiveVersion())
	assert.True(t, env.restarter.restarted())
}

func TestUpdateRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodPost, "/doUpdate", []byte("definitely not firmware"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.restarter.restarted())
	assert.Empty(t, env.bank.ActiveVersion())
}

func TestUpdateRejectsEmptyBody(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodPost, "/doUpdate", []byte{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.restarter.restarted())
}

func TestUpdateRejectsMissingBoundary(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodPost, "/doUpdate", []byte("--\r\nnot a boundary"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReboot(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodGet, "/reboot", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK!", w.Body.String())
	assert.True(t, env.restarter.restarted())
}

func TestFactoryReset(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Update(func(st *settings.Settings) {
		st.Hostname = "CUSTOM"
	}))

	w := env.request(http.MethodPost, "/factory-reset", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, "CUSTOM", env.store.Get().Hostname)
	assert.True(t, env.restarter.restarted())
}

func TestSysinfoPage(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(http.MethodGet, "/sysinfo", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Firmware slots")
	assert.Contains(t, w.Body.String(), "Goroutines")
}

func TestRenderTemplateSubstitution(t *testing.T) {
	var buf bytes.Buffer
	err := renderTemplate(&buf, "a %x% b %miss% c %trail", func(key string) string {
		if key == "x" {
			return "X"
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, "a X b  c %trail", buf.String())
}
