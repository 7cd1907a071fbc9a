package flash

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/rs/zerolog/log"

	"github.com/theminus/minosd/internal/image"
)

const (
	// SlotA and SlotB are the two OTA slot labels.
	SlotA = "ota_0"
	SlotB = "ota_1"

	bootRecordFile = "boot.json"

	// appRegionBase mirrors the flash offset at which application slots
	// start on the reference layout.
	appRegionBase = 0x10000
)

// bootRecord is the persisted boot pointer. Updating it is the only durable
// side effect of a successful firmware update.
type bootRecord struct {
	Active    string    `json:"active"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileBank implements Bank on top of two fixed-size slot files and a JSON
// boot record inside a data directory.
type FileBank struct {
	dir      string
	slotSize int64
	parts    [2]Partition

	mu      sync.Mutex
	boot    bootRecord
	cur     *os.File
	target  *Partition
	written int64
}

// NewFileBank opens or initializes the flash layout under dir. On first use
// the boot record points at SlotA.
func NewFileBank(dir string, slotSize int64) (*FileBank, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create flash directory: %w", err)
	}

	b := &FileBank{
		dir:      dir,
		slotSize: slotSize,
		parts: [2]Partition{
			{Label: SlotA, Offset: appRegionBase, Size: slotSize},
			{Label: SlotB, Offset: appRegionBase + slotSize, Size: slotSize},
		},
	}

	if err := b.loadBootRecord(); err != nil {
		return nil, err
	}

	log.Info().
		Str("dir", dir).
		Str("active", b.boot.Active).
		Str("slot_size", bytefmt.ByteSize(uint64(slotSize))).
		Msg("flash bank initialized")

	return b, nil
}

func (b *FileBank) loadBootRecord() error {
	data, err := os.ReadFile(filepath.Join(b.dir, bootRecordFile))
	if err == nil {
		if err := json.Unmarshal(data, &b.boot); err != nil {
			return fmt.Errorf("corrupt boot record: %w", err)
		}
		if b.boot.Active != SlotA && b.boot.Active != SlotB {
			return fmt.Errorf("boot record names unknown slot %q", b.boot.Active)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read boot record: %w", err)
	}

	// First boot: initialize the record before anything else runs.
	b.boot = bootRecord{Active: SlotA, Seq: 0, UpdatedAt: time.Now().UTC()}
	if err := b.saveBootRecord(); err != nil {
		return err
	}
	log.Info().Str("active", b.boot.Active).Msg("boot record initialized")
	return nil
}

// saveBootRecord writes the record atomically so a power cut never leaves a
// half-written boot pointer behind.
func (b *FileBank) saveBootRecord() error {
	data, err := json.MarshalIndent(&b.boot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode boot record: %w", err)
	}

	path := filepath.Join(b.dir, bootRecordFile)
	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write boot record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move boot record into place: %w", err)
	}
	return nil
}

func (b *FileBank) slotPath(label string) string {
	return filepath.Join(b.dir, label+".bin")
}

// Active returns the currently active boot region.
func (b *FileBank) Active() *Partition {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.parts {
		if b.parts[i].Label == b.boot.Active {
			p := b.parts[i]
			return &p
		}
	}
	return nil
}

// NextUpdateTarget returns the slot not referenced by the boot record.
func (b *FileBank) NextUpdateTarget() (*Partition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.parts {
		if b.parts[i].Label != b.boot.Active {
			p := b.parts[i]
			return &p, nil
		}
	}
	return nil, ErrNoTarget
}

// Begin reserves target and truncates its slot file for a fresh image.
func (b *FileBank) Begin(target *Partition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if target == nil {
		return ErrNoTarget
	}
	if target.Label == b.boot.Active {
		return ErrActiveSlot
	}
	if b.cur != nil {
		return ErrBusy
	}

	f, err := os.OpenFile(b.slotPath(target.Label), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open slot %s: %w", target.Label, err)
	}

	b.cur = f
	b.target = target
	b.written = 0

	log.Debug().Str("slot", target.Label).Msg("update session opened")
	return nil
}

// Write appends p at the next monotonic offset of the open slot.
func (b *FileBank) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cur == nil {
		return ErrNoSession
	}
	if len(p) == 0 {
		return nil
	}
	if b.written+int64(len(p)) > b.slotSize {
		return ErrFull
	}

	n, err := b.cur.Write(p)
	b.written += int64(n)
	if err != nil {
		return fmt.Errorf("slot write failed at offset %d: %w", b.written, err)
	}
	return nil
}

// End syncs and closes the open slot file.
func (b *FileBank) End() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cur == nil {
		return ErrNoSession
	}
	f := b.cur
	b.cur = nil

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync slot %s: %w", b.target.Label, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close slot %s: %w", b.target.Label, err)
	}

	log.Debug().
		Str("slot", b.target.Label).
		Str("size", bytefmt.ByteSize(uint64(b.written))).
		Msg("update session finalized")
	return nil
}

// Commit validates the written image and flips the boot record to target.
func (b *FileBank) Commit(target *Partition) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if target == nil {
		return ErrNoTarget
	}
	if b.cur != nil {
		return fmt.Errorf("cannot commit slot %s: session still open", target.Label)
	}

	hdr, desc, err := b.inspectSlot(target.Label)
	if err != nil {
		return err
	}

	prev := b.boot
	b.boot.Active = target.Label
	b.boot.Seq++
	b.boot.UpdatedAt = time.Now().UTC()
	if err := b.saveBootRecord(); err != nil {
		b.boot = prev
		return err
	}

	evt := log.Info().
		Str("slot", target.Label).
		Uint64("seq", b.boot.Seq).
		Uint8("segments", hdr.Segments)
	if desc.Version != "" {
		evt = evt.Str("version", desc.Version).Str("project", desc.Project)
	}
	evt.Msg("boot record updated")
	return nil
}

func (b *FileBank) inspectSlot(label string) (image.Header, image.Desc, error) {
	f, err := os.Open(b.slotPath(label))
	if err != nil {
		return image.Header{}, image.Desc{}, fmt.Errorf("failed to open slot %s: %w", label, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	buf = buf[:n]

	hdr, err := image.ParseHeader(buf)
	if err != nil {
		return image.Header{}, image.Desc{}, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	// The app descriptor is optional build metadata.
	desc, _ := image.ParseDesc(buf)
	return hdr, desc, nil
}

// SlotInfo returns header and descriptor details of a slot, for diagnostics.
func (b *FileBank) SlotInfo(label string) (image.Header, image.Desc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inspectSlot(label)
}

// ActiveVersion returns the version string of the active image, or empty
// when the slot holds no descriptor.
func (b *FileBank) ActiveVersion() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, desc, err := b.inspectSlot(b.boot.Active)
	if err != nil {
		return ""
	}
	return desc.Version
}

// Partitions returns the slot layout.
func (b *FileBank) Partitions() []Partition {
	return b.parts[:]
}
