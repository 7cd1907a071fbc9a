// Package sysinfo gathers the runtime status reported by the device,
// covering the process, the firmware slots and the network interfaces.
package sysinfo

import (
	"os"
	"runtime"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/samber/lo"

	"github.com/theminus/minosd/internal/flash"
)

// SlotStatus describes one firmware slot.
type SlotStatus struct {
	Label   string `json:"label"`
	Active  bool   `json:"active"`
	Size    string `json:"size"`
	Version string `json:"version,omitempty"`
	Project string `json:"project,omitempty"`
	Valid   bool   `json:"valid"`
}

// NetInterface describes a network interface and its addresses.
type NetInterface struct {
	Name      string   `json:"name"`
	Up        bool     `json:"up"`
	Addresses []string `json:"addresses,omitempty"`
}

// Info is a point-in-time snapshot of the device state.
type Info struct {
	Hostname   string         `json:"hostname"`
	Uptime     string         `json:"uptime"`
	GoVersion  string         `json:"go_version"`
	Goroutines int            `json:"goroutines"`
	HeapInUse  string         `json:"heap_in_use"`
	HeapSys    string         `json:"heap_sys"`
	Slots      []SlotStatus   `json:"slots"`
	Interfaces []NetInterface `json:"interfaces"`
}

// Collector assembles Info snapshots from the flash bank and the host.
type Collector struct {
	bank    *flash.FileBank
	started time.Time
}

// NewCollector returns a Collector anchored at the current time.
func NewCollector(bank *flash.FileBank) *Collector {
	return &Collector{bank: bank, started: time.Now()}
}

// Collect builds a snapshot of the current device state.
func (c *Collector) Collect() Info {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	hostname, _ := os.Hostname()

	return Info{
		Hostname:   hostname,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		HeapInUse:  bytefmt.ByteSize(mem.HeapInuse),
		HeapSys:    bytefmt.ByteSize(mem.HeapSys),
		Slots:      c.slots(),
		Interfaces: listInterfaces(),
	}
}

func (c *Collector) slots() []SlotStatus {
	active := c.bank.Active()

	return lo.Map(c.bank.Partitions(), func(p flash.Partition, _ int) SlotStatus {
		st := SlotStatus{
			Label:  p.Label,
			Active: active != nil && active.Label == p.Label,
			Size:   bytefmt.ByteSize(uint64(p.Size)),
		}
		if _, desc, err := c.bank.SlotInfo(p.Label); err == nil {
			st.Valid = true
			st.Version = desc.Version
			st.Project = desc.Project
		}
		return st
	})
}
