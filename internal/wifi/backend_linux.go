//go:build linux

package wifi

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/vishvananda/netlink"
)

// NMBackend associates through NetworkManager and confirms over netlink
// that the link came up and received an address.
type NMBackend struct {
	Interface string
}

// NewPlatformBackend returns the wireless backend for this platform.
func NewPlatformBackend() Backend {
	return &NMBackend{}
}

// Associate connects to the given network and waits for an IPv4 address.
func (b *NMBackend) Associate(ctx context.Context, ssid, password string) error {
	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	if b.Interface != "" {
		args = append(args, "ifname", b.Interface)
	}

	out, err := exec.CommandContext(ctx, "nmcli", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("nmcli connect failed: %w: %s", err, bytes.TrimSpace(out))
	}
	return b.waitForAddress(ctx)
}

func (b *NMBackend) waitForAddress(ctx context.Context) error {
	iface := b.Interface
	if iface == "" {
		iface = "wlan0"
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		link, err := netlink.LinkByName(iface)
		if err == nil && link.Attrs().OperState == netlink.OperUp {
			addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
			if err == nil && len(addrs) > 0 {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("no address on %s: %w", iface, ctx.Err())
		case <-ticker.C:
		}
	}
}
