// Package announce makes the device discoverable on the local network and
// publishes lifecycle events to the configured MQTT broker.
package announce

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	mdnsService = "_http._tcp"
	mdnsDomain  = "local."
)

// MDNS advertises the HTTP endpoint over multicast DNS.
type MDNS struct {
	server *zeroconf.Server
}

// RegisterMDNS announces the device under its hostname. The returned MDNS
// must be shut down before the process exits.
func RegisterMDNS(hostname string, port int, version string) (*MDNS, error) {
	txt := []string{"device=minos"}
	if version != "" {
		txt = append(txt, "version="+version)
	}

	server, err := zeroconf.Register(hostname, mdnsService, mdnsDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mdns service: %w", err)
	}

	log.Info().
		Str("instance", hostname).
		Str("service", mdnsService).
		Int("port", port).
		Msg("mdns announcement registered")

	return &MDNS{server: server}, nil
}

// Shutdown withdraws the announcement.
func (m *MDNS) Shutdown() {
	m.server.Shutdown()
}
