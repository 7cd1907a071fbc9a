// Package wifi manages Wi-Fi association with the same staged
// commit-or-rollback lifecycle the firmware uses for flash images: a new
// credential set is tentative until it has survived one successful
// association, and a reboot with tentative credentials that fail restores
// the previous ones.
package wifi

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/theminus/minosd/internal/settings"
	"github.com/theminus/minosd/internal/system"
)

// Backend performs the actual association attempt.
type Backend interface {
	Associate(ctx context.Context, ssid, password string) error
}

// Manager drives association at boot and after web-initiated changes.
type Manager struct {
	store     *settings.Store
	backend   Backend
	restarter system.Restarter
	timeout   time.Duration
}

// NewManager creates a Wi-Fi manager.
func NewManager(store *settings.Store, backend Backend, restarter system.Restarter, timeout time.Duration) *Manager {
	return &Manager{
		store:     store,
		backend:   backend,
		restarter: restarter,
		timeout:   timeout,
	}
}

// Startup runs the boot-time association. With pending credentials the
// outcome decides between commit and rollback, both followed by a restart so
// the device comes up in a known state. With committed credentials a failure
// is logged and the device stays reachable over its other interfaces.
func (m *Manager) Startup(ctx context.Context) {
	cur := m.store.Get()
	if cur.WifiSSID == "" {
		log.Warn().Msg("no wifi ssid configured, staying on wired/recovery network")
		return
	}

	ok := m.associate(ctx, cur.WifiSSID, cur.WifiPassword)

	switch {
	case cur.WifiState == settings.WifiPending && ok:
		log.Info().Str("ssid", cur.WifiSSID).Msg("new wifi config works, committing")
		if err := m.store.Update(func(st *settings.Settings) {
			st.WifiState = settings.WifiCommitted
		}); err != nil {
			log.Error().Err(err).Msg("failed to commit wifi config")
			return
		}
		m.restarter.Restart("wifi config committed", 200*time.Millisecond)

	case cur.WifiState == settings.WifiPending && !ok:
		log.Error().Str("ssid", cur.WifiSSID).Msg("new wifi config failed, rolling back")
		if err := m.store.Update(func(st *settings.Settings) {
			st.WifiSSID = st.OldWifiSSID
			st.WifiPassword = st.OldWifiPassword
			st.WifiState = settings.WifiCommitted
		}); err != nil {
			log.Error().Err(err).Msg("failed to roll back wifi config")
			return
		}
		m.restarter.Restart("wifi config rolled back", 200*time.Millisecond)

	case !ok:
		log.Warn().Str("ssid", cur.WifiSSID).Msg("wifi association failed with committed config")
	}
}

// Stage backs up the current credentials and stores new ones as pending.
func (m *Manager) Stage(ssid, password string) error {
	return m.store.Update(func(st *settings.Settings) {
		st.OldWifiSSID = st.WifiSSID
		st.OldWifiPassword = st.WifiPassword
		st.WifiSSID = ssid
		st.WifiPassword = password
		st.WifiState = settings.WifiPending
	})
}

// TestStaged tries the pending credentials once. Success commits them;
// failure leaves them pending so the next boot rolls them back. Either way
// the device restarts.
func (m *Manager) TestStaged(ctx context.Context) {
	cur := m.store.Get()
	if cur.WifiState != settings.WifiPending {
		return
	}

	if m.associate(ctx, cur.WifiSSID, cur.WifiPassword) {
		if err := m.store.Update(func(st *settings.Settings) {
			st.WifiState = settings.WifiCommitted
		}); err != nil {
			log.Error().Err(err).Msg("failed to commit wifi config")
		}
		m.restarter.Restart("wifi config committed", 200*time.Millisecond)
		return
	}

	// Keep the pending marker: the boot path restores the old credentials.
	m.restarter.Restart("wifi config test failed", 200*time.Millisecond)
}

func (m *Manager) associate(ctx context.Context, ssid, password string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.backend.Associate(ctx, ssid, password)
	if err != nil {
		log.Warn().Err(err).Str("ssid", ssid).Msg("wifi association failed")
		return false
	}
	log.Info().Str("ssid", ssid).Msg("wifi associated")
	return true
}
