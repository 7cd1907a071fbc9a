// Package settings persists the operator-editable device configuration,
// the analog of the original NVS config blob.
package settings

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/theminus/minosd/pkg/utils"
)

// WifiState marks whether the stored Wi-Fi credentials are trusted or still
// awaiting their first successful association.
type WifiState string

const (
	// WifiCommitted means the stored credentials have proven to work.
	WifiCommitted WifiState = "committed"

	// WifiPending means new credentials were staged and must be tested on
	// the next boot; on failure the previous ones are restored.
	WifiPending WifiState = "pending"
)

// Settings is the persisted device configuration.
type Settings struct {
	Hostname         string    `yaml:"hostname"`
	HTTPLogin        string    `yaml:"http_login"`
	HTTPPasswordHash string    `yaml:"http_password_hash"`
	WifiSSID         string    `yaml:"wifi_ssid"`
	WifiPassword     string    `yaml:"wifi_password"`
	OldWifiSSID      string    `yaml:"old_wifi_ssid"`
	OldWifiPassword  string    `yaml:"old_wifi_password"`
	WifiState        WifiState `yaml:"wifi_state"`
	MQTTHost         string    `yaml:"mqtt_host"`
	MQTTPort         int       `yaml:"mqtt_port"`
	MQTTLogin        string    `yaml:"mqtt_login"`
	MQTTPassword     string    `yaml:"mqtt_password"`
	Sensitivity      uint8     `yaml:"sensitivity"`
}

// Store owns the settings file and serializes access to it.
type Store struct {
	path       string
	bcryptCost int

	mu  sync.Mutex
	cur Settings
}

// Load reads the settings file, initializing defaults on first boot.
func Load(path string, bcryptCost int) (*Store, error) {
	s := &Store{path: path, bcryptCost: bcryptCost}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s.cur); err != nil {
			return nil, fmt.Errorf("corrupt settings file: %w", err)
		}
	case os.IsNotExist(err):
		s.cur, err = defaults(bcryptCost)
		if err != nil {
			return nil, err
		}
		if err := s.save(); err != nil {
			return nil, err
		}
		log.Info().Str("hostname", s.cur.Hostname).Msg("settings initialized with defaults")
	default:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Update applies fn to the settings and persists the result atomically.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur
	fn(&next)
	prev := s.cur
	s.cur = next
	if err := s.save(); err != nil {
		s.cur = prev
		return err
	}
	return nil
}

// FactoryReset restores and persists the defaults.
func (s *Store) FactoryReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, err := defaults(s.bcryptCost)
	if err != nil {
		return err
	}
	prev := s.cur
	s.cur = def
	if err := s.save(); err != nil {
		s.cur = prev
		return err
	}
	log.Warn().Str("hostname", def.Hostname).Msg("factory reset applied")
	return nil
}

// SetPassword hashes and stores a new HTTP password.
func (s *Store) SetPassword(password string) error {
	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.Update(func(st *Settings) {
		st.HTTPPasswordHash = hash
	})
}

// save writes the settings atomically; callers hold the mutex.
func (s *Store) save() error {
	data, err := yaml.Marshal(&s.cur)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move settings into place: %w", err)
	}
	return nil
}

func defaults(bcryptCost int) (Settings, error) {
	hash, err := utils.HashPassword("admin", bcryptCost)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to hash default password: %w", err)
	}
	return Settings{
		Hostname:         defaultHostname(),
		HTTPLogin:        "admin",
		HTTPPasswordHash: hash,
		WifiState:        WifiCommitted,
		MQTTHost:         "127.0.0.1",
		MQTTPort:         1883,
		Sensitivity:      0xFF,
	}, nil
}

// defaultHostname derives the factory hostname from the primary MAC address,
// matching the original firmware's naming.
func defaultHostname() string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) < 6 {
				continue
			}
			mac := iface.HardwareAddr
			return strings.ToUpper(fmt.Sprintf("%02x%02x%02x%02x%02x%02x",
				mac[0], mac[1], mac[2], mac[3], mac[4], mac[5]))
		}
	}
	return "MINOS"
}
