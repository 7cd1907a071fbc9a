// Package auth gates the management interface. Every route, including the
// update upload, sits behind the same check: HTTP Basic credentials against
// the persisted settings, or a short-lived bearer token issued from them.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/theminus/minosd/internal/settings"
	"github.com/theminus/minosd/pkg/config"
	"github.com/theminus/minosd/pkg/utils"
)

// Service handles authentication operations
type Service struct {
	store  *settings.Store
	config *config.AuthConfig
	secret string
}

// NewService creates a new authentication service. Without a configured JWT
// secret a random one is generated, so issued tokens do not survive a
// restart.
func NewService(store *settings.Store, cfg *config.AuthConfig) *Service {
	secret := cfg.JWTSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatal().Err(err).Msg("failed to generate token secret")
		}
		secret = hex.EncodeToString(buf)
		log.Debug().Msg("generated ephemeral token secret")
	}
	return &Service{
		store:  store,
		config: cfg,
		secret: secret,
	}
}

// CheckCredentials verifies a Basic auth login/password pair.
func (s *Service) CheckCredentials(login, password string) bool {
	cur := s.store.Get()
	loginOK := subtle.ConstantTimeCompare([]byte(login), []byte(cur.HTTPLogin)) == 1
	passOK := utils.CheckPassword(password, cur.HTTPPasswordHash)
	return loginOK && passOK
}

// IssueToken returns a bearer token for the given login.
func (s *Service) IssueToken(login string) (string, time.Time, error) {
	token, err := utils.GenerateJWT(login, s.secret, s.config.JWTExpiration)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}
	return token, time.Now().Add(s.config.JWTExpiration), nil
}

// ValidateToken checks a bearer token and confirms its subject still matches
// the configured login, so tokens die when the login is changed.
func (s *Service) ValidateToken(token string) error {
	subject, err := utils.ValidateJWT(token, s.secret)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if subject != s.store.Get().HTTPLogin {
		return fmt.Errorf("token subject no longer valid")
	}
	return nil
}
