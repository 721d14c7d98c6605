// Package auth hashes passwords and issues and validates bearer tokens.
package auth

import (
	"time"

	"neuroprom.com/chat-api/internal/config"
)

// Credentials bundles password hashing and token handling behind the
// secret and lifetime taken from configuration.
type Credentials struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCredentials(cfg *config.Config) *Credentials {
	return &Credentials{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.AccessTokenTTL,
		now:    time.Now,
	}
}

func (c *Credentials) Hash(password string) (string, error) {
	return HashPassword(password)
}

func (c *Credentials) Verify(password, hash string) bool {
	return CheckPasswordHash(password, hash)
}

// Issue returns a token for subject valid for the configured lifetime.
func (c *Credentials) Issue(subject string) (string, error) {
	return GenerateJWT(c.secret, subject, c.now().Add(c.ttl))
}

func (c *Credentials) Validate(token string) (string, error) {
	return ValidateJWT(c.secret, token)
}
