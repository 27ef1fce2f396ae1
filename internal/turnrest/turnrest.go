// Package turnrest mints coturn-compatible TURN REST credentials for the ICE
// server list handed to relay clients.
//
//	username   = <unix_expiry>:<prefix>:<session>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now and NewSession default to time.Now and a random UUID.
	Now        func() time.Time
	NewSession func() string
}

type Generator struct {
	secret     []byte
	ttl        int64
	prefix     string
	now        func() time.Time
	newSession func() string
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	ttl := int64(cfg.TTL / time.Second)
	if ttl <= 0 {
		return nil, errors.New("turnrest: ttl must be at least one second")
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("turnrest: username prefix must be non-empty and must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewSession == nil {
		cfg.NewSession = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	return &Generator{
		secret:     []byte(cfg.SharedSecret),
		ttl:        ttl,
		prefix:     cfg.UsernamePrefix,
		now:        cfg.Now,
		newSession: cfg.NewSession,
	}, nil
}

// Generate mints credentials for session, which must not contain ':'.
func (g *Generator) Generate(session string) (Credentials, error) {
	if session == "" || strings.Contains(session, ":") {
		return Credentials{}, fmt.Errorf("turnrest: invalid session %q", session)
	}
	expiry := g.now().UTC().Unix() + g.ttl
	username := fmt.Sprintf("%d:%s:%s", expiry, g.prefix, session)
	return Credentials{
		Username:   username,
		Credential: Sign(g.secret, username),
		Expires:    time.Unix(expiry, 0).UTC(),
	}, nil
}

// Apply returns a copy of servers with fresh credentials on every entry that
// lists a turn: or turns: URL. STUN-only entries are untouched.
func (g *Generator) Apply(servers []webrtc.ICEServer) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, len(servers))
	copy(out, servers)

	var creds *Credentials
	for i := range out {
		if !hasTURNURL(out[i]) {
			continue
		}
		if creds == nil {
			c, err := g.Generate(g.newSession())
			if err != nil {
				return nil, err
			}
			creds = &c
		}
		out[i].Username = creds.Username
		out[i].Credential = creds.Credential
		out[i].CredentialType = webrtc.ICECredentialTypePassword
	}
	return out, nil
}

func Sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
