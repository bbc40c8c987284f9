// Package auth carries the identity used to bootstrap an authenticated
// device session and derives the transport credentials from it.
//
// The derived secret is a convenience: anyone who knows the salt, the
// identity and the role can compute it. It keeps casual clients off a shared
// broker and must not be treated as a security boundary.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/transport"
)

// Role is the access level of an identity.
type Role string

// Roles
const (
	RoleUser  Role = "USER"
	RoleOwner Role = "OWNER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleUser, RoleOwner, RoleAdmin:
		return r, nil
	default:
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: unknown role %q", errors.ErrInvalidData, s),
			"auth", "ParseRole", "parse role")
	}
}

// Identity is the external "ready to connect" signal: who the session is for.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role Role   `json:"role"`
}

// Validate checks the identity carries an id and a known role.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: identity id is empty", errors.ErrInvalidData),
			"Identity", "Validate", "check id")
	}
	if _, err := ParseRole(string(i.Role)); err != nil {
		return err
	}
	return nil
}

// DeriveSecret computes the deterministic per-identity secret: 16 bytes of
// HKDF-SHA256 keyed by the identity id, salted, with the role as context.
func DeriveSecret(id Identity, salt []byte) (string, error) {
	if err := id.Validate(); err != nil {
		return "", err
	}

	info := []byte("pumpview:" + string(id.Role))
	r := hkdf.New(sha256.New, []byte(id.ID), salt, info)

	out := make([]byte, 16)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", errors.Wrap(err, "auth", "DeriveSecret", "read key stream")
	}
	return hex.EncodeToString(out), nil
}

// DefaultClientIDPrefix is prepended to generated client ids.
const DefaultClientIDPrefix = "pumpview_"

// NewClientID returns prefix followed by 8 random hex characters.
func NewClientID(prefix string) string {
	id := uuid.New()
	return prefix + hex.EncodeToString(id[:4])
}

// Provider turns identities into transport credentials.
type Provider struct {
	prefix   string
	salt     []byte
	username string
	password string
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithClientIDPrefix overrides DefaultClientIDPrefix.
func WithClientIDPrefix(prefix string) ProviderOption {
	return func(p *Provider) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithSalt enables derived secrets. Without a salt, identities connect with
// the static credentials.
func WithSalt(salt string) ProviderOption {
	return func(p *Provider) {
		p.salt = []byte(salt)
	}
}

// WithStaticCredentials sets a broker username and password shared by every
// identity.
func WithStaticCredentials(username, password string) ProviderOption {
	return func(p *Provider) {
		p.username = username
		p.password = password
	}
}

// NewProvider returns a credentials provider.
func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{prefix: DefaultClientIDPrefix}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Credentials returns fresh credentials for id. Every call yields a new
// client id so a reconnecting session never collides with its predecessor.
func (p *Provider) Credentials(id Identity) (transport.Credentials, error) {
	if err := id.Validate(); err != nil {
		return transport.Credentials{}, err
	}

	creds := transport.Credentials{
		ClientID: NewClientID(p.prefix),
		Username: p.username,
		Password: p.password,
	}

	if len(p.salt) > 0 {
		secret, err := DeriveSecret(id, p.salt)
		if err != nil {
			return transport.Credentials{}, err
		}
		creds.Username = id.ID
		creds.Password = secret
	}
	return creds, nil
}
