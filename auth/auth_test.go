package auth

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"USER", RoleUser, false},
		{"owner", RoleOwner, false},
		{" Admin ", RoleAdmin, false},
		{"root", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveSecret_Deterministic(t *testing.T) {
	id := Identity{ID: "resident-7", Role: RoleUser}

	a, err := DeriveSecret(id, []byte("salt"))
	require.NoError(t, err)
	b, err := DeriveSecret(id, []byte("salt"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.Regexp(t, `^[0-9a-f]{32}$`, a)
}

func TestDeriveSecret_DependsOnEveryInput(t *testing.T) {
	base, err := DeriveSecret(Identity{ID: "owner", Role: RoleOwner}, []byte("salt"))
	require.NoError(t, err)

	otherRole, err := DeriveSecret(Identity{ID: "owner", Role: RoleAdmin}, []byte("salt"))
	require.NoError(t, err)
	otherID, err := DeriveSecret(Identity{ID: "owner2", Role: RoleOwner}, []byte("salt"))
	require.NoError(t, err)
	otherSalt, err := DeriveSecret(Identity{ID: "owner", Role: RoleOwner}, []byte("pepper"))
	require.NoError(t, err)

	assert.NotEqual(t, base, otherRole)
	assert.NotEqual(t, base, otherID)
	assert.NotEqual(t, base, otherSalt)
}

func TestDeriveSecret_InvalidIdentity(t *testing.T) {
	_, err := DeriveSecret(Identity{ID: "", Role: RoleUser}, nil)
	assert.Error(t, err)

	_, err = DeriveSecret(Identity{ID: "x", Role: "GUEST"}, nil)
	assert.Error(t, err)
}

func TestNewClientID(t *testing.T) {
	pattern := regexp.MustCompile(`^pumpview_[0-9a-f]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := NewClientID(DefaultClientIDPrefix)
		assert.Regexp(t, pattern, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestProvider_StaticCredentials(t *testing.T) {
	p := NewProvider(WithStaticCredentials("broker-user", "broker-pass"), WithClientIDPrefix("dash_"))

	creds, err := p.Credentials(Identity{ID: "alice", Role: RoleUser})
	require.NoError(t, err)
	assert.Equal(t, "broker-user", creds.Username)
	assert.Equal(t, "broker-pass", creds.Password)
	assert.Regexp(t, `^dash_[0-9a-f]{8}$`, creds.ClientID)

	again, err := p.Credentials(Identity{ID: "alice", Role: RoleUser})
	require.NoError(t, err)
	assert.NotEqual(t, creds.ClientID, again.ClientID)
}

func TestProvider_DerivedCredentials(t *testing.T) {
	p := NewProvider(WithSalt("s3"), WithStaticCredentials("ignored", "ignored"))
	id := Identity{ID: "owner", Name: "Owner", Role: RoleOwner}

	creds, err := p.Credentials(id)
	require.NoError(t, err)

	want, err := DeriveSecret(id, []byte("s3"))
	require.NoError(t, err)
	assert.Equal(t, "owner", creds.Username)
	assert.Equal(t, want, creds.Password)
}

func TestProvider_RejectsInvalidIdentity(t *testing.T) {
	_, err := NewProvider().Credentials(Identity{})
	assert.Error(t, err)
}
