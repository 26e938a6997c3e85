package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcrt-io/rcrt/pkg/models"
)

func TestCheckScope(t *testing.T) {
	tests := []struct {
		name    string
		secret  models.Secret
		id      models.Identity
		wantErr bool
	}{
		{
			name:   "owner scope open within tenant",
			secret: models.Secret{Scope: models.SecretScopeOwner},
			id:     models.Identity{AgentID: "a1", Roles: []string{models.RoleEmitter}},
		},
		{
			name:   "agent scope matching agent",
			secret: models.Secret{Scope: models.SecretScopeAgent, ScopeID: "a1"},
			id:     models.Identity{AgentID: "a1"},
		},
		{
			name:    "agent scope other agent denied",
			secret:  models.Secret{Scope: models.SecretScopeAgent, ScopeID: "a1"},
			id:      models.Identity{AgentID: "a2"},
			wantErr: true,
		},
		{
			name:   "global scope curator",
			secret: models.Secret{Scope: models.SecretScopeGlobal},
			id:     models.Identity{AgentID: "a1", Roles: []string{models.RoleCurator}},
		},
		{
			name:    "global scope non-curator denied",
			secret:  models.Secret{Scope: models.SecretScopeGlobal},
			id:      models.Identity{AgentID: "a1", Roles: []string{models.RoleEmitter}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkScope(&tt.secret, tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrScopeDenied)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSealOpenWithDEK(t *testing.T) {
	svc := &Service{}
	kms, err := NewLocalKMS(testKEKHex())
	assert.NoError(t, err)
	svc.kms = kms

	encBlob, dekWrapped, kekID, err := svc.sealValue("hunter2")
	assert.NoError(t, err)
	assert.NotContains(t, string(encBlob), "hunter2")

	dek, err := kms.Unwrap(dekWrapped, kekID)
	assert.NoError(t, err)
	value, err := openWithDEK(dek, encBlob)
	assert.NoError(t, err)
	assert.Equal(t, "hunter2", string(value))
}
