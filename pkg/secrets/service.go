package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
)

// ErrScopeDenied is returned when a caller outside a secret's scope
// asks for its value.
var ErrScopeDenied = errors.New("secret scope denies access")

// Service seals and opens secrets. RLS already confines rows to the
// tenant; the service adds the per-secret scope check and the
// envelope crypto.
type Service struct {
	store *store.Store
	kms   KMS
}

// NewService creates the secrets service.
func NewService(st *store.Store, kms KMS) *Service {
	return &Service{store: st, kms: kms}
}

// Create seals the value under a fresh data key and stores it.
func (s *Service) Create(ctx context.Context, id models.Identity, req models.CreateSecretRequest) (*models.Secret, error) {
	encBlob, dekWrapped, kekID, err := s.sealValue(req.Value)
	if err != nil {
		return nil, err
	}
	row, err := s.store.CreateSecret(ctx, id, req.Name, req.Scope, req.ScopeID, encBlob, dekWrapped, kekID)
	if err != nil {
		return nil, err
	}
	sec := row.Secret
	return &sec, nil
}

// Get decrypts a secret's value for callers inside its scope.
func (s *Service) Get(ctx context.Context, id models.Identity, name string) (*models.Secret, error) {
	row, err := s.store.GetSecretRow(ctx, id, name)
	if err != nil {
		return nil, err
	}
	if err := checkScope(&row.Secret, id); err != nil {
		return nil, err
	}

	dek, err := s.kms.Unwrap(row.DEKWrapped, row.KEKID)
	if err != nil {
		return nil, err
	}
	value, err := openWithDEK(dek, row.EncBlob)
	if err != nil {
		return nil, err
	}

	sec := row.Secret
	sec.Value = string(value)
	return &sec, nil
}

// Update re-seals an existing secret with a fresh data key.
func (s *Service) Update(ctx context.Context, id models.Identity, name, value string) (*models.Secret, error) {
	encBlob, dekWrapped, kekID, err := s.sealValue(value)
	if err != nil {
		return nil, err
	}
	row, err := s.store.UpdateSecret(ctx, id, name, encBlob, dekWrapped, kekID)
	if err != nil {
		return nil, err
	}
	sec := row.Secret
	return &sec, nil
}

// Delete removes a secret.
func (s *Service) Delete(ctx context.Context, id models.Identity, name string) error {
	return s.store.DeleteSecret(ctx, id, name)
}

// List returns secret metadata without values.
func (s *Service) List(ctx context.Context, id models.Identity) ([]models.Secret, error) {
	return s.store.ListSecrets(ctx, id)
}

// Audit returns the access log for one secret.
func (s *Service) Audit(ctx context.Context, id models.Identity, secretID string, limit int) ([]models.SecretAuditEntry, error) {
	return s.store.ListSecretAudit(ctx, id, secretID, limit)
}

func (s *Service) sealValue(value string) (encBlob, dekWrapped []byte, kekID string, err error) {
	dek := make([]byte, 32)
	if _, err := rand.Read(dek); err != nil {
		return nil, nil, "", fmt.Errorf("failed to generate data key: %w", err)
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to initialize data key cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to initialize data key AEAD: %w", err)
	}
	encBlob, err = seal(aead, []byte(value))
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to seal secret: %w", err)
	}

	dekWrapped, kekID, err = s.kms.Wrap(dek)
	if err != nil {
		return nil, nil, "", err
	}
	return encBlob, dekWrapped, kekID, nil
}

func openWithDEK(dek, encBlob []byte) ([]byte, error) {
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize data key cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize data key AEAD: %w", err)
	}
	value, err := open(aead, encBlob)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret: %w", err)
	}
	return value, nil
}

// checkScope enforces the per-secret access rule on top of tenancy:
// agent-scoped values open only for the named agent, global values
// only for curators.
func checkScope(sec *models.Secret, id models.Identity) error {
	switch sec.Scope {
	case models.SecretScopeAgent:
		if sec.ScopeID != id.AgentID {
			return ErrScopeDenied
		}
	case models.SecretScopeGlobal:
		if !hasRole(id.Roles, models.RoleCurator) {
			return ErrScopeDenied
		}
	}
	return nil
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
