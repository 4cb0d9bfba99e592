package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
)

// CredentialStorage keeps sealed credentials; it never sees plaintext
type CredentialStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCredentialStorage creates a new CredentialStorage instance
func NewCredentialStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CredentialStorage {
	return &CredentialStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CredentialStorage) SaveCredential(ctx context.Context, credential *models.Credential) error {
	if err := credential.Validate(); err != nil {
		return err
	}
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(credential.ID, credential); err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (s *CredentialStorage) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	var credential models.Credential
	if err := s.db.Store().Get(id, &credential); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("credential %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &credential, nil
}
