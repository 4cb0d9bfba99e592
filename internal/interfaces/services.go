package interfaces

import (
	"context"

	"github.com/ternarybob/bidharvest/internal/models"
)

// CredentialDecrypter turns a sealed secret back into plaintext
type CredentialDecrypter interface {
	Decrypt(ciphertext, iv, authTag string) (string, error)
}

// JobLogger records job-scoped log entries. Implementations must never fail the caller.
type JobLogger interface {
	Log(ctx context.Context, jobID string, level models.LogLevel, message string, metadata map[string]interface{})
}

// CredentialSealer encrypts a plaintext value into a sealed secret
type CredentialSealer interface {
	Seal(plaintext string) (models.SealedSecret, error)
}
