package store

import (
	"fmt"

	"github.com/chirino/companion-service/internal/dataencryption"
)

// NotFoundError indicates the profile or favorite does not exist. Cause carries the
// decryption failure when an encrypted document existed but could not be opened.
type NotFoundError struct {
	Resource string
	ID       string
	Cause    error
}

func (e *NotFoundError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s not found: %s (%v)", e.Resource, e.ID, e.Cause)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Cause }

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// DecryptionError reports a wrong key or corrupted envelope.
type DecryptionError = dataencryption.DecryptionError

// ErrDecryption matches any DecryptionError via errors.Is.
var ErrDecryption = dataencryption.ErrDecryption

// CorruptedProfileError indicates a document that neither the old nor the new key
// decrypts during re-encryption.
type CorruptedProfileError struct {
	Name string
	Err  error
}

func (e *CorruptedProfileError) Error() string {
	return fmt.Sprintf("profile %s is corrupted or encrypted with an unknown key: %v", e.Name, e.Err)
}

func (e *CorruptedProfileError) Unwrap() error { return e.Err }

// IntegrityRefusalError indicates an existing file that cannot be read with the given
// key. The store refuses to overwrite it rather than lose its contents.
type IntegrityRefusalError struct {
	Name string
	Err  error
}

func (e *IntegrityRefusalError) Error() string {
	return fmt.Sprintf("refusing to overwrite unreadable %s: %v", e.Name, e.Err)
}

func (e *IntegrityRefusalError) Unwrap() error { return e.Err }
