package testutil

import (
	"mdsync/internal/encryption"
	"mdsync/internal/mdsync"
)

// NewTestEncryptor returns the deterministic header-prefix encryptor.
func NewTestEncryptor() mdsync.Encryptor {
	return encryption.NewTestEncryptor()
}
