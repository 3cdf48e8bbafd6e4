package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"

	"mdsync/internal/config"
	"mdsync/internal/mdsync"
)

// AgeEncryptor implements mdsync.Encryptor using filippo.io/age with an
// X25519 identity. The identity file is readable only by its owner and is
// the single secret protecting every stored token.
type AgeEncryptor struct {
	keyPath string

	mu       sync.Mutex
	identity *age.X25519Identity
}

var _ mdsync.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates a new AgeEncryptor from configuration.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{keyPath: cfg.KeyPath}
}

// Setup generates a new X25519 identity and writes it with mode 0600.
// It refuses to replace an existing identity, since that would make every
// stored token unreadable.
func (e *AgeEncryptor) Setup() error {
	if _, err := os.Stat(e.keyPath); err == nil {
		return fmt.Errorf("key already exists at %s", e.keyPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(e.keyPath), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.WriteFile(e.keyPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}

	e.mu.Lock()
	e.identity = identity
	e.mu.Unlock()
	return nil
}

// IsConfigured returns true if the identity file exists.
func (e *AgeEncryptor) IsConfigured() bool {
	_, err := os.Stat(e.keyPath)
	return err == nil
}

// Encrypt reads plaintext from r and writes age ciphertext to w.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	identity, err := e.loadIdentity()
	if err != nil {
		return err
	}

	encWriter, err := age.Encrypt(w, identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}

	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}

	return nil
}

// Decrypt reads age ciphertext from r and writes plaintext to w.
func (e *AgeEncryptor) Decrypt(r io.Reader, w io.Writer) error {
	identity, err := e.loadIdentity()
	if err != nil {
		return err
	}

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}

	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}

	return nil
}

// loadIdentity reads and caches the identity file.
func (e *AgeEncryptor) loadIdentity() (*age.X25519Identity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.identity != nil {
		return e.identity, nil
	}

	data, err := os.ReadFile(e.keyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no identity at %s: %w", e.keyPath, mdsync.ErrNotConfigured)
		}
		return nil, fmt.Errorf("reading identity: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			e.identity = x
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity found in %s", e.keyPath)
}
