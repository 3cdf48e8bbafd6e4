package mdsync

import "io"

// Encryptor protects secrets (tokens) before they reach the KV store.
type Encryptor interface {
	// Setup creates key material. It fails if keys already exist.
	Setup() error

	// IsConfigured reports whether key material exists.
	IsConfigured() bool

	Encrypt(r io.Reader, w io.Writer) error
	Decrypt(r io.Reader, w io.Writer) error
}
