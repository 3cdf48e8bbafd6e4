package encryption

import (
	"bytes"
	"testing"
)

func TestTestEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	if err := e.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.setupCalled {
		t.Error("Setup() did not record that it was called")
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false, want true")
	}
}

func TestTestEncryptor_EncryptDecrypt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewTestEncryptor()
			sealed, err := EncryptBytes(e, tt.input)
			if err != nil {
				t.Fatalf("EncryptBytes() error = %v", err)
			}
			if bytes.Equal(sealed, tt.input) {
				t.Error("encrypted output is identical to plaintext")
			}
			if !bytes.HasPrefix(sealed, testHeader) {
				t.Error("encrypted output missing header")
			}

			opened, err := DecryptBytes(e, sealed)
			if err != nil {
				t.Fatalf("DecryptBytes() error = %v", err)
			}
			if !bytes.Equal(opened, tt.input) {
				t.Errorf("DecryptBytes() = %q, want %q", opened, tt.input)
			}
		})
	}
}

func TestTestEncryptor_Deterministic(t *testing.T) {
	t.Parallel()
	e := NewTestEncryptor()
	a, _ := EncryptBytes(e, []byte("same"))
	b, _ := EncryptBytes(e, []byte("same"))
	if !bytes.Equal(a, b) {
		t.Error("two encryptions of the same input differ")
	}
}

func TestTestEncryptor_InvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "wrong header", input: []byte("NOTENC\x00\x00payload")},
		{name: "truncated header", input: []byte("MDS")},
		{name: "empty", input: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := DecryptBytes(NewTestEncryptor(), tt.input); err == nil {
				t.Error("DecryptBytes() succeeded, want error")
			}
		})
	}
}
