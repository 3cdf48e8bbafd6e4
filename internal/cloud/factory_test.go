package cloud

import (
	"context"
	"strings"
	"testing"

	"mdsync/internal/config"
	"mdsync/internal/testutil"
)

func TestNewBackendFromConfig(t *testing.T) {
	t.Parallel()
	token := func() (string, error) { return "tok", nil }

	tests := []struct {
		name    string
		cfg     config.CloudConfig
		token   TokenFunc
		wantErr string
		check   func(t *testing.T, b any)
	}{
		{
			name: "memory",
			cfg:  config.CloudConfig{Type: "memory"},
			check: func(t *testing.T, b any) {
				if _, ok := b.(*MemoryBackend); !ok {
					t.Errorf("backend = %T, want *MemoryBackend", b)
				}
			},
		},
		{
			name:  "drive default",
			cfg:   config.CloudConfig{},
			token: token,
			check: func(t *testing.T, b any) {
				if _, ok := b.(*Drive); !ok {
					t.Errorf("backend = %T, want *Drive", b)
				}
			},
		},
		{name: "drive without token", cfg: config.CloudConfig{Type: "drive"}, wantErr: "token source"},
		{name: "s3 without bucket", cfg: config.CloudConfig{Type: "s3"}, wantErr: "s3_bucket"},
		{name: "unknown", cfg: config.CloudConfig{Type: "ftp"}, wantErr: "unknown cloud type: ftp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := NewBackendFromConfig(context.Background(), tt.cfg, tt.token, testutil.FixedClock())
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, b)
		})
	}
}
