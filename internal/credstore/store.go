// Package credstore persists git credentials and per-vault remote
// configuration, and tracks which vaults have an operation in flight.
package credstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"mdsync/internal/encryption"
	"mdsync/internal/mdsync"
)

// storedCredentials is the persisted shape. The token is sealed with the
// encryptor and base64 encoded.
type storedCredentials struct {
	SealedToken string `json:"sealedToken"`
	UserName    string `json:"userName"`
	UserEmail   string `json:"userEmail"`
}

// Store is the process-wide credential and remote-config store. State is
// loaded from the KV store on first use.
type Store struct {
	kv     mdsync.KVStore
	enc    mdsync.Encryptor
	clock  mdsync.Clock
	logger mdsync.Logger

	mu          sync.Mutex
	loaded      bool
	credentials *Credentials
	configs     map[string]*VaultConfig
	active      map[string]struct{}
}

// New creates a Store. Nothing is read until the first call.
func New(kv mdsync.KVStore, enc mdsync.Encryptor, clock mdsync.Clock, logger mdsync.Logger) *Store {
	if clock == nil {
		clock = mdsync.RealClock{}
	}
	if logger == nil {
		logger = mdsync.NewNopLogger()
	}
	return &Store{
		kv:      kv,
		enc:     enc,
		clock:   clock,
		logger:  logger,
		configs: map[string]*VaultConfig{},
		active:  map[string]struct{}{},
	}
}

// ensureLoadedLocked reads persisted state once. Malformed state is returned
// as an error rather than silently replaced.
func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}

	raw, err := s.kv.Get(CredentialsKey)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	if raw != nil {
		var stored storedCredentials
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("decoding credentials: %w", err)
		}
		token, err := s.openToken(stored.SealedToken)
		if err != nil {
			return fmt.Errorf("decrypting credentials: %w", err)
		}
		s.credentials = &Credentials{Token: token, UserName: stored.UserName, UserEmail: stored.UserEmail}
	}

	raw, err = s.kv.Get(VaultConfigsKey)
	if err != nil {
		return fmt.Errorf("loading vault configs: %w", err)
	}
	configs := map[string]*VaultConfig{}
	if raw != nil {
		if err := json.Unmarshal(raw, &configs); err != nil {
			return fmt.Errorf("decoding vault configs: %w", err)
		}
	}
	for id, cfg := range configs {
		if cfg == nil {
			delete(configs, id)
			continue
		}
		cfg.VaultID = id
		cfg.SyncSettings.normalize()
		cfg.Status = DefaultVaultStatus()
	}
	s.configs = configs
	s.loaded = true
	s.logger.Debug("credential store loaded", "vaults", len(configs), "has_credentials", s.credentials != nil)
	return nil
}

func (s *Store) sealToken(token string) (string, error) {
	sealed, err := encryption.EncryptBytes(s.enc, []byte(token))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Store) openToken(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	plain, err := encryption.DecryptBytes(s.enc, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (s *Store) saveCredentialsLocked() error {
	if s.credentials == nil {
		if err := s.kv.Delete(CredentialsKey); err != nil {
			return fmt.Errorf("clearing credentials: %w", err)
		}
		return nil
	}
	sealed, err := s.sealToken(s.credentials.Token)
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}
	data, err := json.Marshal(storedCredentials{
		SealedToken: sealed,
		UserName:    s.credentials.UserName,
		UserEmail:   s.credentials.UserEmail,
	})
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := s.kv.Put(CredentialsKey, data); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// saveConfigsLocked persists configs. Status is tagged json:"-" so it never
// reaches storage.
func (s *Store) saveConfigsLocked() error {
	data, err := json.Marshal(s.configs)
	if err != nil {
		return fmt.Errorf("encoding vault configs: %w", err)
	}
	if err := s.kv.Put(VaultConfigsKey, data); err != nil {
		return fmt.Errorf("saving vault configs: %w", err)
	}
	return nil
}

// Credentials returns the stored credentials, or nil when none are set.
func (s *Store) Credentials() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	if s.credentials == nil {
		return nil, nil
	}
	c := *s.credentials
	return &c, nil
}

// HasCredentials reports whether a non-empty token is stored.
func (s *Store) HasCredentials() (bool, error) {
	c, err := s.Credentials()
	if err != nil {
		return false, err
	}
	return c != nil && c.Token != "", nil
}

func (s *Store) SetCredentials(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	s.credentials = &c
	return s.saveCredentialsLocked()
}

func (s *Store) ClearCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	s.credentials = nil
	return s.saveCredentialsLocked()
}

// VaultConfig returns the config for vaultID, creating a default one in
// memory if the vault has none. The returned value is a copy.
func (s *Store) VaultConfig(vaultID, vaultName string) (VaultConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return VaultConfig{}, err
	}
	return s.vaultConfigLocked(vaultID, vaultName).clone(), nil
}

// FindVaultConfig returns the config for vaultID and whether it exists.
func (s *Store) FindVaultConfig(vaultID string) (VaultConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return VaultConfig{}, false, err
	}
	cfg, ok := s.configs[vaultID]
	if !ok {
		return VaultConfig{}, false, nil
	}
	return cfg.clone(), true, nil
}

func (s *Store) vaultConfigLocked(vaultID, vaultName string) *VaultConfig {
	cfg, ok := s.configs[vaultID]
	if !ok {
		cfg = &VaultConfig{
			VaultID:      vaultID,
			VaultName:    vaultName,
			SyncSettings: DefaultSyncSettings(),
			Status:       DefaultVaultStatus(),
		}
		s.configs[vaultID] = cfg
	}
	return cfg
}

// VaultConfigs returns all configs ordered by vault name.
func (s *Store) VaultConfigs() ([]VaultConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]VaultConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VaultName != out[j].VaultName {
			return out[i].VaultName < out[j].VaultName
		}
		return out[i].VaultID < out[j].VaultID
	})
	return out, nil
}

// GitEnabledVaults returns configs whose last inspected status was a repo.
func (s *Store) GitEnabledVaults() ([]VaultConfig, error) {
	all, err := s.VaultConfigs()
	if err != nil {
		return nil, err
	}
	var out []VaultConfig
	for _, cfg := range all {
		if cfg.Status.IsGitRepo {
			out = append(out, cfg)
		}
	}
	return out, nil
}

// UpdateVaultStatus applies fn to the in-memory status of vaultID. Status
// is never persisted. Unknown vaults are ignored.
func (s *Store) UpdateVaultStatus(vaultID string, fn func(*VaultStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		s.logger.Warn("status update skipped", "vault", vaultID, "error", err)
		return
	}
	if cfg, ok := s.configs[vaultID]; ok {
		fn(&cfg.Status)
	}
}

// UpdateSyncSettings applies fn to the vault's settings and persists them.
func (s *Store) UpdateSyncSettings(vaultID string, fn func(*SyncSettings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	cfg, ok := s.configs[vaultID]
	if !ok {
		return fmt.Errorf("vault %s: %w", vaultID, mdsync.ErrNotConfigured)
	}
	fn(&cfg.SyncSettings)
	cfg.SyncSettings.normalize()
	return s.saveConfigsLocked()
}

// SetVaultRemote records the remote for vaultID, creating its config.
func (s *Store) SetVaultRemote(vaultID, vaultName, url, name string) error {
	if name == "" {
		name = "origin"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	cfg := s.vaultConfigLocked(vaultID, vaultName)
	cfg.Remote = &RemoteConfig{Name: name, URL: url}
	cfg.Status.HasRemote = true
	return s.saveConfigsLocked()
}

// ClearVaultRemote forgets the remote and resets the derived status.
func (s *Store) ClearVaultRemote(vaultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	cfg, ok := s.configs[vaultID]
	if !ok {
		return nil
	}
	cfg.Remote = nil
	cfg.Status = DefaultVaultStatus()
	delete(s.active, vaultID)
	return s.saveConfigsLocked()
}

func (s *Store) RemoveVaultConfig(vaultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	delete(s.configs, vaultID)
	delete(s.active, vaultID)
	return s.saveConfigsLocked()
}

// SetSyncStatus moves vaultID to status. In-flight statuses mark the vault
// busy; any other status releases it.
func (s *Store) SetSyncStatus(vaultID string, status SyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSyncStatusLocked(vaultID, status)
}

func (s *Store) setSyncStatusLocked(vaultID string, status SyncStatus) {
	if cfg, ok := s.configs[vaultID]; ok {
		cfg.Status.SyncStatus = status
	}
	if status.InFlight() {
		s.active[vaultID] = struct{}{}
	} else {
		delete(s.active, vaultID)
	}
}

// TryBegin marks vaultID busy with status, failing with ErrVaultBusy when an
// operation is already in flight.
func (s *Store) TryBegin(vaultID string, status SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[vaultID]; busy {
		return fmt.Errorf("vault %s: %w", vaultID, mdsync.ErrVaultBusy)
	}
	s.setSyncStatusLocked(vaultID, status)
	return nil
}

// SetError records msg and moves the vault to error, or to idle when msg is
// empty.
func (s *Store) SetError(vaultID, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[vaultID]; ok {
		cfg.Status.ErrorMessage = msg
		if msg != "" {
			cfg.Status.SyncStatus = StatusError
		} else {
			cfg.Status.SyncStatus = StatusIdle
		}
	}
	delete(s.active, vaultID)
}

// ClearError returns the vault to idle and drops the last error message.
func (s *Store) ClearError(vaultID string) {
	s.SetError(vaultID, "")
}

// SetConflict moves the vault to the conflict status with msg.
func (s *Store) SetConflict(vaultID, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[vaultID]; ok {
		cfg.Status.ErrorMessage = msg
		cfg.Status.SyncStatus = StatusConflict
	}
	delete(s.active, vaultID)
}

// RecordSync stamps a successful sync and clears any previous error.
func (s *Store) RecordSync(vaultID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[vaultID]; ok {
		now := s.clock.Now()
		cfg.Status.LastSyncTime = &now
		cfg.Status.SyncStatus = StatusIdle
		cfg.Status.ErrorMessage = ""
	}
	delete(s.active, vaultID)
}

func (s *Store) IsVaultSyncing(vaultID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[vaultID]
	return ok
}
