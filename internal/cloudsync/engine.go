// Package cloudsync keeps the editor document in a cloud folder with
// timestamp-based conflict detection, dated backups and OAuth sign-in.
//
// The engine never overwrites a remote document that changed since the last
// successful sync unless the caller forces the write. Conflicts pause
// automatic sync until one of the two resolutions is chosen.
package cloudsync

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mdsync/internal/cloud"
	"mdsync/internal/encryption"
	"mdsync/internal/mdsync"
)

const (
	// DataFileName is the canonical document inside the sync folder.
	DataFileName = "data.json"

	// BackupFolderName is the backup subfolder inside the sync folder.
	BackupFolderName = "backups"

	// DefaultTokenLifetime applies when the callback carries no expires_in.
	DefaultTokenLifetime = 3600 * time.Second

	// SilentReauthTimeout bounds a no-UI reauthorization attempt.
	SilentReauthTimeout = 5 * time.Second
)

// Keys shared by every deployment.
const (
	authKey       = "mdsync-cloud-auth"
	userKey       = "mdsync-cloud-user-info"
	clientIDKey   = "mdsync-cloud-client-id"
	oauthStateKey = "mdsync-cloud-oauth-state"
)

// FolderName is the main sync folder for a deployment.
func FolderName(deployment string) string {
	return fmt.Sprintf("MD-Viewer-Data [%s]", deployment)
}

// LegacyFileName is the single-file layout used before folders existed.
func LegacyFileName(deployment string) string {
	return fmt.Sprintf("MD Viewer Data [%s].json", deployment)
}

func fileIDKey(dep string) string       { return "mdsync-cloud-sync-file-id-" + dep }
func folderIDKey(dep string) string     { return "mdsync-cloud-sync-folder-id-" + dep }
func backupFolderKey(dep string) string { return "mdsync-cloud-backup-folder-id-" + dep }
func lastBackupKey(dep string) string   { return "mdsync-cloud-last-backup-date-" + dep }
func syncStateKey(dep string) string    { return "mdsync-cloud-sync-state-" + dep }

// storedAuth is the persisted token. The token is sealed with the encryptor.
type storedAuth struct {
	SealedToken string    `json:"sealedToken"`
	Expiry      time.Time `json:"expiry"`
}

// syncState is the conflict bookkeeping. It is persisted so a paused
// auto-sync survives restarts until it is explicitly resolved.
type syncState struct {
	LastCloudModified *time.Time `json:"lastCloudModified,omitempty"`
	LastSyncTime      *time.Time `json:"lastSyncTime,omitempty"`
	HasConflict       bool       `json:"hasConflict"`
	ConflictCloudTime *time.Time `json:"conflictCloudTime,omitempty"`
	AutoSyncPaused    bool       `json:"autoSyncPaused"`
}

// Options tune an Engine.
type Options struct {
	// Deployment namespaces storage keys and the remote folder name.
	Deployment string
	// ClientID is the OAuth client. A stored client id takes precedence.
	ClientID    string
	RedirectURI string
	// AuthURL overrides DefaultAuthURL.
	AuthURL string
	// Reauthorizer performs silent reauthorization. Optional.
	Reauthorizer Reauthorizer
	// SilentTimeout overrides SilentReauthTimeout.
	SilentTimeout time.Duration
	// BackendAuth means the backend carries its own credentials (S3, the
	// in-memory backend) and sync does not require an OAuth sign-in.
	BackendAuth bool
}

// Engine is the cloud sync engine for one deployment. Operations are
// serialized; the engine is safe for concurrent use.
type Engine struct {
	kv      mdsync.KVStore
	enc     mdsync.Encryptor
	backend mdsync.CloudBackend
	users   UserInfoFetcher
	clock   mdsync.Clock
	ids     mdsync.IDGenerator
	logger  mdsync.Logger
	opts    Options

	mu             sync.Mutex
	loaded         bool
	token          string
	expiry         time.Time
	user           *cloud.UserInfo
	clientID       string
	fileID         string
	folderID       string
	backupFolderID string
	state          syncState
}

// New creates an Engine. Persisted state is read on first use.
func New(kv mdsync.KVStore, enc mdsync.Encryptor, backend mdsync.CloudBackend, users UserInfoFetcher, clock mdsync.Clock, ids mdsync.IDGenerator, logger mdsync.Logger, opts Options) *Engine {
	if clock == nil {
		clock = mdsync.RealClock{}
	}
	if ids == nil {
		ids = mdsync.UUIDGenerator{}
	}
	if logger == nil {
		logger = mdsync.NewNopLogger()
	}
	if opts.Deployment == "" {
		opts.Deployment = "localhost"
	}
	if opts.AuthURL == "" {
		opts.AuthURL = DefaultAuthURL
	}
	if opts.RedirectURI == "" {
		opts.RedirectURI = DefaultRedirectURI
	}
	if opts.SilentTimeout <= 0 {
		opts.SilentTimeout = SilentReauthTimeout
	}
	return &Engine{
		kv:      kv,
		enc:     enc,
		backend: backend,
		users:   users,
		clock:   clock,
		ids:     ids,
		logger:  logger,
		opts:    opts,
	}
}

// AccessToken returns the current token, or ErrUnauthenticated when there
// is none or it expired. It is the token source for the drive backend.
func (e *Engine) AccessToken() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return "", err
	}
	if e.token == "" {
		return "", mdsync.ErrUnauthenticated
	}
	return e.token, nil
}

func (e *Engine) getString(key string) (string, error) {
	raw, err := e.kv.Get(key)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (e *Engine) putString(key, value string) error {
	if value == "" {
		return e.kv.Delete(key)
	}
	return e.kv.Put(key, []byte(value))
}

func (e *Engine) getJSON(key string, out any) (bool, error) {
	raw, err := e.kv.Get(key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func (e *Engine) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.kv.Put(key, data)
}

// ensureLoadedLocked reads persisted state once. An expired token is
// dropped while the identity and file reference are kept, so that a
// reauthorization resumes against the same remote document.
func (e *Engine) ensureLoadedLocked() error {
	if e.loaded {
		return nil
	}
	dep := e.opts.Deployment

	var err error
	if e.clientID, err = e.getString(clientIDKey); err != nil {
		return fmt.Errorf("loading client id: %w", err)
	}
	if e.clientID == "" {
		e.clientID = e.opts.ClientID
	}

	var user cloud.UserInfo
	ok, err := e.getJSON(userKey, &user)
	if err != nil {
		return fmt.Errorf("loading user info: %w", err)
	}
	if ok {
		e.user = &user
	}

	if e.fileID, err = e.getString(fileIDKey(dep)); err != nil {
		return fmt.Errorf("loading sync file id: %w", err)
	}
	if e.folderID, err = e.getString(folderIDKey(dep)); err != nil {
		return fmt.Errorf("loading sync folder id: %w", err)
	}
	if e.backupFolderID, err = e.getString(backupFolderKey(dep)); err != nil {
		return fmt.Errorf("loading backup folder id: %w", err)
	}
	if _, err := e.getJSON(syncStateKey(dep), &e.state); err != nil {
		return fmt.Errorf("loading sync state: %w", err)
	}

	var auth storedAuth
	ok, err = e.getJSON(authKey, &auth)
	if err != nil {
		return fmt.Errorf("loading token: %w", err)
	}
	e.loaded = true
	if !ok {
		return nil
	}
	if !e.clock.Now().Before(auth.Expiry) {
		e.logger.Info("cloud token expired", "expiry", auth.Expiry)
		return e.clearAuthLocked(false)
	}
	token, err := e.openToken(auth.SealedToken)
	if err != nil {
		return fmt.Errorf("decrypting token: %w", err)
	}
	e.token = token
	e.expiry = auth.Expiry
	return nil
}

func (e *Engine) sealToken(token string) (string, error) {
	sealed, err := encryption.EncryptBytes(e.enc, []byte(token))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Engine) openToken(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	plain, err := encryption.DecryptBytes(e.enc, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (e *Engine) saveTokenLocked(token string, lifetime time.Duration) error {
	sealed, err := e.sealToken(token)
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}
	expiry := e.clock.Now().Add(lifetime)
	if err := e.putJSON(authKey, storedAuth{SealedToken: sealed, Expiry: expiry}); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	e.token = token
	e.expiry = expiry
	return nil
}

// clearAuthLocked drops the token. With all set it also forgets the
// identity, the remote references and the backup marker.
func (e *Engine) clearAuthLocked(all bool) error {
	e.token = ""
	e.expiry = time.Time{}
	if err := e.kv.Delete(authKey); err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}
	if !all {
		return nil
	}

	dep := e.opts.Deployment
	for _, key := range []string{userKey, fileIDKey(dep), folderIDKey(dep), backupFolderKey(dep), lastBackupKey(dep)} {
		if err := e.kv.Delete(key); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}
	}
	e.user = nil
	e.fileID = ""
	e.folderID = ""
	e.backupFolderID = ""
	return nil
}

func (e *Engine) setFileIDLocked(id string) error {
	if err := e.putString(fileIDKey(e.opts.Deployment), id); err != nil {
		return fmt.Errorf("saving sync file id: %w", err)
	}
	e.fileID = id
	return nil
}

func (e *Engine) saveStateLocked() error {
	if err := e.putJSON(syncStateKey(e.opts.Deployment), e.state); err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return nil
}

// Status is a snapshot of the engine's connection and conflict state.
type Status struct {
	Connected            bool
	NeedsReauthorization bool
	User                 *cloud.UserInfo
	ClientID             string
	HasSyncFile          bool
	TokenExpiry          *time.Time
	LastSyncTime         *time.Time
	LastCloudModified    *time.Time
	HasConflict          bool
	ConflictCloudTime    *time.Time
	AutoSyncPaused       bool
}

func (e *Engine) Status() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return Status{}, err
	}
	s := Status{
		Connected:            e.token != "" && e.user != nil,
		NeedsReauthorization: e.user != nil && e.token == "",
		ClientID:             e.clientID,
		HasSyncFile:          e.fileID != "",
		LastSyncTime:         e.state.LastSyncTime,
		LastCloudModified:    e.state.LastCloudModified,
		HasConflict:          e.state.HasConflict,
		ConflictCloudTime:    e.state.ConflictCloudTime,
		AutoSyncPaused:       e.state.AutoSyncPaused,
	}
	if e.user != nil {
		u := *e.user
		s.User = &u
	}
	if e.token != "" {
		exp := e.expiry
		s.TokenExpiry = &exp
	}
	return s, nil
}

// SetClientID stores the OAuth client id.
func (e *Engine) SetClientID(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return err
	}
	if err := e.putString(clientIDKey, id); err != nil {
		return fmt.Errorf("saving client id: %w", err)
	}
	e.clientID = id
	return nil
}

// SignOut forgets the token, the identity and every remote reference.
func (e *Engine) SignOut() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return err
	}
	if err := e.clearAuthLocked(true); err != nil {
		return err
	}
	e.state = syncState{}
	if err := e.kv.Delete(syncStateKey(e.opts.Deployment)); err != nil {
		return fmt.Errorf("clearing sync state: %w", err)
	}
	e.logger.Info("signed out of cloud sync")
	return nil
}

// ClearSyncFile forgets the remote document reference without signing out.
func (e *Engine) ClearSyncFile() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return err
	}
	return e.setFileIDLocked("")
}

// ClearConflict drops the conflict flags and resumes automatic sync.
func (e *Engine) ClearConflict() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return err
	}
	return e.clearConflictLocked()
}

func (e *Engine) clearConflictLocked() error {
	e.state.HasConflict = false
	e.state.ConflictCloudTime = nil
	e.state.AutoSyncPaused = false
	return e.saveStateLocked()
}

func (e *Engine) markConflictLocked(remote time.Time) error {
	e.state.HasConflict = true
	e.state.ConflictCloudTime = &remote
	e.state.AutoSyncPaused = true
	return e.saveStateLocked()
}
