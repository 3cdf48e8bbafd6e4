package credstore

import "time"

// Storage keys shared with every vault.
const (
	CredentialsKey  = "md-viewer-git-credentials"
	VaultConfigsKey = "md-viewer-vault-git-configs"
)

// Credentials authenticate git transport and the hosting API, and name the
// commit author.
type Credentials struct {
	Token     string
	UserName  string
	UserEmail string
}

// RemoteConfig names the single remote a vault syncs with.
type RemoteConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// CommitMessageStyle selects how commit messages are generated.
type CommitMessageStyle string

const (
	StyleAI        CommitMessageStyle = "ai"
	StyleSmart     CommitMessageStyle = "smart"
	StyleTimestamp CommitMessageStyle = "timestamp"
	StyleCustom    CommitMessageStyle = "custom"
)

// CoexistenceMode controls behavior when a foreign git plugin also manages
// the vault.
type CoexistenceMode string

const (
	CoexistAuto     CoexistenceMode = "auto"
	CoexistFull     CoexistenceMode = "full"
	CoexistPullOnly CoexistenceMode = "pull-only"
)

// DefaultCommitTemplate is used when the custom style has no template.
const DefaultCommitTemplate = "vault backup: {{date}}"

// SyncSettings are per-vault preferences.
type SyncSettings struct {
	AutoSyncEnabled       bool               `json:"autoSyncEnabled"`
	AutoSyncInterval      int                `json:"autoSyncInterval"`
	AutoPullOnStartup     bool               `json:"autoPullOnStartup"`
	CommitMessageStyle    CommitMessageStyle `json:"commitMessageStyle"`
	CommitMessageTemplate string             `json:"commitMessageTemplate"`
	ObsidianGitMode       CoexistenceMode    `json:"obsidianGitMode"`
}

// DefaultSyncSettings returns the settings a new vault starts with.
func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		AutoSyncInterval:      5,
		CommitMessageStyle:    StyleSmart,
		CommitMessageTemplate: DefaultCommitTemplate,
		ObsidianGitMode:       CoexistAuto,
	}
}

// normalize fills zero values left by older stored documents.
func (s *SyncSettings) normalize() {
	def := DefaultSyncSettings()
	if s.AutoSyncInterval <= 0 {
		s.AutoSyncInterval = def.AutoSyncInterval
	}
	if s.AutoSyncInterval > 60 {
		s.AutoSyncInterval = 60
	}
	switch s.CommitMessageStyle {
	case StyleAI, StyleSmart, StyleTimestamp, StyleCustom:
	default:
		s.CommitMessageStyle = def.CommitMessageStyle
	}
	if s.CommitMessageTemplate == "" {
		s.CommitMessageTemplate = def.CommitMessageTemplate
	}
	switch s.ObsidianGitMode {
	case CoexistAuto, CoexistFull, CoexistPullOnly:
	default:
		s.ObsidianGitMode = def.ObsidianGitMode
	}
}

// SyncStatus is the per-vault state machine position.
type SyncStatus string

const (
	StatusIdle       SyncStatus = "idle"
	StatusSyncing    SyncStatus = "syncing"
	StatusPulling    SyncStatus = "pulling"
	StatusPushing    SyncStatus = "pushing"
	StatusCommitting SyncStatus = "committing"
	StatusError      SyncStatus = "error"
	StatusConflict   SyncStatus = "conflict"
)

// InFlight reports whether s marks a running operation.
func (s SyncStatus) InFlight() bool {
	switch s {
	case StatusSyncing, StatusPulling, StatusPushing, StatusCommitting:
		return true
	}
	return false
}

// VaultStatus is derived repository state. It is never persisted.
type VaultStatus struct {
	IsGitRepo          bool
	HasRemote          bool
	CurrentBranch      string
	ChangedFilesCount  int
	HasUnpushedCommits bool
	LastSyncTime       *time.Time
	SyncStatus         SyncStatus
	ErrorMessage       string
	HasObsidianGit     bool
}

// DefaultVaultStatus is the status every vault has after load.
func DefaultVaultStatus() VaultStatus {
	return VaultStatus{SyncStatus: StatusIdle}
}

// VaultConfig is one vault's git configuration.
type VaultConfig struct {
	VaultID      string        `json:"vaultId"`
	VaultName    string        `json:"vaultName"`
	Remote       *RemoteConfig `json:"remote"`
	SyncSettings SyncSettings  `json:"syncSettings"`
	Status       VaultStatus   `json:"-"`
}

func (c *VaultConfig) clone() VaultConfig {
	out := *c
	if c.Remote != nil {
		r := *c.Remote
		out.Remote = &r
	}
	if c.Status.LastSyncTime != nil {
		t := *c.Status.LastSyncTime
		out.Status.LastSyncTime = &t
	}
	return out
}
