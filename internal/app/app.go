package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"mdsync/internal/binding"
	"mdsync/internal/cloud"
	"mdsync/internal/cloudsync"
	"mdsync/internal/config"
	"mdsync/internal/credstore"
	"mdsync/internal/database"
	"mdsync/internal/encryption"
	"mdsync/internal/fs"
	"mdsync/internal/fsadapter"
	"mdsync/internal/github"
	"mdsync/internal/gitsync"
	"mdsync/internal/mdsync"
	"mdsync/internal/registry"
	"mdsync/internal/tabs"
)

// Options tune NewApp.
type Options struct {
	// Operation identifies the CLI command being run (e.g. "GitSync").
	Operation string
	// Verbose copies debug records to stderr.
	Verbose bool
	// Clock and IDs default to the real clock and UUIDs.
	Clock mdsync.Clock
	IDs   mdsync.IDGenerator
}

// App is the application layer between the CLI and the sync engines.
// It constructs all dependencies from config, exposes high-level operations
// that accept vault names and raw paths, records sync history, and manages
// the DB lifecycle on Close.
type App struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	enc       mdsync.Encryptor
	logger    mdsync.Logger
	clock     mdsync.Clock
	adapters  *fsadapter.Cache
	creds     *credstore.Store
	github    *github.Client
	git       *gitsync.Engine
	registry  *registry.Registry
	tabs      *tabs.Store
	binder    *binding.Binder
	cloud     *cloudsync.Engine
	operation string
	logFile   *os.File

	reconnectOnce sync.Once
	reconnected   *registry.ReconnectResult
	reconnectErr  error
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	clock := opts.Clock
	if clock == nil {
		clock = mdsync.RealClock{}
	}
	ids := opts.IDs
	if ids == nil {
		ids = mdsync.UUIDGenerator{}
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	opID := clock.Now().UTC().Format("20060102T150405Z")
	sl, logFile, err := newLogger(cfg.LogDir, opID, opts.Verbose)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	a := &App{
		cfg:       cfg,
		db:        db,
		enc:       enc,
		logger:    logger,
		clock:     clock,
		adapters:  fsadapter.NewCache(clock),
		operation: opts.Operation,
		logFile:   logFile,
	}

	a.creds = credstore.New(db, enc, clock, logger)
	a.github = github.NewClient(cfg.Git.APIBaseURL, a.gitToken)
	a.git = gitsync.New(a.creds, a.adapters, a.github, clock, logger, gitsync.Options{
		ProxyURL:      cfg.Git.ProxyURL,
		DefaultBranch: cfg.Git.DefaultBranch,
		AuthorName:    cfg.Git.AuthorName,
		AuthorEmail:   cfg.Git.AuthorEmail,
	})
	a.registry = registry.New(db, fs.Opener{}, a.adapters, clock, ids, logger,
		registry.Options{Ignore: cfg.Filesystem.Ignore})

	a.tabs = tabs.NewStore(db, clock, ids)
	if err := a.tabs.Initialize(); err != nil {
		a.Close()
		return nil, fmt.Errorf("loading tabs: %w", err)
	}
	a.binder = binding.New(a.registry, a.tabs, db, logger)
	a.tabs.OnChange(a.binder.Prune)
	if err := a.binder.Load(); err != nil {
		logger.Warn("restoring tab bindings failed", "error", err)
	}

	// The drive backend asks the engine for its token on every request, so
	// the engine is referenced before it exists.
	var engine *cloudsync.Engine
	token := func() (string, error) { return engine.AccessToken() }
	backend, err := cloud.NewBackendFromConfig(ctx, cfg.Cloud, token, clock)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating cloud backend: %w", err)
	}
	engine = cloudsync.New(db, enc, backend, cloud.NewDrive(cfg.Cloud.APIBaseURL, token), clock, ids, logger, cloudsync.Options{
		Deployment:  cfg.Deployment,
		ClientID:    cfg.Cloud.ClientID,
		RedirectURI: cfg.Cloud.RedirectURI,
		BackendAuth: cfg.Cloud.Type == "s3" || cfg.Cloud.Type == "memory",
	})
	a.cloud = engine

	logger.Debug("app started", "operation", opts.Operation, "host", cfg.HostID)
	return a, nil
}

func (a *App) gitToken() (string, error) {
	c, err := a.creds.Credentials()
	if err != nil {
		return "", err
	}
	if c == nil || c.Token == "" {
		return "", fmt.Errorf("no git credentials: %w", mdsync.ErrUnauthenticated)
	}
	return c.Token, nil
}

// Logger returns the app logger.
func (a *App) Logger() mdsync.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// track records one sync-affecting operation around run. run returns the
// result outcome and a message for the history entry.
func (a *App) track(kind, vaultID string, run func() (outcome, message string)) error {
	op := NewOperation(kind, vaultID)
	if err := op.start(a.db, a.clock.Now()); err != nil {
		return err
	}
	outcome, message := run()
	return op.finish(a.db, historyStatus(outcome), message, a.clock.Now())
}

// History returns the most recent sync operations, for one vault or all
// when vault is empty. vault may be an id or a name.
func (a *App) History(vault string, limit int) ([]*mdsync.SyncOperation, error) {
	vaultID := vault
	if vault != "" {
		// Removed vaults keep their history under the raw id.
		if id, _, err := a.resolveAny(vault); err == nil {
			vaultID = id
		}
	}
	return a.db.ListSyncOperations(vaultID, limit)
}

// LastSyncTime returns when the vault last completed a full git sync, or
// nil when it never did.
func (a *App) LastSyncTime(vaultID string) (*time.Time, error) {
	return a.db.LastSuccessfulSync(vaultID, mdsync.OpGitSync)
}

// Close flushes the tab document and closes all resources.
func (a *App) Close() error {
	var firstErr error
	if a.tabs != nil {
		if err := a.tabs.Save(); err != nil {
			firstErr = fmt.Errorf("saving tabs: %w", err)
		}
	}
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
