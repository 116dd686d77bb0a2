package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"nbassist/config"
	"nbassist/internal/agent"
	"nbassist/internal/agentrun"
	"nbassist/internal/api"
	"nbassist/internal/chat"
	"nbassist/internal/credentials"
	"nbassist/internal/logger"
	"nbassist/internal/transcript"
)

// Options are the persistent flags shared by every command.
type Options struct {
	ConfigPath string
	BaseURL    string
	Token      string
	NotebookID string
	Model      string
	LogLevel   string
	Verbose    bool
	NoRecord   bool
}

// App holds the clients built from configuration for one invocation.
type App struct {
	Config     config.Client
	ConfigPath string
	Log        *zap.Logger
	API        *api.Client
	Agent      *agent.Client

	// Transcripts is nil when recording is off or the database failed to open.
	Transcripts *transcript.Store

	opts Options
}

// NewApp loads configuration and builds the API clients. Flags win over
// the environment, which wins over the config file.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	if err := config.LoadDotenv(); err != nil {
		return nil, err
	}

	path := opts.ConfigPath
	if path == "" {
		p, err := config.GetConfigFile()
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyFlags(&cfg, opts)
	if err := config.ValidateBaseURL(cfg.API.BaseURL); err != nil {
		return nil, err
	}

	logFile := cfg.Log.File
	if logFile == "" {
		if p, err := config.GetLogPath(); err == nil {
			logFile = p
		}
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, File: logFile, Console: cfg.Log.Console})
	if err != nil {
		return nil, err
	}

	apiClient := api.New(cfg.API.BaseURL,
		api.WithTimeout(cfg.API.Timeout),
		api.WithCredentials(tokenProvider(opts.Token)),
		api.WithLogger(log.Named("api")),
	)

	app := &App{
		Config:     cfg,
		ConfigPath: path,
		Log:        log,
		API:        apiClient,
		Agent:      agent.NewClient(apiClient, agent.WithLogger(log.Named("agent"))),
		opts:       opts,
	}

	if cfg.Agent.Record && !opts.NoRecord {
		dbPath, err := config.GetDatabasePath()
		if err == nil {
			app.Transcripts, err = transcript.Open(ctx, dbPath, log.Named("transcript"))
		}
		if err != nil {
			log.Warn("transcripts disabled", zap.Error(err))
		}
	}

	log.Debug("client configured",
		zap.String("config", path),
		zap.String("base_url", cfg.API.BaseURL),
		zap.String("notebook_id", cfg.Agent.NotebookID),
	)
	return app, nil
}

func applyFlags(cfg *config.Client, opts Options) {
	if v := strings.TrimSpace(opts.BaseURL); v != "" {
		cfg.API.BaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(opts.NotebookID); v != "" {
		cfg.Agent.NotebookID = v
	}
	if v := strings.TrimSpace(opts.Model); v != "" {
		cfg.Agent.ModelOverride = v
	}
	if v := strings.TrimSpace(opts.LogLevel); v != "" {
		cfg.Log.Level = v
	}
	if opts.Verbose {
		cfg.Log.Console = true
		if opts.LogLevel == "" {
			cfg.Log.Level = "debug"
		}
	}
}

// tokenProvider prefers the flag, then NBASSIST_TOKEN, then the keyring.
func tokenProvider(flag string) credentials.Provider {
	return credentials.Chain{credentials.Static(flag), credentials.APIToken}
}

// withToken returns a copy of a whose clients authenticate with token only.
func (a *App) withToken(token string) *App {
	apiClient := api.New(a.Config.API.BaseURL,
		api.WithTimeout(a.Config.API.Timeout),
		api.WithCredentials(credentials.Static(token)),
		api.WithLogger(a.Log.Named("api")),
	)
	probe := *a
	probe.API = apiClient
	probe.Agent = agent.NewClient(apiClient, agent.WithLogger(a.Log.Named("agent")))
	return &probe
}

// NotebookID returns the configured notebook or an error naming the flag.
func (a *App) NotebookID() (string, error) {
	if a.Config.Agent.NotebookID == "" {
		return "", errors.New("no notebook selected (use --notebook or set " + config.EnvNotebook + ")")
	}
	return a.Config.Agent.NotebookID, nil
}

// NewController builds an agent run controller bound to this app's clients.
func (a *App) NewController(threadID string) *agentrun.Controller {
	opts := []agentrun.Option{
		agentrun.WithDiscoverer(a.Agent),
		agentrun.WithLogger(a.Log.Named("run")),
		agentrun.WithNotebook(a.Config.Agent.NotebookID),
	}
	if key, err := credentials.ProviderKey.Value(); err != nil {
		a.Log.Warn("provider key unavailable", zap.Error(err))
	} else if key != "" {
		opts = append(opts, agentrun.WithProviderKey(key))
	}
	if threadID != "" {
		opts = append(opts, agentrun.WithThreadID(threadID))
	}
	if a.Transcripts != nil {
		opts = append(opts, agentrun.WithRecorder(a.Transcripts))
	}
	return agentrun.New(a.Agent, opts...)
}

// NewChatManager builds a session manager for notebookID.
func (a *App) NewChatManager(notebookID string, notifier chat.Notifier) *chat.Manager {
	return chat.NewManager(a.API, notebookID,
		chat.WithLogger(a.Log.Named("chat")),
		chat.WithNotifier(notifier),
	)
}

func (a *App) Close() error {
	var errs []error
	if a.Transcripts != nil {
		errs = append(errs, a.Transcripts.Close())
	}
	// Sync reports EINVAL for terminals.
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
