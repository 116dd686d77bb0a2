package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"nbassist/config"
	"nbassist/internal/agent"
	"nbassist/internal/credentials"
	"nbassist/internal/transcript"
)

type Status string

const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

type CheckResult struct {
	Name    string
	Status  Status
	Summary string
	Details []string
	Actions []string
}

type Report struct {
	Checks []CheckResult
}

func (r Report) HasFailures() bool {
	for _, check := range r.Checks {
		if check.Status == StatusFail {
			return true
		}
	}
	return false
}

func (r Report) ExitCode() int {
	if r.HasFailures() {
		return 1
	}
	return 0
}

// Prober lists the agent's models; a successful call proves the API is
// reachable and accepts the token.
type Prober interface {
	Models(ctx context.Context) (agent.Models, error)
}

// Options locate what the checks inspect. Zero values fall back to the
// default config locations and the system keyring.
type Options struct {
	ConfigPath   string
	DatabasePath string
	BaseURL      string
	API          Prober
	// HasToken reports whether an API token is available.
	HasToken func() (bool, error)
	Timeout  time.Duration
}

func GenerateReport(ctx context.Context, opts Options) Report {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HasToken == nil {
		opts.HasToken = func() (bool, error) {
			_, _, err := credentials.APIToken.Lookup()
			if errors.Is(err, credentials.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		}
	}

	var checks []CheckResult
	checks = append(checks, checkMetadata())

	configResult, cfg := checkConfig(opts.ConfigPath)
	checks = append(checks, configResult)

	checks = append(checks, checkCredentials(opts.HasToken))
	checks = append(checks, checkAPI(ctx, opts, cfg))
	checks = append(checks, checkDataStore(ctx, opts.DatabasePath, cfg))

	return Report{Checks: checks}
}

func checkMetadata() CheckResult {
	result := CheckResult{Name: "Runtime Metadata", Status: StatusOK}

	execPath, err := os.Executable()
	if err != nil {
		result.Status = StatusWarn
		result.Summary = "Could not resolve executable path"
		result.Details = append(result.Details, err.Error())
		return result
	}

	buildInfo, ok := debug.ReadBuildInfo()
	summaryParts := []string{fmt.Sprintf("go runtime %s", runtime.Version())}
	if ok && buildInfo != nil && buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
		summaryParts = append(summaryParts, fmt.Sprintf("module %s", buildInfo.Main.Version))
	}

	result.Summary = strings.Join(summaryParts, ", ")
	result.Details = append(result.Details,
		fmt.Sprintf("Executable: %s", execPath),
		fmt.Sprintf("OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH),
	)
	if ok && buildInfo != nil {
		for _, setting := range buildInfo.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				result.Details = append(result.Details, fmt.Sprintf("VCS Revision: %s", setting.Value))
			}
		}
	}
	return result
}

func checkConfig(path string) (CheckResult, *config.Client) {
	result := CheckResult{Name: "Configuration", Status: StatusOK}

	if path == "" {
		p, err := config.GetConfigFile()
		if err != nil {
			result.Status = StatusFail
			result.Summary = "Unable to resolve config directory"
			result.Details = append(result.Details, err.Error())
			result.Actions = append(result.Actions, "verify HOME is set or set "+config.DirEnv)
			return result, nil
		}
		path = p
	}
	result.Details = append(result.Details, fmt.Sprintf("Config file: %s", path))

	if err := checkDirWritable(filepath.Dir(path)); err != nil {
		result.Status = StatusWarn
		result.Details = append(result.Details, fmt.Sprintf("Directory not writable: %v", err))
		result.Actions = append(result.Actions, "adjust permissions so nbassist can write its config")
	}

	cfg, err := config.Load(path)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Failed to parse config.yaml"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "fix YAML syntax in config.yaml")
		return result, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if result.Status == StatusOK {
			result.Status = StatusWarn
		}
		result.Summary = "config.yaml not found, using defaults"
		result.Actions = append(result.Actions, "run 'nb config init' to write one")
	} else {
		result.Summary = "Config loaded"
	}

	result.Details = append(result.Details, fmt.Sprintf("API: %s", cfg.API.BaseURL))
	if cfg.Agent.NotebookID == "" {
		result.Details = append(result.Details, "No default notebook; chat commands need --notebook")
	} else {
		result.Details = append(result.Details, fmt.Sprintf("Notebook: %s", cfg.Agent.NotebookID))
	}
	return result, &cfg
}

func checkDirWritable(dir string) error {
	file, err := os.CreateTemp(dir, "doctor-")
	if err != nil {
		return err
	}
	name := file.Name()
	file.Close()
	return os.Remove(name)
}

func checkCredentials(hasToken func() (bool, error)) CheckResult {
	result := CheckResult{Name: "Authentication", Status: StatusOK}

	exists, err := hasToken()
	if err != nil {
		result.Status = StatusWarn
		result.Summary = "Unable to access system keyring"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "set "+credentials.TokenName+" in the environment instead")
		return result
	}

	if exists {
		result.Summary = credentials.TokenName + " is available"
	} else {
		result.Status = StatusWarn
		result.Summary = "No API token configured"
		result.Details = append(result.Details, "Requests are sent without a bearer token")
		result.Actions = append(result.Actions, "run 'nb auth login' if the API requires a password")
	}
	return result
}

func checkAPI(ctx context.Context, opts Options, cfg *config.Client) CheckResult {
	result := CheckResult{Name: "Notebook API", Status: StatusOK}

	baseURL := opts.BaseURL
	if baseURL == "" && cfg != nil {
		baseURL = cfg.API.BaseURL
	}
	if baseURL != "" {
		result.Details = append(result.Details, fmt.Sprintf("Base URL: %s", baseURL))
	}
	if opts.API == nil {
		result.Status = StatusWarn
		result.Summary = "API check skipped"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()
	models, err := opts.API.Models(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Summary = "API unreachable"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "check that the notebook server is running and api.base_url is correct")
		return result
	}

	result.Summary = fmt.Sprintf("API reachable (%d models)", len(models.Models))
	result.Details = append(result.Details, fmt.Sprintf("Latency: %s", time.Since(start).Round(time.Millisecond)))
	if len(models.Models) == 0 {
		result.Status = StatusWarn
		result.Actions = append(result.Actions, "configure at least one model provider on the server")
	}
	return result
}

func checkDataStore(ctx context.Context, dbPath string, cfg *config.Client) CheckResult {
	result := CheckResult{Name: "Transcript Store", Status: StatusOK}

	if cfg != nil && !cfg.Agent.Record {
		result.Summary = "Recording disabled"
		return result
	}

	if dbPath == "" {
		p, err := config.GetDatabasePath()
		if err != nil {
			result.Status = StatusWarn
			result.Summary = "Unable to resolve database path"
			result.Details = append(result.Details, err.Error())
			return result
		}
		dbPath = p
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Status = StatusWarn
			result.Summary = "Database file not initialized"
			result.Actions = append(result.Actions, "run 'nb agent ask' to create "+filepath.Base(dbPath))
			return result
		}
		result.Status = StatusWarn
		result.Summary = "Cannot read transcript database"
		result.Details = append(result.Details, err.Error())
		return result
	}

	store, err := transcript.Open(ctx, dbPath, zap.NewNop())
	if err != nil {
		result.Status = StatusFail
		result.Summary = "Transcript database unusable"
		result.Details = append(result.Details, err.Error())
		result.Actions = append(result.Actions, "move "+dbPath+" aside to start a fresh history")
		return result
	}
	defer store.Close()

	threads, err := store.Threads(ctx, 0)
	if err != nil {
		result.Status = StatusWarn
		result.Summary = "Unable to list threads"
		result.Details = append(result.Details, err.Error())
		return result
	}

	result.Summary = "Database available"
	result.Details = append(result.Details,
		fmt.Sprintf("Path: %s", dbPath),
		fmt.Sprintf("Size: %s", formatBytes(info.Size())),
		fmt.Sprintf("Recent threads: %d", len(threads)),
		fmt.Sprintf("Last modified: %s", info.ModTime().Format(time.RFC3339)),
	)
	return result
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
