package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nbassist/config"
	"nbassist/internal/cli"
	"nbassist/version"
)

var globalOpts cli.Options

var rootCmd = &cobra.Command{
	Use:   "nb",
	Short: "Research notebook assistant",
	Long:  "Chat with a research notebook's assistant, pick the sources and notes it sees, and run the notebook agent.",
	Run: func(cmd *cobra.Command, args []string) {
		runRepl(cmd, cli.ReplOptions{})
	},
}

// newApp builds the clients for one command or exits.
func newApp(cmd *cobra.Command) *cli.App {
	app, err := cli.NewApp(cmd.Context(), globalOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return app
}

// finish closes app and exits non-zero when err is set.
func finish(app *cli.App, err error) {
	if closeErr := app.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err == nil {
		return
	}
	if !errors.Is(err, cli.ErrRunFailed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

func messageFrom(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage the notebook's chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List chat sessions, newest first",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(cmd)
		finish(app, cli.ListSessions(cmd.Context(), app, os.Stdout))
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create a chat session",
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(cmd)
		finish(app, cli.CreateSession(cmd.Context(), app, messageFrom(args), os.Stdout))
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its messages",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(cmd)
		finish(app, cli.ShowSession(cmd.Context(), app, args[0], os.Stdout))
	},
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <session-id> <title>",
	Short: "Rename a session",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(cmd)
		finish(app, cli.RenameSession(cmd.Context(), app, args[0], messageFrom(args[1:])))
	},
}

var sessionsModelCmd = &cobra.Command{
	Use:   "model <session-id> [model]",
	Short: "Set a session's model override (omit the model to clear it)",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		model := ""
		if len(args) == 2 {
			model = args[1]
		}
		app := newApp(cmd)
		finish(app, cli.SetSessionModel(cmd.Context(), app, args[0], model))
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:     "delete <session-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a session",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(cmd)
		finish(app, cli.DeleteSession(cmd.Context(), app, args[0]))
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the notebook through chat sessions",
	Run: func(cmd *cobra.Command, args []string) {
		session, _ := cmd.Flags().GetString("session")
		runRepl(cmd, cli.ReplOptions{Chat: true, SessionID: session})
	},
}

var chatSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		session, _ := cmd.Flags().GetString("session")
		sources, _ := cmd.Flags().GetStringArray("source")
		notes, _ := cmd.Flags().GetStringArray("note")

		app := newApp(cmd)
		finish(app, cli.SendChat(cmd.Context(), app, cli.ChatSendOptions{
			SessionID: session,
			Text:      messageFrom(args),
			Model:     globalOpts.Model,
			Sources:   sources,
			Notes:     notes,
		}, os.Stdout, os.Stderr))
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Show the notebook's sources and notes and what a message would include",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sources, _ := cmd.Flags().GetStringArray("source")
		notes, _ := cmd.Flags().GetStringArray("note")
		app := newApp(cmd)
		finish(app, cli.ShowContext(cmd.Context(), app, sources, notes, os.Stdout))
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the notebook agent",
	Run: func(cmd *cobra.Command, args []string) {
		thread, _ := cmd.Flags().GetString("thread")
		runRepl(cmd, cli.ReplOptions{ThreadID: thread})
	},
}

var agentAskCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send a message to the agent and stream its work",
	Long: `Send a message to the agent. Thinking, tool calls and tool results are
streamed to stderr and the final response is written to stdout.
Press Ctrl-C to stop a run.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		thread, _ := cmd.Flags().GetString("thread")
		jsonMode, _ := cmd.Flags().GetBool("json")
		noStream, _ := cmd.Flags().GetBool("no-stream")

		app := newApp(cmd)
		finish(app, cli.Ask(cmd.Context(), app, cli.AskOptions{
			Text:     messageFrom(args),
			ThreadID: thread,
			JSON:     jsonMode,
			NoStream: noStream,
			Verbose:  globalOpts.Verbose,
		}, os.Stdout, os.Stderr))
	},
}

var agentModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the agent can use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(cmd)
		finish(app, cli.ListModels(cmd.Context(), app, os.Stdout))
	},
}

var agentToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the agent's tools",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(cmd)
		finish(app, cli.ListTools(cmd.Context(), app, os.Stdout))
	},
}

var agentHistoryCmd = &cobra.Command{
	Use:   "history [thread-id]",
	Short: "List recorded agent threads or show one",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		thread := ""
		if len(args) == 1 {
			thread = args[0]
		}
		app := newApp(cmd)
		finish(app, cli.History(cmd.Context(), app, thread, limit, globalOpts.Verbose, os.Stdout))
	},
}

var agentForgetCmd = &cobra.Command{
	Use:   "forget <thread-id>",
	Short: "Delete a recorded thread",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(cmd)
		finish(app, cli.ForgetThread(cmd.Context(), app, args[0]))
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage credentials in the system keyring",
}

var authLoginCmd = &cobra.Command{
	Use:   "login [token|provider]",
	Short: "Store the API token (or a model provider key)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		which := "token"
		if len(args) == 1 {
			which = args[0]
		}
		value, _ := cmd.Flags().GetString("value")
		noCheck, _ := cmd.Flags().GetBool("no-check")

		app := newApp(cmd)
		finish(app, cli.Login(cmd.Context(), app, which, value, !noCheck))
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [token|provider]",
	Short: "Remove a stored credential",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		which := "token"
		if len(args) == 1 {
			which = args[0]
		}
		if err := cli.Logout(which); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which credentials are stored",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cli.AuthStatus(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config.yaml if it does not exist",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path := globalOpts.ConfigPath
		if path == "" {
			p, err := config.GetConfigFile()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			path = p
		}
		created, err := config.EnsureConfigExists(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if created {
			fmt.Printf("Wrote %s\n", path)
		} else {
			fmt.Printf("%s already exists\n", path)
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(cmd)
		data, err := yaml.Marshal(app.Config)
		if err == nil {
			fmt.Printf("# %s\n%s", app.ConfigPath, data)
		}
		finish(app, err)
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and API connectivity",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		app := newApp(cmd)
		code := cli.Doctor(cmd.Context(), app, os.Stdout)
		finish(app, nil)
		os.Exit(code)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

func runRepl(cmd *cobra.Command, opts cli.ReplOptions) {
	opts.Verbose = globalOpts.Verbose
	app := newApp(cmd)
	finish(app, cli.Repl(cmd.Context(), app, opts, os.Stdin, os.Stdout, os.Stderr))
}

func init() {
	// Disable the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalOpts.ConfigPath, "config", "", "Config file (default ~/.config/nbassist/config.yaml)")
	flags.StringVar(&globalOpts.BaseURL, "base-url", "", "Notebook API base URL")
	flags.StringVar(&globalOpts.Token, "token", "", "API token (overrides the keyring)")
	flags.StringVarP(&globalOpts.NotebookID, "notebook", "n", "", "Notebook id")
	flags.StringVarP(&globalOpts.Model, "model", "m", "", "Model override")
	flags.StringVar(&globalOpts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVarP(&globalOpts.Verbose, "verbose", "v", false, "Log to stderr and show full step output")
	flags.BoolVar(&globalOpts.NoRecord, "no-record", false, "Don't record agent runs locally")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsModelCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	chatCmd.Flags().String("session", "", "Session to open (defaults to the newest)")
	chatSendCmd.Flags().String("session", "", "Session to send to (defaults to the newest, or a new one)")
	chatSendCmd.Flags().StringArray("source", nil, "Include a source: id or id=insights|full|off (repeatable)")
	chatSendCmd.Flags().StringArray("note", nil, "Include a note: id or id=full|off (repeatable)")
	chatCmd.AddCommand(chatSendCmd)

	contextCmd.Flags().StringArray("source", nil, "Preview including a source: id or id=mode (repeatable)")
	contextCmd.Flags().StringArray("note", nil, "Preview including a note: id or id=mode (repeatable)")

	agentCmd.Flags().String("thread", "", "Resume a thread by id")
	agentAskCmd.Flags().String("thread", "", "Continue a thread by id")
	agentAskCmd.Flags().Bool("json", false, "Output events as JSON Lines (JSONL) instead of pretty-printing")
	agentAskCmd.Flags().Bool("no-stream", false, "Wait for the full reply instead of streaming")
	agentHistoryCmd.Flags().Int("limit", 20, "Maximum threads to list")
	agentCmd.AddCommand(agentAskCmd)
	agentCmd.AddCommand(agentModelsCmd)
	agentCmd.AddCommand(agentToolsCmd)
	agentCmd.AddCommand(agentHistoryCmd)
	agentCmd.AddCommand(agentForgetCmd)

	authLoginCmd.Flags().String("value", "", "Credential value (prompted when omitted)")
	authLoginCmd.Flags().Bool("no-check", false, "Store the token without verifying it")
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
