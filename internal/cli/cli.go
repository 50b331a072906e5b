// Package cli parses command-line arguments into an app configuration.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/flowline/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// inputFlags collects repeated -input key=value pairs.
type inputFlags map[string]string

func (f inputFlags) String() string {
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (f inputFlags) Set(raw string) error {
	key, value, found := strings.Cut(raw, "=")
	if !found || key == "" {
		return fmt.Errorf("input must be key=value, got %q", raw)
	}
	f[key] = value
	return nil
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an
// ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("flowline", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
Flowline - A declarative workflow orchestration engine.

Usage:
  flowline [options] [WORKFLOW_PATH]

Arguments:
  WORKFLOW_PATH
    Path to a single .hcl workflow file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	workflowsFlag := flagSet.String("workflows", "", "Path to the workflow file or directory.")
	wFlag := flagSet.String("w", "", "Path to the workflow file or directory (shorthand).")
	serveFlag := flagSet.Bool("serve", false, "Run the HTTP API and schedule service instead of a one-shot event.")
	listenFlag := flagSet.String("listen", ":8080", "Listen address for the HTTP API in serve mode.")
	eventFlag := flagSet.String("event", "manual", "Event kind to dispatch in one-shot mode. Options: 'push', 'pull_request', 'schedule', 'manual'.")
	refFlag := flagSet.String("ref", "", "Branch or ref carried by the dispatched event.")
	maxJobsFlag := flagSet.Int("max-jobs", 10, "Maximum number of jobs of one run executing in parallel.")
	webhookFlag := flagSet.String("webhook", "", "URL notified when a run completes. Empty disables notification.")
	secretPrefixFlag := flagSet.String("secret-prefix", "FLOWLINE_SECRET_", "Environment variable prefix exposed as secrets.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	inputs := inputFlags{}
	flagSet.Var(inputs, "input", "Manual trigger input as key=value. Repeatable.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *workflowsFlag != "" {
		path = *workflowsFlag
	} else if *wFlag != "" {
		path = *wFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Workflow path determined.", "path", path)

	if path == "" {
		slog.Debug("No workflow path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		WorkflowPath:      path,
		LogFormat:         logFormat,
		LogLevel:          logLevel,
		Serve:             *serveFlag,
		ListenAddr:        *listenFlag,
		EventKind:         *eventFlag,
		EventRef:          *refFlag,
		Inputs:            inputs,
		MaxConcurrentJobs: *maxJobsFlag,
		WebhookURL:        *webhookFlag,
		SecretPrefix:      *secretPrefixFlag,
	})

	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
