package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	WorkflowPath string // hcl file or directory

	LogFormat string
	LogLevel  string

	// Serve keeps the process alive with the HTTP API and the schedule
	// service; otherwise a single event is dispatched and the process
	// exits once every started run is terminal.
	Serve      bool
	ListenAddr string

	// One-shot event, ignored in serve mode.
	EventKind string
	EventRef  string
	Inputs    map[string]string

	MaxConcurrentJobs int
	WebhookURL        string
	SecretPrefix      string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.WorkflowPath == "" {
		return nil, errors.New("WorkflowPath is a required configuration field and cannot be empty")
	}
	if cfg.Serve && cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if !cfg.Serve && cfg.EventKind == "" {
		cfg.EventKind = "manual"
	}
	return &cfg, nil
}
