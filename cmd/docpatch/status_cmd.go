package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/officestack/docpatch/pkg/config"
	"github.com/officestack/docpatch/pkg/pydeps"
)

func statusCmd() {
	opts := parseCommonFlags(os.Args[2:])
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}
	applyOverrides(cfg, opts)

	fmt.Printf("%s %s Status\n\n", logo, displayName)

	if _, err := os.Stat(opts.configPath); err == nil {
		fmt.Println("Config:", opts.configPath, "✓")
	} else {
		fmt.Println("Config:", opts.configPath, "✗ (defaults in effect)")
	}

	workspace := cfg.WorkspacePath()
	if _, err := os.Stat(workspace); err == nil {
		fmt.Println("Workspace:", workspace, "✓")
	} else {
		fmt.Println("Workspace:", workspace, "✗ (created on first run)")
	}

	fmt.Printf("Provider: %s\n", cfg.Providers.Default)
	fmt.Printf("Model: %s\n", activeModel(cfg))

	status := func(set bool) string {
		if set {
			return "✓"
		}
		return "not set"
	}
	fmt.Println("Gemini API:", status(cfg.Providers.Gemini.APIKey != ""))
	fmt.Println("Claude API:", status(cfg.Providers.Claude.APIKey != ""))
	fmt.Println("OpenAI API:", status(cfg.Providers.OpenAI.APIKey != ""))

	fmt.Println("Python:", pythonStatus(cfg))

	if cfg.History.PostgresDSN != "" {
		fmt.Println("History: postgres")
	} else {
		fmt.Println("History: jsonl file")
	}

	if cfg.Archive.Enabled {
		fmt.Printf("Archive: enabled (keep %d)\n", cfg.Archive.RetentionCount)
	} else {
		fmt.Println("Archive: disabled")
	}

	fmt.Printf("Gateway: http://%s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)

	if n := countFiles(cfg.UploadsPath()); n > 0 {
		fmt.Printf("Uploads: %d file(s)\n", n)
	}
}

func pythonStatus(cfg *config.Config) string {
	if cfg.Python.Interpreter != "" {
		return cfg.Python.Interpreter + " (configured)"
	}
	venv := filepath.Join(cfg.WorkspacePath(), ".venv", "bin", "python")
	if _, err := os.Stat(venv); err == nil {
		return venv
	}
	if system, err := pydeps.SystemInterpreter(); err == nil {
		return system + " (system, venv created on first run)"
	}
	return "✗ no interpreter found"
}

func countFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}
