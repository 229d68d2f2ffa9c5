package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/officestack/docpatch/pkg/bus"
	"github.com/officestack/docpatch/pkg/config"
	"github.com/officestack/docpatch/pkg/engine"
	"github.com/officestack/docpatch/pkg/notify"
	"github.com/officestack/docpatch/pkg/oracle"
	"github.com/officestack/docpatch/pkg/pydeps"
	"github.com/officestack/docpatch/pkg/session"
)

func processCmd() {
	opts := parseCommonFlags(os.Args[2:])
	if len(opts.rest) < 2 {
		fmt.Printf("Usage: %s process <file> <task...>\n", cliName)
		os.Exit(2)
	}

	docPath := opts.rest[0]
	task := strings.Join(opts.rest[1:], " ")

	cfg := loadConfigOrExit(opts)
	if _, err := os.Stat(docPath); err != nil {
		fmt.Println(renderErrorBanner("file not found: " + docPath))
		os.Exit(1)
	}

	pb := bus.NewProgressBus()
	eng, err := buildEngine(cfg, pb)
	if err != nil {
		fmt.Println(renderErrorBanner(err.Error()))
		os.Exit(1)
	}
	defer eng.Close()

	stopProgress := printProgress(pb)
	defer stopProgress()

	notifier := notify.New(cfg.Notify)
	sessions := session.NewManager(filepath.Join(cfg.WorkspacePath(), "sessions"))

	res := runDocumentTask(eng, notifier, sessions, opts.user, docPath, task)
	fmt.Println(renderResultBanner(res))
	if !res.Success {
		os.Exit(1)
	}
}

// buildEngine prepares the Python environment, creates the configured
// provider and wires the engine around the shared progress bus.
func buildEngine(cfg *config.Config, pb *bus.ProgressBus) (*engine.Engine, error) {
	if cfg.Python.Interpreter == "" {
		setupTimeout := time.Duration(cfg.Python.SetupTimeoutSeconds) * time.Second
		venv, err := pydeps.EnsureEnvironment(cfg.WorkspacePath(), cfg.Python.ExtraPackages, setupTimeout)
		if err != nil {
			fmt.Printf("Python setup warning: %v\n", err)
		} else {
			cfg.Python.Interpreter = venv
		}
	}

	provider, err := oracle.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	return engine.New(cfg, provider, pb)
}

// printProgress drains the bus onto stdout as dim stage lines. The
// returned stop function ends the drain loop.
func printProgress(pb *bus.ProgressBus) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			ev, ok := pb.Subscribe(ctx)
			if !ok {
				return
			}
			if ev.Stage == bus.StageDone || ev.Stage == bus.StageFailed {
				continue
			}
			fmt.Println(renderStage(string(ev.Stage), ev.Attempt))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// runDocumentTask runs one instruction through the engine and records it
// in the transcript. A fatal engine error still yields a printable result.
func runDocumentTask(eng *engine.Engine, notifier *notify.Notifier, sessions *session.Manager, userID, docPath, task string) *engine.ProcessingResult {
	start := time.Now()
	res, err := eng.ProcessDocument(context.Background(), engine.Request{
		UserID:       userID,
		Task:         task,
		DocumentPath: docPath,
	})
	if res == nil {
		res = &engine.ProcessingResult{
			Success:      false,
			Message:      "Processing failed",
			OriginalTask: task,
		}
		if err != nil {
			res.Error = err.Error()
		}
	}

	key := session.Key(userID, docPath)
	sessions.Append(key, session.Entry{
		Task:           task,
		Outcome:        res.Message,
		Success:        res.Success,
		ElapsedSeconds: time.Since(start).Seconds(),
	})
	if err := sessions.Save(key); err != nil {
		fmt.Println(styleDim.Render("  (transcript not saved: " + err.Error() + ")"))
	}

	if notifier.Enabled() {
		notifier.Result(context.Background(), fmt.Sprintf("%s: %s", filepath.Base(docPath), res.Message))
	}
	return res
}
