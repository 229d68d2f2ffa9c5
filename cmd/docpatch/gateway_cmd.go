package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/officestack/docpatch/pkg/archive"
	"github.com/officestack/docpatch/pkg/bus"
	"github.com/officestack/docpatch/pkg/gateway"
	"github.com/officestack/docpatch/pkg/janitor"
	"github.com/officestack/docpatch/pkg/notify"
)

func gatewayCmd() {
	opts := parseCommonFlags(os.Args[2:])
	cfg := loadConfigOrExit(opts)

	pb := bus.NewProgressBus()
	eng, err := buildEngine(cfg, pb)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	notifier := notify.New(cfg.Notify)
	if notifier.Enabled() {
		fmt.Println("✓ Result notifications enabled")
	}

	srv := gateway.New(cfg, eng, pb, notifier, version)

	var jan *janitor.Janitor
	if cfg.Janitor.Enabled {
		var arch *archive.Manager
		if cfg.Archive.Enabled {
			arch = archive.NewManager(filepath.Join(cfg.WorkspacePath(), "archive"), cfg.Archive.Compress)
		}
		j, jerr := janitor.New(cfg, arch)
		if jerr != nil {
			fmt.Printf("Error configuring janitor: %v\n", jerr)
			os.Exit(1)
		}
		j.Start()
		jan = j
		fmt.Printf("✓ Janitor scheduled (%s)\n", cfg.Janitor.Schedule)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	fmt.Printf("✓ Gateway on http://%s:%d (%s, %s)\n", cfg.Gateway.Host, cfg.Gateway.Port, cfg.Providers.Default, activeModel(cfg))
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Printf("Gateway error: %v\n", err)
			os.Exit(1)
		}
	case <-sigChan:
		fmt.Println("\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Shutdown error: %v\n", err)
		}
		if jan != nil {
			jan.Stop()
		}
		pb.Close()
		fmt.Println("✓ Gateway stopped")
	}
}
