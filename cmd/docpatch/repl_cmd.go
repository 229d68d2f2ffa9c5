package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/officestack/docpatch/pkg/bus"
	"github.com/officestack/docpatch/pkg/engine"
	"github.com/officestack/docpatch/pkg/notify"
	"github.com/officestack/docpatch/pkg/session"
)

func replCmd() {
	opts := parseCommonFlags(os.Args[2:])
	if len(opts.rest) < 1 {
		fmt.Printf("Usage: %s repl <file>\n", cliName)
		os.Exit(2)
	}

	docPath := opts.rest[0]
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
	key := session.Key(opts.user, docPath)

	fmt.Printf("%s Editing %s with %s (%s)\n", logo, filepath.Base(docPath), cfg.Providers.Default, activeModel(cfg))
	fmt.Println("Type an instruction, or: history, help, exit")
	fmt.Println()

	r := &replSession{
		eng:      eng,
		notifier: notifier,
		sessions: sessions,
		key:      key,
		userID:   opts.user,
		docPath:  docPath,
	}

	prompt := fmt.Sprintf("%s %s> ", logo, filepath.Base(docPath))
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".docpatch_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		r.simpleLoop(prompt)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !r.handle(line) {
			return
		}
	}
}

type replSession struct {
	eng      *engine.Engine
	notifier *notify.Notifier
	sessions *session.Manager
	key      string
	userID   string
	docPath  string
}

// handle runs one REPL line. It returns false when the loop should end.
func (r *replSession) handle(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	switch input {
	case "exit", "quit":
		fmt.Println("Goodbye!")
		return false
	case "help":
		fmt.Println("Type a plain-language instruction to apply it to the document.")
		fmt.Println("  history   Show what was asked of this document")
		fmt.Println("  exit      Leave the editor")
		return true
	case "history":
		entries := r.sessions.Entries(r.key)
		if len(entries) == 0 {
			fmt.Println("No history for this document yet.")
			return true
		}
		for _, e := range entries {
			icon := "✓"
			if !e.Success {
				icon = "✗"
			}
			fmt.Printf("  %s %s (%s)\n", icon, e.Task, e.At)
		}
		return true
	}

	res := runDocumentTask(r.eng, r.notifier, r.sessions, r.userID, r.docPath, input)
	fmt.Println(renderResultBanner(res))
	fmt.Println()
	return true
}

func (r *replSession) simpleLoop(prompt string) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !r.handle(line) {
			return
		}
	}
}
