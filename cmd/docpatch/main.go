package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/officestack/docpatch/pkg/config"
	"github.com/officestack/docpatch/pkg/logger"
)

var (
	version   = "dev"
	buildTime string
	goVersion string
)

const logo = "📄"
const displayName = "DocPatch"
const cliName = "docpatch"

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "process":
		processCmd()
	case "repl":
		replCmd()
	case "gateway":
		gatewayCmd()
	case "status":
		statusCmd()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("%s %s v%s\n", logo, displayName, version)
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func printHelp() {
	fmt.Printf("%s %s - Self-correcting document edits v%s\n\n", logo, displayName, version)
	fmt.Printf("Usage: %s <command> [flags]\n", cliName)
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  process <file> <task...>  Apply one instruction to a document")
	fmt.Println("  repl <file>               Interactive loop against one document")
	fmt.Println("  gateway                   Start the HTTP gateway")
	fmt.Println("  status                    Show configuration and workspace status")
	fmt.Println("  version                   Show version information")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config <path>    Config file (default ~/.config/docpatch/config.json)")
	fmt.Println("  --debug            Verbose logging")
	fmt.Println("  --provider <name>  Override provider (gemini, claude, openai)")
	fmt.Println("  --model <model>    Override model for this invocation")
	fmt.Println("  --user <id>        User ID for history and sessions")
}

// commonOptions are the flags shared by every subcommand. Positional
// arguments land in rest in order.
type commonOptions struct {
	configPath string
	debug      bool
	provider   string
	model      string
	user       string
	rest       []string
}

func parseCommonFlags(args []string) commonOptions {
	opts := commonOptions{configPath: config.DefaultConfigPath()}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 < len(args) {
				opts.configPath = args[i+1]
				i++
			}
		case "--debug", "-d":
			opts.debug = true
		case "--provider", "-p":
			if i+1 < len(args) {
				opts.provider = args[i+1]
				i++
			}
		case "--model":
			if i+1 < len(args) {
				opts.model = args[i+1]
				i++
			}
		case "--user", "-u":
			if i+1 < len(args) {
				opts.user = args[i+1]
				i++
			}
		default:
			opts.rest = append(opts.rest, args[i])
		}
	}
	return opts
}

func loadConfigOrExit(opts commonOptions) *config.Config {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, opts)
	return cfg
}

func applyOverrides(cfg *config.Config, opts commonOptions) {
	if opts.debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		logger.SetLevel(logger.DEBUG)
	}
	if opts.provider != "" {
		cfg.Providers.Default = opts.provider
	}
	if opts.model != "" {
		switch strings.ToLower(cfg.Providers.Default) {
		case "claude":
			cfg.Providers.Claude.Model = opts.model
		case "openai":
			cfg.Providers.OpenAI.Model = opts.model
		default:
			cfg.Providers.Gemini.Model = opts.model
		}
	}
}

func activeModel(cfg *config.Config) string {
	switch strings.ToLower(cfg.Providers.Default) {
	case "claude":
		return cfg.Providers.Claude.Model
	case "openai":
		return cfg.Providers.OpenAI.Model
	default:
		return cfg.Providers.Gemini.Model
	}
}
