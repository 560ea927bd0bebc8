package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/petervdpas/augur/internal/app"
	"github.com/petervdpas/augur/internal/config"
)

const configName = "augur.json"

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("augur v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) < 2 {
		showUsage()
		os.Exit(1)
	}

	command, dir := args[0], args[1]
	switch command {
	case "init":
		runInit(dir)
	case "client":
		run(dir, app.RunClient)
	case "relay":
		run(dir, app.RunRelay)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func resolveDir(arg string) string {
	absDir, err := filepath.Abs(arg)
	if err != nil {
		log.Fatalf("Invalid directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Create directory: %v", err)
	}
	return absDir
}

func runInit(dirArg string) {
	absDir := resolveDir(dirArg)
	cfgPath := filepath.Join(absDir, configName)

	cfg, _, err := config.Ensure(cfgPath, uuid.NewString)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg = app.PromptInteractive(os.Stdin, os.Stdout, absDir, cfgPath, cfg)
	if err := config.Save(cfgPath, cfg); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
	fmt.Printf("Wrote %s\n", cfgPath)
}

func run(dirArg string, fn func(context.Context, app.Options) error) {
	absDir := resolveDir(dirArg)
	cfgPath := filepath.Join(absDir, configName)

	cfg, created, err := config.Ensure(cfgPath, uuid.NewString)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created default config %s\n", cfgPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := fn(ctx, app.Options{
		Dir:     absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("augur failed: %v", err)
	}
}

func showUsage() {
	fmt.Println("augur - paid chat, audio and video sessions")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  augur init <directory>     Create or edit the config interactively")
	fmt.Println("  augur client <directory>   Run the session daemon for one user")
	fmt.Println("  augur relay <directory>    Run the development signaling relay")
	fmt.Println()
	fmt.Println("Each directory holds one augur.json and its data folder.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
}
