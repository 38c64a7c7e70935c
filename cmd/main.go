// Package main is the entry point for the condense CLI and server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/minsignal/condense/internal/config"
	"github.com/minsignal/condense/internal/events"
	"github.com/minsignal/condense/internal/monitoring"
	"github.com/minsignal/condense/internal/pipeline"
	"github.com/minsignal/condense/internal/server"
	"github.com/minsignal/condense/internal/store"
)

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}
	configEnv := filepath.Join(homeDir, ".config", "condense", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}
	// Local .env can override.
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "condense":
			runCondense(os.Args[2:])
			return
		case "expand":
			runExpand(os.Args[2:])
			return
		case "serve", "start":
			runServe(os.Args[2:])
			return
		case "version", "-v", "--version":
			PrintVersion()
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}
	printHelp()
	os.Exit(2)
}

// loadConfig resolves and loads the configuration for a subcommand.
// Offline mode without a config file gets working defaults.
func loadConfig(path string, offline, debug bool) *config.Config {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.Load(path)
	case offline:
		cfg, err = config.LoadFromBytes([]byte("oracles:\n  offline: true\n"))
	default:
		cfg, err = config.Load("configs/config.yaml")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if offline {
		cfg.Oracles.Offline = true
	}
	if debug {
		cfg.Monitoring.LogLevel = "debug"
	}
	monitoring.Global(monitoring.LoggerConfig{
		Level:  cfg.Monitoring.LogLevel,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})
	return cfg
}

// runCondense compresses one message from a file, argument, or stdin.
func runCondense(args []string) {
	loadEnvFiles()

	fs := flag.NewFlagSet("condense", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	inputPath := fs.String("file", "", "read the message from a file instead of arguments")
	offline := fs.Bool("offline", false, "run without external oracles")
	withFrontier := fs.Bool("frontier", false, "include the cost/fidelity frontier in output")
	asJSON := fs.Bool("json", false, "print the full report as JSON")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	text, err := readInput(*inputPath, fs.Args())
	if err != nil {
		log.Fatal().Err(err).Msg("no input message")
	}

	cfg := loadConfig(*configPath, *offline, *debug)
	pipe := pipeline.New(cfg, openStore(cfg), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := pipe.Condense(ctx, text, *withFrontier)
	if err != nil && (result == nil || result.Report.FinalRendered == "") {
		log.Fatal().Err(err).Msg("condensation failed")
	}
	if err != nil {
		log.Warn().Err(err).Msg("returning best-effort result")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}
	rep := result.Report
	fmt.Println(rep.FinalRendered)
	fmt.Fprintf(os.Stderr, "similarity=%.3f rounds=%d converged=%v ratio=%.2f\n",
		rep.FinalSimilarity, rep.Rounds(), rep.Converged, rep.CompressionRatio)
}

// runExpand reconstructs a verbose message from a condensed one.
func runExpand(args []string) {
	loadEnvFiles()

	fs := flag.NewFlagSet("expand", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	inputPath := fs.String("file", "", "read the message from a file instead of arguments")
	offline := fs.Bool("offline", false, "run without external oracles")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	text, err := readInput(*inputPath, fs.Args())
	if err != nil {
		log.Fatal().Err(err).Msg("no input message")
	}

	cfg := loadConfig(*configPath, *offline, *debug)
	pipe := pipeline.New(cfg, nil, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	expanded, err := pipe.Expand(ctx, text)
	if err != nil {
		log.Fatal().Err(err).Msg("expansion failed")
	}
	fmt.Println(expanded)
}

// runServe starts the HTTP server.
func runServe(args []string) {
	loadEnvFiles()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	offline := fs.Bool("offline", false, "run without external oracles")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath, *offline, *debug)
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 18090
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = config.Duration(60 * time.Second)
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = config.Duration(300 * time.Second)
	}

	log.Info().
		Str("version", Version).
		Bool("offline", cfg.Oracles.Offline).
		Msg("condense server starting")

	st := openStore(cfg)
	hub := events.NewHub()
	pipe := pipeline.New(cfg, st, hub)
	srv := server.New(cfg.Server, pipe, st, hub)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		if st != nil {
			_ = st.Close()
		}
	}()

	if err := srv.Start(); err != nil {
		if err.Error() != "http: Server closed" {
			log.Fatal().Err(err).Msg("server error")
		}
	}
	log.Info().Msg("condense server stopped")
}

// openStore opens the run store, or returns nil when persistence is not
// configured.
func openStore(cfg *config.Config) *store.Store {
	if cfg.Store.Path == "" {
		return nil
	}
	st, err := store.Open(cfg.Store.Path, cfg.Store.MaxRuns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open run store")
	}
	return st
}

// readInput resolves the message text: --file wins, then positional
// arguments joined, then stdin when piped.
func readInput(path string, args []string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read input file '%s': %w", path, err)
		}
		return string(data), nil
	}
	if len(args) > 0 {
		text := args[0]
		for _, a := range args[1:] {
			text += " " + a
		}
		return text, nil
	}
	stat, err := os.Stdin.Stat()
	if err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		if len(data) > 0 {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("provide a message as an argument, via --file, or on stdin")
}

func printHelp() {
	fmt.Println("condense - semantic message compression")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  condense <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  condense     Compress a message")
	fmt.Println("  expand       Reconstruct a verbose message from a condensed one")
	fmt.Println("  serve        Start the HTTP server")
	fmt.Println("  version      Print version information")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config FILE    Config file (default: configs/config.yaml)")
	fmt.Println("  --file FILE      Read the message from a file")
	fmt.Println("  --offline        Run without external oracles")
	fmt.Println("  --frontier       Include the cost/fidelity frontier (condense)")
	fmt.Println("  --json           Print the full report as JSON (condense)")
	fmt.Println("  --debug          Enable debug logging")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println(`  condense condense --offline "The deploy failed because the cert expired."`)
	fmt.Println("  cat report.txt | condense condense --config configs/config.yaml")
	fmt.Println("  condense serve --config configs/config.yaml")
}
