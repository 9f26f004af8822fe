package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/okian/bluffmeter/internal/mockinterview"
)

// Default configuration constants.
const (
	defaultURL         = "http://localhost:9080"
	defaultCandidate   = "mock-candidate"
	defaultTopic       = "databases"
	defaultTestTimeout = 5 * time.Minute
)

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	var (
		baseURL    = flag.String("url", envOr("MOCK_URL", defaultURL), "Base URL of the service")
		candidate  = flag.String("candidate", envOr("MOCK_CANDIDATE", defaultCandidate), "Candidate id")
		topic      = flag.String("topic", envOr("MOCK_TOPIC", defaultTopic), "Topic id")
		difficulty = flag.String("difficulty", "", "Difficulty profile")
		gap        = flag.Duration("gap", mockinterview.DefaultGap, "Pause between fragments of one answer")
		pause      = flag.Duration("pause", mockinterview.DefaultPause, "Pause after each answer")
		settle     = flag.Duration("settle", mockinterview.DefaultSettle, "Wait for trailing analysis before ending")
		timeout    = flag.Duration("timeout", mockinterview.DefaultTimeout, "HTTP request timeout")
		logFile    = flag.String("log", "", "Log file (default: stderr)")
		verbose    = flag.Bool("verbose", false, "Print every frame")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		mockinterview.ShowHelp(os.Stdout)
		return
	}

	closer, err := mockinterview.SetupLogging(*logFile, *verbose)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultTestTimeout)
	defer cancel()

	cfg := mockinterview.Config{
		BaseURL:     *baseURL,
		CandidateID: *candidate,
		TopicID:     *topic,
		Difficulty:  *difficulty,
		Gap:         *gap,
		Pause:       *pause,
		Settle:      *settle,
		Timeout:     *timeout,
		Verbose:     *verbose,
	}

	if _, err := mockinterview.Run(ctx, cfg, os.Stdout); err != nil {
		os.Stderr.WriteString("Mock interview failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
