package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/exploregen/exploregen/internal/cli/exploregenctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	options := exploregenctl.Options{
		BaseURL: strings.TrimSpace(os.Getenv("EXPLOREGEN_API_URL")),
		APIKey:  strings.TrimSpace(os.Getenv("EXPLOREGEN_API_KEY")),
		Timeout: cliTimeout(os.Getenv("EXPLOREGEN_CLI_TIMEOUT")),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := exploregenctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

// cliTimeout bounds a whole command. Generation over a large dictionary waits
// on every chunk call, so the default is generous.
func cliTimeout(raw string) time.Duration {
	const fallback = 5 * time.Minute
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		_, _ = fmt.Fprintf(os.Stderr, "invalid EXPLOREGEN_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
