package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/arnac-io/tonmultisig/pkg/config"
	reporter "github.com/arnac-io/tonmultisig/pkg/sentry"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		report(os.Args[1:], err)
		os.Exit(1)
	}
}

// report sends a failed command to Sentry when SENTRY_DSN is set.
func report(args []string, failure error) {
	cfg, err := config.Parse()
	if err != nil || cfg.App.SentryDSN == "" {
		return
	}
	r, err := reporter.New(cfg.App.SentryDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init sentry: %v\n", err)
		return
	}
	r.Send("multisig command failed", reporter.InfoData{
		"args":  strings.Join(args, " "),
		"error": failure.Error(),
	}, sentry.LevelError)
	r.Flush(2 * time.Second)
}
