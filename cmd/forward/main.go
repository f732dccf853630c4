// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// DocuShuttle — One-Shot Forward Command
//
// Standalone CLI that runs a single preview or forward pass against the
// configured mailbox, without the control API. Useful for scripted runs
// and for trying a config before saving it.
//
// Usage:
//
//	go run ./cmd/forward/ --config billing            [--preview]
//	go run ./cmd/forward/ --recipient ops@example.com \
//	    --start 2026-08-01 --end 2026-08-20 \
//	    --keyword "BILLING INVOICE" --prefixes 759 [--preview]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/royalpayne/docushuttle/internal/config"
	"github.com/royalpayne/docushuttle/internal/dedup"
	"github.com/royalpayne/docushuttle/internal/graph"
	"github.com/royalpayne/docushuttle/internal/models"
	"github.com/royalpayne/docushuttle/internal/queue"
	"github.com/royalpayne/docushuttle/internal/run"
	"github.com/royalpayne/docushuttle/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	configFlag := flag.String("config", "", "Saved configuration name")
	recipientFlag := flag.String("recipient", "", "Recipient email (inline config)")
	startFlag := flag.String("start", "", "Start date, inclusive (2006-01-02)")
	endFlag := flag.String("end", "", "End date, inclusive (2006-01-02)")
	keywordFlag := flag.String("keyword", "", "Subject keyword")
	prefixesFlag := flag.String("prefixes", "", "Comma-separated file-number prefixes")
	requireAttachFlag := flag.Bool("require-attachments", true, "Skip messages without attachments")
	skipForwardedFlag := flag.Bool("skip-forwarded", true, "Skip file numbers already forwarded")
	delayFlag := flag.Int("delay", 0, "Seconds to wait between forwards")
	previewFlag := flag.Bool("preview", false, "Preview only, forward nothing")
	flag.Parse()

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: postgres pool: %v\n", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	st, err := store.NewStore(ctx, pgPool)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: store: %v\n", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.AuditQueue)
	cache := dedup.NewCache(rdb)

	// --- Resolve the run config ---
	var rc *models.RecipientConfig
	if *configFlag != "" {
		rc, err = st.LoadConfig(ctx, *configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
			os.Exit(1)
		}
		if rc == nil {
			fmt.Fprintf(os.Stderr, "Error: config %q not found\n", *configFlag)
			os.Exit(1)
		}
	} else {
		rc = &models.RecipientConfig{
			Recipient:          *recipientFlag,
			StartDate:          *startFlag,
			EndDate:            *endFlag,
			SubjectKeyword:     *keywordFlag,
			Prefixes:           models.ParsePrefixList(*prefixesFlag),
			RequireAttachments: *requireAttachFlag,
			SkipForwarded:      *skipForwardedFlag,
			DelaySeconds:       *delayFlag,
		}
	}

	// --- Graph Gateway ---
	creds := &clientcredentials.Config{
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Graph.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	gateway := graph.NewGateway(creds.Client(ctx), cfg.GraphBaseURL, cfg.Graph.Mailbox)

	mgr := run.NewManager(run.NewOrchestrator(run.OrchestratorConfig{
		Gateway:         gateway,
		Records:         st,
		Cache:           cache,
		Audit:           publisher,
		Location:        loc,
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectBackoff:  cfg.ConnectBackoff,
	}))

	mode := run.ModeForward
	if *previewFlag {
		mode = run.ModePreview
	}

	r, err := mgr.Start(rc, mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Ctrl-C cancels between messages.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		pterm.Warning.Println("cancelling after the current message...")
		r.Cancel()
	}()

	pterm.Info.Printf("Scanning %s for %q (%s to %s), mode=%s\n",
		cfg.Graph.Mailbox, rc.SubjectKeyword, rc.StartDate, rc.EndDate, mode)

	exitCode := 0
	for e := range r.Events() {
		switch e.Kind {
		case run.EventCandidateFound:
			if mode == run.ModePreview {
				pterm.Println(renderCandidate(e))
			}
		case run.EventCandidateForwarded:
			pterm.Success.Printf("forwarded %s\n", subjectOrNumber(e))
		case run.EventCandidateSkipped:
			pterm.Debug.Printf("skipped %s (%s)\n", subjectOrNumber(e), e.Reason)
		case run.EventProgress:
			if e.Summary != nil {
				pterm.Info.Printf("scanned %d, forwarded %d...\n", e.Summary.Scanned, e.Summary.Forwarded)
			}
		case run.EventRunCompleted, run.EventRunCancelled, run.EventRunFailed:
			printSummary(e)
			if e.Kind == run.EventRunFailed {
				exitCode = 1
			}
		}
	}

	os.Exit(exitCode)
}

func subjectOrNumber(e run.Event) string {
	if e.FileNumber != "" {
		return e.FileNumber
	}
	return e.Subject
}

func renderCandidate(e run.Event) string {
	if e.FileNumber != "" {
		return fmt.Sprintf("  %s  (file number %s)", e.Subject, e.FileNumber)
	}
	return "  " + e.Subject
}

func printSummary(e run.Event) {
	s := e.Summary
	if s == nil {
		return
	}
	switch e.Kind {
	case run.EventRunFailed:
		pterm.Error.Printf("run failed: %s\n", e.Error)
	case run.EventRunCancelled:
		pterm.Warning.Println("run cancelled")
	default:
		pterm.Success.Println("run completed")
	}
	pterm.Info.Printf("scanned %d, eligible %d, forwarded %d, skipped %d, failed %d\n",
		s.Scanned, s.Eligible, s.Forwarded, s.Skipped, s.Failed)
}
