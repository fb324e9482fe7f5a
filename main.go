package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbatch/batchfile"
	"github.com/dhcgn/mailbatch/cmd"
	"github.com/dhcgn/mailbatch/config"
	"github.com/dhcgn/mailbatch/dispatch"
	"github.com/dhcgn/mailbatch/filter"
	"github.com/dhcgn/mailbatch/imap"
	"github.com/dhcgn/mailbatch/journal"
	"github.com/dhcgn/mailbatch/mbox"
	"github.com/dhcgn/mailbatch/message"
	"github.com/dhcgn/mailbatch/progress"
	"github.com/dhcgn/mailbatch/resource"
	"github.com/dhcgn/mailbatch/stats"
	"github.com/dhcgn/mailbatch/transport"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mailbatch",
		Short: "Send a batch of mail messages concurrently over SMTP, IMAP or into an mbox",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(c)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mailbatch", "batch", cfg.BatchPath, "transport", cfg.Transport, "dryRun", cfg.DryRun)

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	rootCmd.SilenceUsage = true

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewPreviewCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	mail, rejected, err := batchfile.Load(cfg.BatchPath, resource.NewCachedLoader())
	if err != nil {
		return fmt.Errorf("batchfile.Load: %w", err)
	}
	for _, r := range rejected {
		logger.Warn("dropped invalid addresses", "message", r.Index, "addresses", r.Addresses)
	}

	policy, err := filter.New(filter.Options{Allow: cfg.AllowRecipients, Deny: cfg.DenyRecipients})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	open, finish, err := transportFactory(cfg, logger)
	if err != nil {
		return err
	}
	defer finish()

	reporter := stats.NewReporter(logger)
	opts := []dispatch.Option{dispatch.WithLogger(logger)}
	if policy.Active() {
		opts = append(opts, dispatch.WithRecipientPolicy(policy))
	}

	skipped := 0
	if !cfg.NoJournal {
		j, err := journal.Open(cfg.JournalDir, !cfg.DryRun)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Warn("journal close failed", "err", err)
			}
		}()
		opts = append(opts, dispatch.WithLedger(j))
		skipped = countDelivered(j, mail.Messages())
		logger.Debug("journal loaded", "path", j.Path(), "entries", j.Snapshot().Delivered, "alreadyDelivered", skipped)
	}

	bar := progress.New(mail.Len(), skipped, cfg.LogLevel)
	opts = append(opts, dispatch.WithObserver(stats.Fanout{reporter, bar}))

	engine, err := dispatch.New(cfg.Dispatch(), open, opts...)
	if err != nil {
		return fmt.Errorf("dispatch.New: %w", err)
	}

	total := mail.Len()
	logger.Info("dispatching batch", "messages", total, "workers", engine.Degree(total))
	results := mail.Send(ctx, engine)

	summary := reporter.Report()
	bar.Stop(summary)

	failed := 0
	for i, r := range results {
		if !r.Success() {
			failed++
			logger.Debug("message result", "index", i, "success", false, "diagnostic", r.Diagnostic())
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d messages were not delivered", failed, len(results))
	}
	return nil
}

// transportFactory returns the factory for cfg.Transport and a cleanup that
// runs after the batch.
func transportFactory(cfg config.Config, logger *slog.Logger) (transport.Factory, func(), error) {
	noop := func() {}

	if cfg.DryRun {
		sink := mbox.NewSink(io.Discard, logger)
		return sink.Factory(), func() { _ = sink.Close() }, nil
	}

	switch cfg.Transport {
	case config.TransportSMTP:
		return transport.SMTPFactory(transport.SMTPOptions{
			TLS:                cfg.TLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			LocalName:          cfg.LocalName,
		}, logger), noop, nil
	case config.TransportIMAP:
		return imap.Factory(imap.Options{
			UseTLS:             cfg.TLS != transport.TLSNone,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Mailbox:            cfg.Mailbox,
		}, logger), noop, nil
	case config.TransportMbox:
		sink, err := mbox.Create(cfg.MboxPath, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("mbox.Create: %w", err)
		}
		finish := func() {
			if err := sink.Close(); err != nil {
				logger.Warn("mbox close failed", "path", cfg.MboxPath, "err", err)
				return
			}
			count, err := mbox.CountMessages(cfg.MboxPath)
			if err != nil {
				logger.Warn("mbox count failed", "path", cfg.MboxPath, "err", err)
				return
			}
			logger.Info("mbox archive written", "path", cfg.MboxPath, "appended", sink.Count(), "total", count)
		}
		return sink.Factory(), finish, nil
	default:
		return nil, noop, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func countDelivered(j *journal.File, msgs []message.Message) int {
	n := 0
	for _, msg := range msgs {
		if _, ok := j.Delivered(msg.Fingerprint()); ok {
			n++
		}
	}
	return n
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mailbatch-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
