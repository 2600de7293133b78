package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hostedid/notifier/internal/config"
	"github.com/hostedid/notifier/internal/email"
	"github.com/hostedid/notifier/internal/lock"
	"github.com/hostedid/notifier/internal/logger"
	"github.com/hostedid/notifier/internal/mailer"
	"github.com/hostedid/notifier/internal/subscriber"
)

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format).WithRunID(uuid.NewString())
	log.Info().Bool("dry_run", dryRun).Msg("starting notifier run")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	locker, err := newLocker(cfg)
	if err != nil {
		return err
	}
	if c, ok := locker.(io.Closer); ok {
		defer c.Close()
	}
	release, err := locker.Acquire(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			log.Warn().Str("key", cfg.Lock.Key).Msg("another run is in progress, exiting")
			return nil
		}
		return err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to release run lock")
		}
	}()

	recipients := loadRecipients(ctx, cfg, log)
	if len(recipients) == 0 {
		log.Warn().Msg("no subscribers, exiting")
		return nil
	}

	if dryRun {
		for i, to := range recipients {
			log.Info().Str("recipient", to).Msgf("[dry-run %d/%d] would send to %s", i+1, len(recipients), to)
		}
		return nil
	}

	dialer, err := newDialer(cfg)
	if err != nil {
		return err
	}

	opts := mailer.Options{
		ReconnectEvery: cfg.Batch.ReconnectEvery,
		MinDelay:       cfg.Batch.MinDelay,
		MaxDelay:       cfg.Batch.MaxDelay,
		Cooldown:       cfg.Batch.Cooldown,
	}
	res, err := mailer.New(dialer, newTemplate(cfg), opts, log).Run(ctx, recipients)
	if err != nil {
		// Already logged by the mailer; a refused login is not a process failure
		if errors.Is(err, mailer.ErrConnect) {
			return nil
		}
		return err
	}

	log.Info().
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Int("reconnects", res.Reconnects).
		Msg("notifier run finished")

	return nil
}

func runSubscribers(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateSheet(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Logs go to stderr so stdout carries only addresses
	log := logger.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	for _, to := range loadRecipients(cmd.Context(), cfg, log) {
		fmt.Fprintln(cmd.OutOrStdout(), to)
	}
	return nil
}

func loadRecipients(ctx context.Context, cfg *config.Config, log *logger.Logger) []string {
	name := cfg.Sheet.SpreadsheetName
	if name == "" {
		name = cfg.Sheet.SpreadsheetID
	}

	loader := subscriber.NewLoader(subscriber.NewSheetsSource(cfg.Sheet), cfg.Sheet.HeaderRows, name, log)
	recipients := loader.Load(ctx)

	if limit > 0 && len(recipients) > limit {
		log.Info().Int("limit", limit).Int("loaded", len(recipients)).Msg("limiting recipients")
		recipients = recipients[:limit]
	}
	return recipients
}

func newDialer(cfg *config.Config) (email.Dialer, error) {
	switch cfg.Relay.Provider {
	case "gmail":
		return email.NewGmailDialer(email.GmailConfig{
			CredentialsJSON: cfg.Relay.CredentialsJSON,
			ClientID:        cfg.Relay.ClientID,
			ClientSecret:    cfg.Relay.ClientSecret,
			RefreshToken:    cfg.Relay.RefreshToken,
			SenderAddress:   cfg.SenderAddress(),
		})
	default:
		return email.NewSMTPDialer(email.SMTPConfig{
			Host:               cfg.Relay.Host,
			Port:               cfg.Relay.Port,
			User:               cfg.Relay.User,
			Password:           cfg.Relay.Password,
			InsecureSkipVerify: cfg.Relay.InsecureSkipVerify,
		})
	}
}

func newTemplate(cfg *config.Config) email.Template {
	html := cfg.Message.HTMLBody
	if html == "" {
		html = email.NotificationHTML(cfg.Message.PostURL, cfg.Message.SiteName)
	}
	text := cfg.Message.TextBody
	if text == "" && cfg.Message.HTMLBody == "" {
		text = email.NotificationText(cfg.Message.PostURL, cfg.Message.SiteName)
	}

	return email.Template{
		FromAddress: cfg.SenderAddress(),
		FromName:    cfg.Sender.Name,
		Subject:     cfg.Message.Subject,
		HTMLBody:    html,
		TextBody:    text,
	}
}

func newLocker(cfg *config.Config) (lock.Locker, error) {
	if !cfg.Lock.Enabled {
		return lock.Noop{}, nil
	}
	l, err := lock.NewRedis(cfg.Lock)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lock store: %w", err)
	}
	return l, nil
}
