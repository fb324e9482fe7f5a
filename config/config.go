package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbatch/dispatch"
	"github.com/dhcgn/mailbatch/transport"
)

const (
	TransportSMTP = "smtp"
	TransportIMAP = "imap"
	TransportMbox = "mbox"

	PasswordEnv = "MAILBATCH_PASSWORD"
)

// Config captures all command-line options required to send a batch.
type Config struct {
	BatchPath          string
	PropertiesPath     string
	Transport          string
	Host               string
	Port               int
	Username           string
	Password           string
	TLS                transport.TLSMode
	InsecureSkipVerify bool
	LocalName          string
	Mailbox            string
	MboxPath           string
	MinParallel        int
	MaxParallel        int
	Timeout            time.Duration
	JournalDir         string
	NoJournal          bool
	DryRun             bool
	LogLevel           string
	LogDir             string
	AllowRecipients    []string
	DenyRecipients     []string
}

// Dispatch returns the engine part of the configuration.
func (c Config) Dispatch() dispatch.Config {
	return dispatch.Config{
		Host:        c.Host,
		Port:        c.Port,
		Username:    c.Username,
		Password:    c.Password,
		MinParallel: c.MinParallel,
		MaxParallel: c.MaxParallel,
		Timeout:     c.Timeout,
	}
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultJournalDir, err := defaultJournalDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("batch", "", "Path to the YAML batch file to send")
	flags.String("properties", "", "Optional key=value properties file (mail.smtp.*, mail.parallel.*)")
	flags.String("transport", TransportSMTP, "Delivery transport: smtp, imap or mbox")
	flags.String("host", "localhost", "Relay or IMAP server hostname")
	flags.Int("port", 25, "Relay or IMAP server port")
	flags.String("user", "", "Username; empty connects anonymously")
	flags.String("password", "", "Password (falls back to "+PasswordEnv+" env var)")
	flags.String("tls", string(transport.TLSStartTLS), "SMTP TLS mode: none, starttls or tls (imap: anything but none uses TLS)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("local-name", "", "Hostname announced in EHLO")
	flags.String("mailbox", "INBOX", "Target IMAP mailbox for the imap transport")
	flags.String("mbox-out", "", "Output mbox file for the mbox transport")
	flags.Int("min-parallel", dispatch.MinParallelism, "Lower bound of concurrent connections")
	flags.Int("max-parallel", dispatch.MaxParallelism, "Upper bound of concurrent connections")
	flags.Duration("timeout", 0, "Dial and command timeout; 0 disables it")
	flags.String("journal-dir", defaultJournalDir, "Directory of the delivery journal")
	flags.Bool("no-journal", false, "Send every message even if it was delivered before")
	flags.Bool("dry-run", false, "Render every message without delivering it")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.StringArray("allow-recipient", nil, "Regex allow-list applied to recipients (mutually exclusive with deny)")
	flags.StringArray("deny-recipient", nil, "Regex block-list applied to recipients (mutually exclusive with allow)")

	return cmd.MarkFlagRequired("batch")
}

// LoadConfig converts the parsed Cobra flags into a Config struct with
// validation. Properties from --properties fill every flag left at its default.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	var cfg Config
	var err error
	var tls string

	strs := []struct {
		name string
		dst  *string
	}{
		{"batch", &cfg.BatchPath},
		{"properties", &cfg.PropertiesPath},
		{"transport", &cfg.Transport},
		{"host", &cfg.Host},
		{"user", &cfg.Username},
		{"password", &cfg.Password},
		{"tls", &tls},
		{"local-name", &cfg.LocalName},
		{"mailbox", &cfg.Mailbox},
		{"mbox-out", &cfg.MboxPath},
		{"journal-dir", &cfg.JournalDir},
		{"log-level", &cfg.LogLevel},
		{"log-dir", &cfg.LogDir},
	}
	for _, s := range strs {
		if *s.dst, err = flags.GetString(s.name); err != nil {
			return Config{}, err
		}
	}
	if cfg.Port, err = flags.GetInt("port"); err != nil {
		return Config{}, err
	}
	if cfg.MinParallel, err = flags.GetInt("min-parallel"); err != nil {
		return Config{}, err
	}
	if cfg.MaxParallel, err = flags.GetInt("max-parallel"); err != nil {
		return Config{}, err
	}
	if cfg.Timeout, err = flags.GetDuration("timeout"); err != nil {
		return Config{}, err
	}
	if cfg.InsecureSkipVerify, err = flags.GetBool("insecure-skip-verify"); err != nil {
		return Config{}, err
	}
	if cfg.NoJournal, err = flags.GetBool("no-journal"); err != nil {
		return Config{}, err
	}
	if cfg.DryRun, err = flags.GetBool("dry-run"); err != nil {
		return Config{}, err
	}
	if cfg.AllowRecipients, err = flags.GetStringArray("allow-recipient"); err != nil {
		return Config{}, err
	}
	if cfg.DenyRecipients, err = flags.GetStringArray("deny-recipient"); err != nil {
		return Config{}, err
	}

	if cfg.PropertiesPath != "" {
		props, err := LoadFile(cfg.PropertiesPath)
		if err != nil {
			return Config{}, err
		}
		if err := applyProperties(&cfg, &tls, props, cmd.Flags().Changed); err != nil {
			return Config{}, err
		}
	}

	if cfg.Password == "" {
		cfg.Password = os.Getenv(PasswordEnv)
	}

	if cfg.TLS, err = transport.ParseTLSMode(tls); err != nil {
		return Config{}, err
	}

	if cfg.JournalDir == "" {
		cfg.JournalDir, err = defaultJournalDir()
		if err != nil {
			return Config{}, err
		}
	}
	cfg.JournalDir = filepath.Clean(cfg.JournalDir)

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyProperties copies property values onto cfg for every flag the user
// did not set explicitly.
func applyProperties(cfg *Config, tls *string, props *Properties, changed func(string) bool) error {
	engine, err := props.Dispatch()
	if err != nil {
		return err
	}
	if !changed("host") {
		cfg.Host = engine.Host
	}
	if !changed("port") {
		cfg.Port = engine.Port
	}
	if !changed("user") {
		cfg.Username = engine.Username
	}
	if !changed("password") {
		cfg.Password = engine.Password
	}
	if !changed("min-parallel") {
		cfg.MinParallel = engine.MinParallel
	}
	if !changed("max-parallel") {
		cfg.MaxParallel = engine.MaxParallel
	}
	if !changed("timeout") {
		cfg.Timeout = engine.Timeout
	}
	if !changed("tls") {
		*tls = props.String(KeyTLS)
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.BatchPath == "" {
		return fmt.Errorf("--batch is required")
	}

	switch cfg.Transport {
	case TransportSMTP, TransportIMAP:
		if !cfg.DryRun {
			if cfg.Host == "" {
				return fmt.Errorf("--host is required for the %s transport", cfg.Transport)
			}
			if cfg.Port <= 0 || cfg.Port > 65535 {
				return fmt.Errorf("--port must be between 1 and 65535")
			}
		}
	case TransportMbox:
		if cfg.MboxPath == "" && !cfg.DryRun {
			return fmt.Errorf("--mbox-out is required for the mbox transport")
		}
	default:
		return fmt.Errorf("invalid --transport: %s", cfg.Transport)
	}

	if cfg.Transport == TransportIMAP && cfg.Username == "" && !cfg.DryRun {
		return fmt.Errorf("--user is required for the imap transport")
	}
	if len(cfg.AllowRecipients) > 0 && len(cfg.DenyRecipients) > 0 {
		return fmt.Errorf("allow and deny recipient flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}
	return nil
}

func defaultJournalDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mailbatch", "journal"), nil
}
