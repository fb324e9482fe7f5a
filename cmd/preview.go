package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mailbatch/batchfile"
	"github.com/dhcgn/mailbatch/dispatch"
	"github.com/dhcgn/mailbatch/message"
	"github.com/dhcgn/mailbatch/stats"
)

// PreviewOptions controls what Preview writes besides the listing.
type PreviewOptions struct {
	Top       int
	ReportDir string
	EMLDir    string
	// Now dates messages without a date.
	Now time.Time
}

type PreviewSummary struct {
	Messages int
	Valid    int
	Domains  map[string]int
	Senders  map[string]int
}

// NewPreviewCmd returns the preview subcommand.
func NewPreviewCmd() *cobra.Command {
	var opts PreviewOptions
	cmd := &cobra.Command{
		Use:   "preview [batch file]",
		Short: "Render a batch without sending and show what would go out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mail, rejected, err := batchfile.Load(args[0], nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rejected {
				fmt.Fprintf(out, "message %d: dropped invalid addresses %s\n", r.Index, strings.Join(r.Addresses, ", "))
			}

			opts.Now = time.Now()
			summary, err := Preview(out, mail.Messages(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d of %d messages are sendable\n", summary.Valid, summary.Messages)
			if opts.ReportDir != "" {
				fmt.Fprintf(out, "Reports saved to directory: %s\n", opts.ReportDir)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.Top, "top", "t", 10, "Number of top recipient domains and senders to display")
	cmd.Flags().StringVarP(&opts.ReportDir, "output", "o", "", "Output directory for CSV reports")
	cmd.Flags().StringVar(&opts.EMLDir, "eml-dir", "", "Write every rendered message as an .eml file into this directory")
	return cmd
}

type previewRow struct {
	index       int
	valid       bool
	from        string
	subject     string
	recipients  int
	mode        string
	messageID   string
	fingerprint string
	diagnostic  string
}

// Preview renders every message, writes a listing to w and optional reports.
func Preview(w io.Writer, msgs []message.Message, opts PreviewOptions) (PreviewSummary, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.EMLDir != "" {
		if err := os.MkdirAll(opts.EMLDir, 0o755); err != nil {
			return PreviewSummary{}, err
		}
	}

	summary := PreviewSummary{
		Messages: len(msgs),
		Domains:  make(map[string]int),
		Senders:  make(map[string]int),
	}
	rows := make([]previewRow, 0, len(msgs))

	for i, msg := range msgs {
		row := previewRow{
			index:       i,
			from:        msg.From,
			subject:     msg.SubjectOrDefault(),
			recipients:  len(msg.Recipients()),
			fingerprint: msg.Fingerprint(),
		}

		date := msg.Date
		if date.IsZero() {
			date = opts.Now
		}
		tree, err := dispatch.Render(msg, date)
		if err != nil {
			row.diagnostic = err.Error()
			fmt.Fprintf(w, "#%d invalid: %s\n", i, row.diagnostic)
			rows = append(rows, row)
			continue
		}

		row.valid = true
		row.mode = tree.Mode().String()
		row.messageID = tree.MessageID()
		summary.Valid++
		summary.Senders[msg.From]++
		for _, rcpt := range msg.Recipients() {
			summary.Domains[domainOf(rcpt)]++
		}

		if opts.EMLDir != "" {
			raw, err := tree.Bytes()
			if err != nil {
				return summary, fmt.Errorf("render message %d: %w", i, err)
			}
			path := filepath.Join(opts.EMLDir, fmt.Sprintf("message_%03d.eml", i))
			if err := os.WriteFile(path, raw, 0o644); err != nil {
				return summary, err
			}
		}

		fmt.Fprintf(w, "#%d %s from=%s rcpts=%d subject=%q\n", i, row.mode, row.from, row.recipients, row.subject)
		rows = append(rows, row)
	}

	if opts.Top > 0 && summary.Valid > 0 {
		fmt.Fprintf(w, "\nTop %d recipient domains:\n", opts.Top)
		stats.PrintTop(w, summary.Domains, opts.Top)
		fmt.Fprintf(w, "\nTop %d senders:\n", opts.Top)
		stats.PrintTop(w, summary.Senders, opts.Top)
	}

	if opts.ReportDir != "" {
		if err := saveCSVReports(rows, summary.Domains, opts.ReportDir); err != nil {
			return summary, fmt.Errorf("error saving CSV reports: %w", err)
		}
	}
	return summary, nil
}

func saveCSVReports(rows []previewRow, domains map[string]int, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	records := [][]string{{"Index", "Valid", "From", "Subject", "Recipients", "Mode", "MessageID", "Fingerprint", "Diagnostic"}}
	for _, r := range rows {
		records = append(records, []string{
			strconv.Itoa(r.index),
			strconv.FormatBool(r.valid),
			r.from,
			r.subject,
			strconv.Itoa(r.recipients),
			r.mode,
			r.messageID,
			r.fingerprint,
			r.diagnostic,
		})
	}
	if err := writeCSV(filepath.Join(dir, "report_messages.csv"), records); err != nil {
		return err
	}

	type pair struct {
		Key   string
		Value int
	}
	pairs := make([]pair, 0, len(domains))
	for k, v := range domains {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	records = [][]string{{"Domain", "Count"}}
	for _, p := range pairs {
		records = append(records, []string{p.Key, strconv.Itoa(p.Value)})
	}
	return writeCSV(filepath.Join(dir, "report_domains.csv"), records)
}

func writeCSV(path string, records [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(records); err != nil {
		return err
	}
	return file.Close()
}

func domainOf(addr string) string {
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		return strings.ToLower(addr[at+1:])
	}
	return addr
}
