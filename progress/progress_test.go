package progress

import (
	"testing"

	"github.com/dhcgn/mailbatch/stats"
)

func TestDisabledBarIgnoresEvents(t *testing.T) {
	for _, tc := range []struct {
		name     string
		total    int
		logLevel string
	}{
		{"debug level", 3, "debug"},
		{"empty batch", 0, "info"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			bar := New(tc.total, 0, tc.logLevel)
			bar.Observe(stats.Event{Type: stats.EventTypeSent})
			bar.Stop(stats.Summary{})
			if bar.Done() != 0 {
				t.Fatalf("Done() = %d, want 0 for disabled bar", bar.Done())
			}
		})
	}
}
