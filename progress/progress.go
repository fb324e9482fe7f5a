package progress

import (
	"sync"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mailbatch/stats"
)

// Bar shows dispatch progress. It implements stats.Observer.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	done    int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar if logLevel is "info". A disabled bar ignores every call.
func New(total int, skipped int, logLevel string) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info" && total > 0,
	}
	if !bar.enabled {
		return bar
	}

	pb, _ := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle("Sending messages").
		Start()
	bar.pb = pb

	pterm.Info.Printf("Messages in batch: %d\n", total)
	if skipped > 0 {
		pterm.Info.Printf("Already delivered: %d\n", skipped)
	}
	pterm.Println()

	return bar
}

func (b *Bar) Observe(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeSent, stats.EventTypeSkipped:
		b.step(evt.MessageID)
	case stats.EventTypeFailed, stats.EventTypeInvalid:
		b.step("")
		if evt.Err != nil {
			pterm.Error.Printf("Message %d: %v\n", evt.Index, evt.Err)
		}
	case stats.EventTypeConnectError:
		if evt.Err != nil {
			pterm.Warning.Printf("Worker %d: %v\n", evt.Worker, evt.Err)
		}
	}
}

func (b *Bar) step(id string) {
	b.done++
	b.pb.Increment()
	if id != "" {
		if len(id) > 40 {
			id = id[:37] + "..."
		}
		b.pb.UpdateTitle("Sent: " + id)
	}
}

// Done returns the number of messages the bar has counted.
func (b *Bar) Done() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Stop finalizes the bar and prints summary.
func (b *Bar) Stop(summary stats.Summary) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Sent: %d\n", summary.Sent)
	pterm.Info.Printf("Skipped (already delivered): %d\n", summary.Skipped)
	pterm.Info.Printf("Invalid: %d\n", summary.Invalid)
	pterm.Info.Printf("Failed: %d\n", summary.Failed)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
	if summary.Failed == 0 && summary.Invalid == 0 {
		pterm.Success.Println("Dispatch complete!")
	}
}
