// Package printer formats hivenode's terminal output.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/dyluth/hive/internal/hive"
	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/knowledge"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Printer writes colored output. The zero value is not usable; use New or Stdout.
type Printer struct {
	out io.Writer
	err io.Writer
}

// New creates a printer writing normal output to out and errors to errOut.
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut}
}

// Stdout prints to the process's stdout and stderr.
func Stdout() *Printer {
	return New(os.Stdout, os.Stderr)
}

// Success prints a success message in green with a checkmark prefix.
func (p *Printer) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(p.out, msg)
}

// Info prints an informational message in the default color.
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Warning prints a warning message in yellow.
func (p *Printer) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(p.out, msg)
}

// Step prints a step message with emphasis.
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a formatted error with an explanation and suggestions to the
// error stream and returns a plain error carrying only the title for Cobra.
func (p *Printer) Error(title, explanation string, suggestions []string) error {
	return p.ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value context lines, printed in key order.
func (p *Printer) ErrorWithContext(title, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(p.err, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(p.err, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(p.err)
		for _, k := range keys {
			fmt.Fprintf(p.err, "  %s: %s\n", k, context[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.err, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

// State prints a node's derived state as aligned key/value lines.
func (p *Printer) State(s hive.State) {
	bold.Fprintf(p.out, "Node %d\n", s.NodeID)
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  swarm health\t%s\n", gauge(s.SwarmHealth))
	fmt.Fprintf(tw, "  collective score\t%.3f\n", s.CollectiveScore)
	fmt.Fprintf(tw, "  autonomy\t%.1f\n", s.Autonomy)
	fmt.Fprintf(tw, "  network health\t%.3f\n", s.NetworkHealth)
	fmt.Fprintf(tw, "  local health\t%.3f\n", s.LocalHealth)
	fmt.Fprintf(tw, "  facts\t%d\n", s.Facts)
	fmt.Fprintf(tw, "  peers\t%d\n", s.Peers)
	fmt.Fprintf(tw, "  messages sent\t%d\n", s.Sequence)
	tw.Flush()
}

// Facts prints facts as a table, most important first.
func (p *Printer) Facts(facts []knowledge.Fact, now time.Time) {
	if len(facts) == 0 {
		p.Info("No facts.\n")
		return
	}
	sorted := make([]knowledge.Fact, len(facts))
	copy(sorted, facts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Importance != sorted[j].Importance {
			return sorted[i].Importance > sorted[j].Importance
		}
		return sorted[i].Name < sorted[j].Name
	})

	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tTRUTH\tCONFIDENCE\tIMPORTANCE\tAGE")
	for _, f := range sorted {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%.1f\t%s\n",
			f.Name, f.Kind, f.Truth, f.Confidence, f.Importance, age(f.UpdatedAt, now))
	}
	tw.Flush()
}

// Responses prints healing responses in arrival order and marks best.
// best is an index into responses, or -1 for none.
func (p *Printer) Responses(responses []healing.Response, best int) {
	if len(responses) == 0 {
		p.Warning("No healing responses received.\n")
		return
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNODE\tACTION\tCONFIDENCE")
	for i, r := range responses {
		mark := ""
		if i == best {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.3f\n", mark, r.RespondingNode, r.RecommendedAction, r.Confidence)
	}
	tw.Flush()
}

func gauge(v float32) string {
	s := fmt.Sprintf("%.3f", v)
	switch {
	case v >= 0.7:
		return green.Sprint(s)
	case v >= 0.4:
		return yellow.Sprint(s)
	default:
		return red.Sprint(s)
	}
}

func age(updated, now time.Time) string {
	if updated.IsZero() {
		return "-"
	}
	return now.Sub(updated).Truncate(time.Second).String()
}
