package reporting

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xkilldash9x/reconctl/api/schemas"
)

// TextReporter renders each record as it is written.
type TextReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	count  int
}

// NewTextReporter creates a TextReporter that owns writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(rec schemas.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count > 0 {
		if _, err := io.WriteString(r.writer, "\n"); err != nil {
			return err
		}
	}
	r.count++
	return RenderRecord(r.writer, rec)
}

func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Close()
}

// RenderRecord writes a human readable rendering of rec.
func RenderRecord(w io.Writer, rec schemas.Record) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "%s [%s]\n", rec.Label, rec.Status)
	fmt.Fprintf(bw, "  ID:        %s\n", rec.ID)
	fmt.Fprintf(bw, "  Target:    %s\n", rec.Target)
	fmt.Fprintf(bw, "  Timestamp: %s\n", rec.Timestamp)
	fmt.Fprintf(bw, "  Duration:  %s\n", rec.Duration)

	if len(rec.Details) > 0 {
		keys := make([]string, 0, len(rec.Details))
		for k := range rec.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		bw.WriteString("  Details:\n")
		for _, k := range keys {
			fmt.Fprintf(bw, "    %s: %s\n", k, rec.Details[k])
		}
	}

	renderResult(bw, rec.Result)
	return bw.Flush()
}

func renderResult(w *bufio.Writer, res schemas.ResultPayload) {
	switch {
	case res.Crawl != nil:
		if res.Crawl.Truncated {
			fmt.Fprintf(w, "  URLs (showing %d of %d):\n", len(res.Crawl.URLs), res.Crawl.TotalFound)
		} else {
			fmt.Fprintf(w, "  URLs (%d):\n", len(res.Crawl.URLs))
		}
		for _, u := range res.Crawl.URLs {
			fmt.Fprintf(w, "    %s\n", u)
		}
	case res.Scan != nil:
		w.WriteString("  Scan result:\n")
		writeIndented(w, res.Scan.Output)
	case res.Whois != nil:
		w.WriteString("  Whois result:\n")
		writeIndented(w, res.Whois.Output)
	case res.Command != nil:
		if res.Command.Stdout != "" {
			w.WriteString("  Standard output:\n")
			writeIndented(w, res.Command.Stdout)
		}
		if res.Command.Stderr != "" {
			w.WriteString("  Standard error:\n")
			writeIndented(w, res.Command.Stderr)
		}
		fmt.Fprintf(w, "  Return code: %d\n", res.Command.ReturnCode)
	case len(res.Raw) > 0:
		w.WriteString("  Raw result:\n")
		writeIndented(w, string(res.Raw))
	}
	if res.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", res.Error)
	}
}

func writeIndented(w *bufio.Writer, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		w.WriteString("    ")
		w.WriteString(line)
		w.WriteByte('\n')
	}
}
