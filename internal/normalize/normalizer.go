// Package normalize maps the per-tool result payloads of the backend onto the
// uniform job record, for both live poll results and the history listing.
package normalize

import (
	"strconv"
	"time"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/config"
)

const (
	noResults       = "No results"
	unknownLabel    = "Unknown Task"
	unknownTarget   = "N/A"
	defaultMaxURLs  = 50
	defaultLayout   = "2006-01-02 15:04:05"
	defaultOffset   = -3 * time.Hour
	unknownTaskText = "Unknown task type"
)

// Normalizer builds schemas.Record values. The zero value uses the default
// display policy.
type Normalizer struct {
	// MaxDisplayURLs caps crawl lists on the history path.
	MaxDisplayURLs int
	// DisplayOffset shifts backend timestamps before formatting.
	DisplayOffset   time.Duration
	TimestampLayout string
}

// New creates a Normalizer from the history display settings.
func New(cfg config.HistoryConfig) *Normalizer {
	return &Normalizer{
		MaxDisplayURLs:  cfg.MaxDisplayURLs,
		DisplayOffset:   cfg.DisplayOffset,
		TimestampLayout: cfg.TimestampLayout,
	}
}

// Default returns a Normalizer with the stock display policy.
func Default() *Normalizer {
	return &Normalizer{MaxDisplayURLs: defaultMaxURLs, DisplayOffset: defaultOffset, TimestampLayout: defaultLayout}
}

func (n *Normalizer) maxURLs() int {
	if n.MaxDisplayURLs <= 0 {
		return defaultMaxURLs
	}
	return n.MaxDisplayURLs
}

func (n *Normalizer) layout() string {
	if n.TimestampLayout == "" {
		return defaultLayout
	}
	return n.TimestampLayout
}

// LiveInput is a terminal snapshot from the poll loop plus what the caller
// knows about the submission.
type LiveInput struct {
	Kind       schemas.ToolKind
	Handle     schemas.JobHandle
	Parameter  string
	Snapshot   schemas.Snapshot
	StartedAt  time.Time
	FinishedAt time.Time
}

// Live normalizes a result observed by polling. Crawl lists are kept whole.
func (n *Normalizer) Live(in LiveInput) schemas.Record {
	tool, ok := schemas.LookupTool(in.Kind)
	if !ok {
		return n.unknown(in.Handle.TaskID, schemas.TaskType(in.Kind), in.Snapshot.Result)
	}

	rec := schemas.Record{
		ID:        orDefault(in.Handle.TaskID, schemas.Unknown),
		Kind:      tool.Kind,
		TaskType:  tool.TaskType,
		Label:     tool.Label,
		Status:    statusOf(string(in.Snapshot.Status)),
		Timestamp: schemas.Unknown,
		Duration:  schemas.Unknown,
	}
	if !in.StartedAt.IsZero() {
		rec.Timestamp = in.StartedAt.Format(n.layout())
		if !in.FinishedAt.IsZero() {
			rec.Duration = FormatDuration(in.FinishedAt.Sub(in.StartedAt))
		}
	}

	params := fields{tool.BodyKey: quote(in.Parameter)}
	rec.Target, rec.Details, rec.Result = n.shape(tool, decodeFields(in.Snapshot.Result), params, false)
	if rec.Status == schemas.RecordFailed {
		rec.Result.Error = in.Snapshot.FailureReason()
	}
	return rec
}

// HistoryEntry normalizes one element of the history listing. Crawl lists
// longer than MaxDisplayURLs are cut for display; the backend's total is kept.
func (n *Normalizer) HistoryEntry(entry schemas.HistoryEntry) schemas.Record {
	tool, ok := schemas.ToolForTaskType(entry.TaskType)
	if !ok {
		rec := n.unknown(entry.ID, entry.TaskType, entry.Result)
		rec.Status = statusOf(entry.Status)
		rec.Timestamp = n.displayTime(entry.CreatedAt)
		rec.Duration = CalculateDuration(entry.CreatedAt, entry.CompletedAt)
		return rec
	}

	rec := schemas.Record{
		ID:        orDefault(entry.ID, schemas.Unknown),
		Kind:      tool.Kind,
		TaskType:  tool.TaskType,
		Label:     tool.Label,
		Status:    statusOf(entry.Status),
		Timestamp: n.displayTime(entry.CreatedAt),
		Duration:  CalculateDuration(entry.CreatedAt, entry.CompletedAt),
	}
	res := decodeFields(entry.Result)
	rec.Target, rec.Details, rec.Result = n.shape(tool, res, decodeFields(entry.Parameters), true)
	if rec.Status == schemas.RecordFailed {
		rec.Result.Error = res.text("error")
	}
	return rec
}

func (n *Normalizer) displayTime(raw string) string {
	t, err := ParseTimestamp(raw)
	if err != nil {
		return schemas.Unknown
	}
	return t.Add(n.DisplayOffset).Format(n.layout())
}

// shape applies the per-tool mapping. params backs up target fields the
// result object lacks.
func (n *Normalizer) shape(tool schemas.Tool, res, params fields, history bool) (string, map[string]string, schemas.ResultPayload) {
	var payload schemas.ResultPayload

	switch tool.Kind {
	case schemas.ToolWhois:
		target := orDefault(res.text("ip_address_or_domain", "domain"), params.text("ip_address_or_domain", "ip_address"))
		target = orDefault(target, schemas.Unknown)
		payload.Whois = &schemas.TextResult{Output: orDefault(res.text("whois_result"), noResults)}
		return target, map[string]string{
			"domain":      target,
			"lookup_type": "Domain Information",
			"server":      "WHOIS Server",
		}, payload

	case schemas.ToolKatana:
		target := orDefault(orDefault(res.text("url"), params.text("url")), schemas.Unknown)
		keys := []string{"crawl_results", "found_url"}
		if history {
			keys = []string{"found_url", "crawl_results"}
		}
		urls, _ := res.urls(keys...)
		total, ok := res.integer("total_found")
		if !ok && !history {
			total = len(urls)
		}
		crawl := &schemas.CrawlResult{URLs: urls, TotalFound: total}
		if crawl.URLs == nil {
			crawl.URLs = []string{}
		}
		if history && len(urls) > n.maxURLs() {
			crawl.URLs = urls[:n.maxURLs()]
			crawl.Truncated = true
		}
		payload.Crawl = crawl
		return target, map[string]string{
			"url":           target,
			"depth":         "Multiple levels",
			"filters":       "All content types",
			"timeout":       "Default",
			"user_agent":    "Katana/1.0",
			"results_found": strconv.Itoa(total),
		}, payload

	case schemas.ToolNmap:
		target := orDefault(orDefault(res.text("target"), params.text("target")), schemas.Unknown)
		output := orDefault(res.text("scan_result"), noResults)
		payload.Scan = &schemas.TextResult{Output: output}
		details := map[string]string{
			"target":    target,
			"scan_type": "TCP SYN Scan",
			"ports":     "1-65535",
			"timing":    "Normal",
			"options":   "-sV",
		}
		if summary, ok := summarizeNmapXML(output); ok {
			for k, v := range summary {
				details[k] = v
			}
		}
		return target, details, payload

	default: // schemas.ToolCommand
		target := orDefault(orDefault(res.text("command"), params.text("command")), schemas.Unknown)
		code, _ := res.integer("return_code")
		payload.Command = &schemas.CommandResult{
			Stdout:     res.text("stdout"),
			Stderr:     res.text("stderr"),
			ReturnCode: code,
		}
		return target, map[string]string{
			"command":     target,
			"shell":       "/bin/bash",
			"working_dir": "/app",
		}, payload
	}
}

func (n *Normalizer) unknown(id string, taskType schemas.TaskType, raw []byte) schemas.Record {
	rec := schemas.Record{
		ID:        orDefault(id, schemas.Unknown),
		TaskType:  taskType,
		Label:     unknownLabel,
		Target:    unknownTarget,
		Status:    schemas.RecordFailed,
		Timestamp: schemas.Unknown,
		Duration:  schemas.Unknown,
		Details: map[string]string{
			"task_type":   orDefault(string(taskType), schemas.Unknown),
			"description": unknownTaskText,
		},
	}
	if len(raw) > 0 {
		rec.Result.Raw = append([]byte(nil), raw...)
	}
	return rec
}

func statusOf(status string) schemas.RecordStatus {
	if schemas.JobStatus(status) == schemas.StatusSuccess {
		return schemas.RecordCompleted
	}
	return schemas.RecordFailed
}

func quote(s string) []byte {
	b, _ := jsonAPI.Marshal(s)
	return b
}
