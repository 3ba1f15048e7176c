package schemas

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ToolKind identifies one of the remote reconnaissance tools.
type ToolKind string

const (
	ToolKatana  ToolKind = "katana"
	ToolNmap    ToolKind = "nmap"
	ToolWhois   ToolKind = "whois"
	ToolCommand ToolKind = "command"
)

// TaskType is the discriminator the backend stores for each job in its history listing.
type TaskType string

const (
	TaskWhoisLookup TaskType = "whois_lookup"
	TaskRunKatana   TaskType = "run_katana"
	TaskRunNmap     TaskType = "run_nmap"
	TaskRunCommand  TaskType = "run_command"
)

// ToolMessages holds the log lines emitted over a job's lifecycle.
// Started, Failed and Completed (for katana) are format strings.
type ToolMessages struct {
	Started   string
	Completed string
	Failed    string
	Timeout   string
}

// Tool binds a tool kind to its backend endpoints and display text.
type Tool struct {
	Kind     ToolKind
	Label    string
	TaskType TaskType
	// SubmitPath is the POST endpoint that enqueues a job.
	SubmitPath string
	// statusPrefix and statusSuffix surround the escaped task id.
	statusPrefix string
	statusSuffix string
	// BodyKey is the single JSON key carrying the job parameter.
	BodyKey  string
	Messages ToolMessages
}

// StatusPath returns the polling endpoint for the given task id.
func (t Tool) StatusPath(taskID string) string {
	return t.statusPrefix + url.PathEscape(taskID) + t.statusSuffix
}

var catalog = map[ToolKind]Tool{
	ToolKatana: {
		Kind:         ToolKatana,
		Label:        "Katana Crawling",
		TaskType:     TaskRunKatana,
		SubmitPath:   "/api/run-katana",
		statusPrefix: "/api/katana-result/",
		BodyKey:      "url",
		Messages: ToolMessages{
			Started:   "Started Katana crawling for: %s",
			Completed: "Crawling completed! Found %d URLs",
			Failed:    "Crawling failed: %s",
			Timeout:   "Crawling timeout",
		},
	},
	ToolNmap: {
		Kind:         ToolNmap,
		Label:        "Nmap Scan",
		TaskType:     TaskRunNmap,
		SubmitPath:   "/api/nmap-scan",
		statusPrefix: "/api/nmap-result/",
		BodyKey:      "target",
		Messages: ToolMessages{
			Started:   "Started Nmap scan for: %s",
			Completed: "Nmap scan completed successfully",
			Failed:    "Scan failed: %s",
			Timeout:   "Scan timeout",
		},
	},
	ToolWhois: {
		Kind:         ToolWhois,
		Label:        "Whois Lookup",
		TaskType:     TaskWhoisLookup,
		SubmitPath:   "/api/whois-lookup",
		statusPrefix: "/api/whois-result/",
		BodyKey:      "ip_address_or_domain",
		Messages: ToolMessages{
			Started:   "Started Whois lookup for: %s",
			Completed: "Whois lookup completed successfully",
			Failed:    "Lookup failed: %s",
			Timeout:   "Lookup timeout",
		},
	},
	ToolCommand: {
		Kind:         ToolCommand,
		Label:        "Command Execution",
		TaskType:     TaskRunCommand,
		SubmitPath:   "/api/tasks/command",
		statusPrefix: "/api/tasks/",
		statusSuffix: "/status",
		BodyKey:      "command",
		Messages: ToolMessages{
			Started:   "Started command execution: %s",
			Completed: "Command executed successfully",
			Failed:    "Command failed: %s",
			Timeout:   "Command timeout",
		},
	},
}

// LookupTool returns the catalog entry for a tool kind.
func LookupTool(kind ToolKind) (Tool, bool) {
	t, ok := catalog[kind]
	return t, ok
}

// ToolForTaskType maps a history task_type discriminator back to its tool.
func ToolForTaskType(tt TaskType) (Tool, bool) {
	for _, t := range catalog {
		if t.TaskType == tt {
			return t, true
		}
	}
	return Tool{}, false
}

// Tools lists every known tool ordered by kind.
func Tools() []Tool {
	out := make([]Tool, 0, len(catalog))
	for _, t := range catalog {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// ParseToolKind accepts a tool name case-insensitively.
func ParseToolKind(s string) (ToolKind, error) {
	kind := ToolKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := catalog[kind]; !ok {
		return "", fmt.Errorf("unknown tool kind %q", s)
	}
	return kind, nil
}

// Submission is a validated request to start one job.
type Submission struct {
	Kind      ToolKind
	Parameter string
}

// Validate rejects unknown tools and blank parameters before any network traffic.
func (s Submission) Validate() error {
	tool, ok := LookupTool(s.Kind)
	if !ok {
		return &JobError{Kind: ErrValidation, Op: "submit", Message: fmt.Sprintf("unknown tool kind %q", s.Kind)}
	}
	if strings.TrimSpace(s.Parameter) == "" {
		return &JobError{Kind: ErrValidation, Op: "submit", Message: fmt.Sprintf("%s is required", tool.BodyKey)}
	}
	return nil
}

// Body returns the JSON request body for the submission.
func (s Submission) Body() map[string]string {
	tool, _ := LookupTool(s.Kind)
	return map[string]string{tool.BodyKey: s.Parameter}
}
