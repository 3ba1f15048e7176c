package schemas

import "encoding/json"

// RecordStatus is the terminal display status of a job record.
type RecordStatus string

const (
	RecordCompleted RecordStatus = "Completed"
	RecordFailed    RecordStatus = "Failed"
)

// Unknown is the placeholder for any missing display value.
const Unknown = "Unknown"

// Record is the uniform job record produced by both the live poll path and
// the history listing. Renderers choose a label from Kind and never branch
// on the raw backend shape.
type Record struct {
	ID        string            `json:"id"`
	Kind      ToolKind          `json:"kind,omitempty"`
	TaskType  TaskType          `json:"task_type,omitempty"`
	Label     string            `json:"label"`
	Target    string            `json:"target"`
	Timestamp string            `json:"timestamp"`
	Status    RecordStatus      `json:"status"`
	Duration  string            `json:"duration"`
	Details   map[string]string `json:"details"`
	Result    ResultPayload     `json:"result"`
}

// ResultPayload carries the kind-specific output. At most one of the typed
// fields is set.
type ResultPayload struct {
	Crawl   *CrawlResult   `json:"crawl,omitempty"`
	Scan    *TextResult    `json:"scan,omitempty"`
	Whois   *TextResult    `json:"whois,omitempty"`
	Command *CommandResult `json:"command,omitempty"`
	// Raw keeps the untouched payload for kinds the client does not recognise.
	Raw   json.RawMessage `json:"raw,omitempty"`
	Error string          `json:"error,omitempty"`
}

// CrawlResult is the URL list found by a crawl.
type CrawlResult struct {
	URLs []string `json:"urls"`
	// TotalFound is the backend's count, independent of display truncation.
	TotalFound int  `json:"total_found"`
	Truncated  bool `json:"truncated,omitempty"`
}

// TextResult is free-form tool output such as an nmap report or whois text.
type TextResult struct {
	Output string `json:"output"`
}

// CommandResult is the outcome of a shell command.
type CommandResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
}

// HistoryEntry is one element of the backend history listing.
type HistoryEntry struct {
	ID          string          `json:"id"`
	TaskType    TaskType        `json:"task_type"`
	Status      string          `json:"status"`
	CreatedAt   string          `json:"created_at"`
	CompletedAt string          `json:"completed_at"`
	// Parameters echoes the submission body the job was created with.
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Result     json.RawMessage `json:"result"`
}
