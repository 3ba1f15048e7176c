package normalize

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/config"
)

func manyURLs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://example.com/page/%d", i)
	}
	return out
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCalculateDuration(t *testing.T) {
	tests := []struct {
		name      string
		created   string
		completed string
		want      string
	}{
		{"naive iso", "2024-03-01T10:00:00", "2024-03-01T10:02:30", "2m 30s"},
		{"fractional seconds", "2024-03-01T10:00:00.250000", "2024-03-01T10:02:30.900000", "2m 30s"},
		{"zoned", "2024-03-01T10:00:00Z", "2024-03-01T12:00:01+01:00", "60m 1s"},
		{"space separated", "2024-03-01 10:00:00", "2024-03-01 10:00:09", "0m 9s"},
		{"missing completion", "2024-03-01T10:00:00", "", "Unknown"},
		{"missing creation", "", "2024-03-01T10:00:00", "Unknown"},
		{"garbage", "yesterday", "today", "Unknown"},
		{"negative", "2024-03-01T10:05:00", "2024-03-01T10:00:00", "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateDuration(tt.created, tt.completed))
		})
	}
}

func TestParseTimestamp_NaiveIsUTC(t *testing.T) {
	ts, err := ParseTimestamp("2024-03-01T10:00:00.123456")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())
	assert.Equal(t, 10, ts.Hour())

	_, err = ParseTimestamp("   ")
	assert.Error(t, err)
}

func TestHistoryEntry_KatanaTruncatesForDisplay(t *testing.T) {
	urls := manyURLs(75)
	entry := schemas.HistoryEntry{
		ID:          "job-1",
		TaskType:    schemas.TaskRunKatana,
		Status:      "SUCCESS",
		CreatedAt:   "2024-03-01T10:00:00",
		CompletedAt: "2024-03-01T10:02:30",
		Result:      mustJSON(t, map[string]interface{}{"url": "https://example.com", "found_url": urls, "total_found": 75}),
	}

	rec := Default().HistoryEntry(entry)

	require.NotNil(t, rec.Result.Crawl)
	assert.Len(t, rec.Result.Crawl.URLs, 50)
	assert.Equal(t, urls[:50], rec.Result.Crawl.URLs)
	assert.True(t, rec.Result.Crawl.Truncated)
	assert.Equal(t, 75, rec.Result.Crawl.TotalFound)
	assert.Equal(t, "75", rec.Details["results_found"])
	assert.Equal(t, "https://example.com", rec.Target)
	assert.Equal(t, schemas.RecordCompleted, rec.Status)
	assert.Equal(t, "2m 30s", rec.Duration)
	assert.Equal(t, "2024-03-01 07:00:00", rec.Timestamp)
	assert.Equal(t, "Katana Crawling", rec.Label)
	assert.Equal(t, schemas.ToolKatana, rec.Kind)
}

func TestHistoryEntry_KatanaTotalDefaultsToZero(t *testing.T) {
	entry := schemas.HistoryEntry{
		TaskType: schemas.TaskRunKatana,
		Status:   "SUCCESS",
		Result:   mustJSON(t, map[string]interface{}{"found_url": manyURLs(3)}),
	}

	rec := Default().HistoryEntry(entry)

	assert.Equal(t, "0", rec.Details["results_found"])
	assert.Len(t, rec.Result.Crawl.URLs, 3)
	assert.False(t, rec.Result.Crawl.Truncated)
	assert.Equal(t, schemas.Unknown, rec.ID)
	assert.Equal(t, schemas.Unknown, rec.Timestamp)
	assert.Equal(t, schemas.Unknown, rec.Duration)
}

func TestHistoryEntry_Configured(t *testing.T) {
	n := New(config.HistoryConfig{DisplayOffset: time.Hour, TimestampLayout: time.Kitchen, MaxDisplayURLs: 2})
	entry := schemas.HistoryEntry{
		TaskType:  schemas.TaskRunKatana,
		Status:    "SUCCESS",
		CreatedAt: "2024-03-01T10:00:00Z",
		Result:    mustJSON(t, map[string]interface{}{"found_url": manyURLs(5), "total_found": 5}),
	}

	rec := n.HistoryEntry(entry)

	assert.Len(t, rec.Result.Crawl.URLs, 2)
	assert.Equal(t, "11:00AM", rec.Timestamp)
}

func TestHistoryEntry_PerTool(t *testing.T) {
	tests := []struct {
		name        string
		entry       schemas.HistoryEntry
		wantTarget  string
		wantStatus  schemas.RecordStatus
		wantDetails map[string]string
		check       func(t *testing.T, rec schemas.Record)
	}{
		{
			name: "whois",
			entry: schemas.HistoryEntry{
				TaskType: schemas.TaskWhoisLookup, Status: "SUCCESS",
				Result: json.RawMessage(`{"ip_address_or_domain":"example.org","whois_result":"Registrar: Example"}`),
			},
			wantTarget: "example.org",
			wantStatus: schemas.RecordCompleted,
			wantDetails: map[string]string{
				"domain": "example.org", "lookup_type": "Domain Information", "server": "WHOIS Server",
			},
			check: func(t *testing.T, rec schemas.Record) {
				require.NotNil(t, rec.Result.Whois)
				assert.Equal(t, "Registrar: Example", rec.Result.Whois.Output)
			},
		},
		{
			name: "nmap without output",
			entry: schemas.HistoryEntry{
				TaskType: schemas.TaskRunNmap, Status: "SUCCESS",
				Result: json.RawMessage(`{"target":"10.0.0.1"}`),
			},
			wantTarget: "10.0.0.1",
			wantStatus: schemas.RecordCompleted,
			wantDetails: map[string]string{
				"target": "10.0.0.1", "scan_type": "TCP SYN Scan", "ports": "1-65535", "timing": "Normal", "options": "-sV",
			},
			check: func(t *testing.T, rec schemas.Record) {
				assert.Equal(t, noResults, rec.Result.Scan.Output)
			},
		},
		{
			name: "command failure",
			entry: schemas.HistoryEntry{
				TaskType: schemas.TaskRunCommand, Status: "FAILURE",
				Result: json.RawMessage(`{"command":"ls /nope","stdout":"","stderr":"No such file","return_code":2,"error":"exit status 2"}`),
			},
			wantTarget: "ls /nope",
			wantStatus: schemas.RecordFailed,
			wantDetails: map[string]string{
				"command": "ls /nope", "shell": "/bin/bash", "working_dir": "/app",
			},
			check: func(t *testing.T, rec schemas.Record) {
				require.NotNil(t, rec.Result.Command)
				assert.Equal(t, 2, rec.Result.Command.ReturnCode)
				assert.Equal(t, "No such file", rec.Result.Command.Stderr)
				assert.Equal(t, "exit status 2", rec.Result.Error)
			},
		},
		{
			name: "target from parameters",
			entry: schemas.HistoryEntry{
				TaskType: schemas.TaskWhoisLookup, Status: "PENDING",
				Parameters: json.RawMessage(`{"ip_address":"192.0.2.7"}`),
			},
			wantTarget: "192.0.2.7",
			wantStatus: schemas.RecordFailed,
			wantDetails: map[string]string{
				"domain": "192.0.2.7", "lookup_type": "Domain Information", "server": "WHOIS Server",
			},
		},
		{
			name: "missing everything",
			entry: schemas.HistoryEntry{
				TaskType: schemas.TaskRunNmap, Status: "SUCCESS", Result: json.RawMessage(`null`),
			},
			wantTarget: schemas.Unknown,
			wantStatus: schemas.RecordCompleted,
			wantDetails: map[string]string{
				"target": schemas.Unknown, "scan_type": "TCP SYN Scan", "ports": "1-65535", "timing": "Normal", "options": "-sV",
			},
		},
		{
			name: "unknown task type",
			entry: schemas.HistoryEntry{
				ID: "x", TaskType: "add_numbers", Status: "SUCCESS",
				Result: json.RawMessage(`{"sum":3}`),
			},
			wantTarget: unknownTarget,
			wantStatus: schemas.RecordCompleted,
			wantDetails: map[string]string{
				"task_type": "add_numbers", "description": "Unknown task type",
			},
			check: func(t *testing.T, rec schemas.Record) {
				assert.Equal(t, unknownLabel, rec.Label)
				assert.JSONEq(t, `{"sum":3}`, string(rec.Result.Raw))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Default().HistoryEntry(tt.entry)
			assert.Equal(t, tt.wantTarget, rec.Target)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.Equal(t, tt.wantDetails, rec.Details)
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestHistoryEntry_NmapXMLSummary(t *testing.T) {
	xml := `<?xml version="1.0"?>
<nmaprun scanner="nmap">
  <host><status state="up"/>
    <ports>
      <port protocol="tcp" portid="22"><state state="open"/><service name="ssh"/></port>
      <port protocol="tcp" portid="25"><state state="closed"/></port>
      <port protocol="udp" portid="53"><state state="open"/></port>
    </ports>
  </host>
  <host><status state="down"/></host>
</nmaprun>`
	entry := schemas.HistoryEntry{
		TaskType: schemas.TaskRunNmap, Status: "SUCCESS",
		Result: mustJSON(t, map[string]string{"target": "scanme.example", "scan_result": xml}),
	}

	rec := Default().HistoryEntry(entry)

	assert.Equal(t, "1", rec.Details["hosts_up"])
	assert.Equal(t, "22/tcp ssh, 53/udp", rec.Details["open_ports"])
	assert.Equal(t, xml, rec.Result.Scan.Output)
}

func TestSummarizeNmapXML_Rejects(t *testing.T) {
	for _, in := range []string{"", "Starting Nmap 7.94", "<html><body/></html>"} {
		_, ok := summarizeNmapXML(in)
		assert.False(t, ok, in)
	}
}

func TestLive_KatanaMixedItems(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	in := LiveInput{
		Kind:      schemas.ToolKatana,
		Handle:    schemas.JobHandle{TaskID: "t-9"},
		Parameter: "https://example.com",
		Snapshot: schemas.Snapshot{
			Status: schemas.StatusSuccess,
			Result: json.RawMessage(`{"crawl_results":["https://a.example",{"url":"https://b.example"},{"depth":2},7]}`),
		},
		StartedAt:  started,
		FinishedAt: started.Add(95 * time.Second),
	}

	rec := Default().Live(in)

	require.NotNil(t, rec.Result.Crawl)
	assert.Equal(t, []string{"https://a.example", "https://b.example", `{"depth":2}`, "7"}, rec.Result.Crawl.URLs)
	assert.Equal(t, 4, rec.Result.Crawl.TotalFound)
	assert.Equal(t, "https://example.com", rec.Target)
	assert.Equal(t, "t-9", rec.ID)
	assert.Equal(t, "1m 35s", rec.Duration)
	assert.Equal(t, "2024-03-01 10:00:00", rec.Timestamp)
	assert.Equal(t, schemas.RecordCompleted, rec.Status)
}

func TestLive_KeepsFullCrawl(t *testing.T) {
	urls := manyURLs(120)
	in := LiveInput{
		Kind:     schemas.ToolKatana,
		Snapshot: schemas.Snapshot{Status: schemas.StatusSuccess, Result: mustJSON(t, map[string]interface{}{"crawl_results": urls, "total_found": 120})},
	}

	rec := Default().Live(in)

	assert.Len(t, rec.Result.Crawl.URLs, 120)
	assert.False(t, rec.Result.Crawl.Truncated)
	assert.Equal(t, schemas.Unknown, rec.Timestamp)
}

func TestLive_Defaults(t *testing.T) {
	tests := []struct {
		kind schemas.ToolKind
		get  func(schemas.Record) string
	}{
		{schemas.ToolNmap, func(r schemas.Record) string { return r.Result.Scan.Output }},
		{schemas.ToolWhois, func(r schemas.Record) string { return r.Result.Whois.Output }},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			rec := Default().Live(LiveInput{Kind: tt.kind, Parameter: "example.org", Snapshot: schemas.Snapshot{Status: schemas.StatusSuccess}})
			assert.Equal(t, noResults, tt.get(rec))
			assert.Equal(t, "example.org", rec.Target)
		})
	}
}

func TestLive_CommandFailureKeepsOutput(t *testing.T) {
	in := LiveInput{
		Kind:      schemas.ToolCommand,
		Parameter: "false",
		Snapshot: schemas.Snapshot{
			Status: schemas.StatusFailure,
			Result: json.RawMessage(`{"stdout":"partial","stderr":"boom","return_code":"1","error":"Command exited 1"}`),
		},
	}

	rec := Default().Live(in)

	assert.Equal(t, schemas.RecordFailed, rec.Status)
	assert.Equal(t, "Command exited 1", rec.Result.Error)
	require.NotNil(t, rec.Result.Command)
	assert.Equal(t, "partial", rec.Result.Command.Stdout)
	assert.Equal(t, 1, rec.Result.Command.ReturnCode)
	assert.Equal(t, "false", rec.Details["command"])
}

func TestLive_UnknownKind(t *testing.T) {
	rec := Default().Live(LiveInput{Kind: "sqlmap", Snapshot: schemas.Snapshot{Result: json.RawMessage(`{}`)}})
	assert.Equal(t, unknownLabel, rec.Label)
	assert.Equal(t, "sqlmap", rec.Details["task_type"])
}

func TestFields(t *testing.T) {
	f := decodeFields(json.RawMessage(`{"s":"x","n":12.9,"b":false,"z":null,"o":{"k":1},"big":1e40,"ns":" 42 "}`))

	assert.Equal(t, "x", f.text("missing", "s"))
	assert.Equal(t, "", f.text("b", "z"))
	assert.Equal(t, `{"k":1}`, f.text("o"))

	n, ok := f.integer("n")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	_, ok = f.integer("big")
	assert.False(t, ok)
	n, ok = f.integer("ns")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	_, ok = f.urls("s", "o")
	assert.False(t, ok)

	assert.Empty(t, decodeFields(json.RawMessage(`[1,2]`)))
	assert.Equal(t, "2m 5s", FormatDuration(125*time.Second))
}
