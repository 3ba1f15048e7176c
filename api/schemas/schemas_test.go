package schemas_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/reconctl/api/schemas"
)

func TestToolCatalog(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		kind       schemas.ToolKind
		submit     string
		status     string
		bodyKey    string
		taskType   schemas.TaskType
		label      string
		timeoutMsg string
	}{
		{schemas.ToolKatana, "/api/run-katana", "/api/katana-result/abc", "url", schemas.TaskRunKatana, "Katana Crawling", "Crawling timeout"},
		{schemas.ToolNmap, "/api/nmap-scan", "/api/nmap-result/abc", "target", schemas.TaskRunNmap, "Nmap Scan", "Scan timeout"},
		{schemas.ToolWhois, "/api/whois-lookup", "/api/whois-result/abc", "ip_address_or_domain", schemas.TaskWhoisLookup, "Whois Lookup", "Lookup timeout"},
		{schemas.ToolCommand, "/api/tasks/command", "/api/tasks/abc/status", "command", schemas.TaskRunCommand, "Command Execution", "Command timeout"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			tool, ok := schemas.LookupTool(tc.kind)
			require.True(t, ok)
			assert.Equal(t, tc.submit, tool.SubmitPath)
			assert.Equal(t, tc.status, tool.StatusPath("abc"))
			assert.Equal(t, tc.bodyKey, tool.BodyKey)
			assert.Equal(t, tc.taskType, tool.TaskType)
			assert.Equal(t, tc.label, tool.Label)
			assert.Equal(t, tc.timeoutMsg, tool.Messages.Timeout)
		})
	}

	assert.Len(t, schemas.Tools(), 4)
}

func TestStatusPathEscapesTaskID(t *testing.T) {
	tool, _ := schemas.LookupTool(schemas.ToolNmap)
	assert.Equal(t, "/api/nmap-result/a%2Fb", tool.StatusPath("a/b"))
}

func TestParseToolKind(t *testing.T) {
	kind, err := schemas.ParseToolKind(" Katana ")
	require.NoError(t, err)
	assert.Equal(t, schemas.ToolKatana, kind)

	_, err = schemas.ParseToolKind("sqlmap")
	assert.Error(t, err)
}

func TestSubmissionValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		s := schemas.Submission{Kind: schemas.ToolWhois, Parameter: "example.com"}
		require.NoError(t, s.Validate())
		assert.Equal(t, map[string]string{"ip_address_or_domain": "example.com"}, s.Body())
	})

	t.Run("blank parameter", func(t *testing.T) {
		err := schemas.Submission{Kind: schemas.ToolKatana, Parameter: "   "}.Validate()
		require.Error(t, err)
		assert.True(t, schemas.IsKind(err, schemas.ErrValidation))
		assert.Contains(t, err.Error(), "url is required")
	})

	t.Run("unknown kind", func(t *testing.T) {
		err := schemas.Submission{Kind: "sqlmap", Parameter: "x"}.Validate()
		assert.True(t, schemas.IsKind(err, schemas.ErrValidation))
	})
}

func TestSnapshotStatus(t *testing.T) {
	testCases := []struct {
		body     string
		terminal bool
	}{
		{`{"status":"SUCCESS","result":{}}`, true},
		{`{"status":"FAILURE"}`, true},
		{`{"status":"PENDING"}`, false},
		{`{"state":"STARTED"}`, false},
		{`{"result":{"stdout":"hi"}}`, false},
		{`{}`, false},
	}
	for _, tc := range testCases {
		t.Run(tc.body, func(t *testing.T) {
			var snap schemas.Snapshot
			require.NoError(t, json.Unmarshal([]byte(tc.body), &snap))
			assert.Equal(t, tc.terminal, snap.Terminal())
		})
	}
}

func TestSnapshotFailureReason(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected string
	}{
		{"top level string", `{"status":"FAILURE","error":"boom"}`, "boom"},
		{"nested in result", `{"status":"FAILURE","result":{"error":"katana missing"}}`, "katana missing"},
		{"object error", `{"status":"FAILURE","error":{"code":7}}`, `{"code":7}`},
		{"nothing", `{"status":"FAILURE","result":null}`, "Unknown error"},
		{"result without error", `{"status":"FAILURE","result":{"stdout":""}}`, "Unknown error"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var snap schemas.Snapshot
			require.NoError(t, json.Unmarshal([]byte(tc.body), &snap))
			assert.Equal(t, tc.expected, snap.FailureReason())
		})
	}
}

func TestJobErrorWrapping(t *testing.T) {
	root := errors.New("connection refused")
	err := fmt.Errorf("tick 3: %w", schemas.NewJobError(schemas.ErrPollTransport, "poll", root))

	assert.ErrorIs(t, err, root)
	kind, ok := schemas.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, schemas.ErrPollTransport, kind)
	assert.Equal(t, "connection refused", schemas.UserMessage(err))

	withStatus := &schemas.JobError{Kind: schemas.ErrSubmission, Op: "submit", Status: 500, Message: "internal"}
	assert.Equal(t, "submit submission (status 500): internal", withStatus.Error())

	_, ok = schemas.KindOf(root)
	assert.False(t, ok)
}

func TestCounterSnapshotMergeIsImmutable(t *testing.T) {
	defaults := schemas.DefaultCounters()
	update := schemas.NewCounterSnapshot([]schemas.Counter{
		{ID: 2, Value: 42},
		{ID: 9, Label: "Archived", Value: 1},
	})

	merged := defaults.Merge(update)

	c, ok := merged.Get(2)
	require.True(t, ok)
	assert.Equal(t, "Completed", c.Label, "blank label keeps the default")
	assert.Equal(t, 42, c.Value)

	archived, ok := merged.Get(9)
	require.True(t, ok)
	assert.Equal(t, "Archived", archived.Label)

	original, _ := defaults.Get(2)
	assert.Equal(t, 5, original.Value, "defaults must not change")
	assert.Equal(t, 35, defaults.Total())
	assert.Equal(t, 10+42+8+12+1, merged.Total())

	ids := []int{}
	for _, c := range merged.Counters() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 9}, ids)
}
