package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reconctl/api/schemas"
	"github.com/xkilldash9x/reconctl/internal/observability"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ToolName identifies the producer in an export document.
const ToolName = "reconctl"

// Export is the document written by the JSON reporter.
type Export struct {
	Tool        string           `json:"tool"`
	Version     string           `json:"version"`
	GeneratedAt time.Time        `json:"generated_at"`
	Records     []schemas.Record `json:"records"`
}

// JSONReporter buffers records and writes one indented Export on Close. It
// is safe for concurrent use.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	doc Export
}

// NewJSONReporter creates a JSONReporter that owns writer.
func NewJSONReporter(writer io.WriteCloser, toolVersion string) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
		now:    time.Now,
		doc: Export{
			Tool:    ToolName,
			Version: toolVersion,
			Records: []schemas.Record{},
		},
	}
}

func (r *JSONReporter) Write(rec schemas.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Records = append(r.doc.Records, rec)
	return nil
}

// Close encodes the export and closes the writer. The writer is closed even
// when encoding fails.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.doc.GeneratedAt = r.now().UTC()
	encoder := jsonAPI.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.doc)
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode export", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode JSON export: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote export", zap.Int("records", len(r.doc.Records)))
	return nil
}

// ReadJSON decodes an export written by JSONReporter.
func ReadJSON(r io.Reader) (Export, error) {
	var doc Export
	if err := jsonAPI.NewDecoder(r).Decode(&doc); err != nil {
		return Export{}, fmt.Errorf("failed to decode export: %w", err)
	}
	if doc.Tool != ToolName {
		return Export{}, fmt.Errorf("not a %s export (tool %q)", ToolName, doc.Tool)
	}
	return doc, nil
}
