// Package reporting writes job records as a JSON export or as plain text.
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/reconctl/api/schemas"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Reporter writes job records to an output.
type Reporter interface {
	// Write adds one record.
	Write(rec schemas.Record) error
	// Close finalizes the report and closes the underlying output.
	Close() error
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// New creates a reporter for format writing to outputPath, or to stdout when
// the path is empty or "stdout".
func New(format, outputPath, toolVersion string) (Reporter, error) {
	var writer io.WriteCloser
	isStdout := outputPath == "" || outputPath == "stdout"

	switch format {
	case FormatJSON, FormatText:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	if isStdout {
		writer = nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer, toolVersion)
}

// NewWithWriter creates a reporter that takes ownership of w.
func NewWithWriter(format string, w io.WriteCloser, toolVersion string) (Reporter, error) {
	switch format {
	case FormatJSON:
		return NewJSONReporter(w, toolVersion), nil
	case FormatText:
		return NewTextReporter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
