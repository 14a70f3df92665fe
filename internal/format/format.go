package format

import (
	"encoding/json"
	"fmt"
)

// OutputFormat represents the format for one-shot mode output
type OutputFormat string

const (
	// TextFormat is plain text output (default)
	TextFormat OutputFormat = "text"

	// JSONFormat is output wrapped in a JSON object
	JSONFormat OutputFormat = "json"
)

// IsValid checks if the output format is valid
func (f OutputFormat) IsValid() bool {
	return f == TextFormat || f == JSONFormat
}

// String returns the string representation of the output format
func (f OutputFormat) String() string {
	return string(f)
}

// Result is one finished generation prepared for output.
type Result struct {
	Response           string   `json:"response"`
	Citations          []string `json:"citations,omitempty"`
	SuggestedQuestions []string `json:"suggestedQuestions,omitempty"`
}

// Output renders a result according to the specified format. Text output is
// the bare response; JSON carries the citations and suggested follow-ups
// alongside it.
func Output(result Result, format OutputFormat) (string, error) {
	switch format {
	case TextFormat:
		return result.Response, nil
	case JSONFormat:
		jsonBytes, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return string(jsonBytes), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
