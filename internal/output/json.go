package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSON writes data as one indented document. Task lists, sections and
// reports all go through here so --json output stays uniform.
func JSON(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

// ErrorResponse is what a failed command prints under --json. Code is one
// of the clierr codes, so scripts can branch on it.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// JSONError writes msg and code as an ErrorResponse. Write errors are
// ignored since the process is about to exit.
func JSONError(w io.Writer, code, msg string, details map[string]any) {
	resp := ErrorResponse{Error: msg, Code: code, Details: details}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
}

// BatchResult is the outcome of one note in a multi-note command.
type BatchResult struct {
	Path  string `json:"path"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}
