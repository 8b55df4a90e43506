// Package output renders task lists, agendas, dependency views and reports
// for the terminal, plus the JSON documents scripts consume.
package output

import (
	"os"
	"strings"
)

// Format selects how a command renders its result.
type Format int

const (
	// FormatAuto defers to TASKVAULT_OUTPUT, then the table view.
	FormatAuto Format = iota
	// FormatJSON emits one JSON document per command.
	FormatJSON
	// FormatTable renders lipgloss tables with status and priority colors.
	FormatTable
	// FormatCompact prints one task or section per line for grep and fzf.
	FormatCompact
)

// EnvFormat names the environment variable consulted when no format flag is set.
const EnvFormat = "TASKVAULT_OUTPUT"

var envFormats = map[string]Format{
	"json":    FormatJSON,
	"table":   FormatTable,
	"compact": FormatCompact,
	"oneline": FormatCompact,
}

// Detect picks the format for a command. --json wins over --compact, which
// wins over --table; without flags TASKVAULT_OUTPUT decides, and an unset
// or unknown value means the table view.
func Detect(jsonFlag, tableFlag, compactFlag bool) Format {
	switch {
	case jsonFlag:
		return FormatJSON
	case compactFlag:
		return FormatCompact
	case tableFlag:
		return FormatTable
	}
	if f, ok := envFormats[strings.ToLower(strings.TrimSpace(os.Getenv(EnvFormat)))]; ok {
		return f
	}
	return FormatTable
}
