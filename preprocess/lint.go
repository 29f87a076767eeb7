package preprocess

import (
	"fmt"
	"regexp"
	"strings"
)

// WarningKind classifies a lint finding.
type WarningKind int

const (
	// MissingOperator flags two call-like tokens with nothing between them.
	MissingOperator WarningKind = iota
	// IncompleteBlock flags a final line that opens a block.
	IncompleteBlock
)

// Warning is a non-blocking lint finding. Line is 1-based.
type Warning struct {
	Kind WarningKind
	Line int
	Text string
}

func (w Warning) String() string {
	switch w.Kind {
	case MissingOperator:
		return fmt.Sprintf("potential syntax error on line %d: %s", w.Line, w.Text)
	default:
		return fmt.Sprintf("incomplete statement on line %d: %s", w.Line, w.Text)
	}
}

var adjacentCall = regexp.MustCompile(`\w+\(\w*\)\w+`)

// Lint scans source for likely mistakes. It never changes the source.
func Lint(source string) []Warning {
	var warnings []Warning
	lines := strings.Split(source, "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if adjacentCall.MatchString(line) && !strings.Contains(line, "=") {
			warnings = append(warnings, Warning{Kind: MissingOperator, Line: i + 1, Text: line})
		}
		if i == len(lines)-1 && strings.HasSuffix(line, ":") {
			warnings = append(warnings, Warning{Kind: IncompleteBlock, Line: i + 1, Text: line})
		}
	}
	return warnings
}
