// Package preprocess rewrites submitted Python source before execution.
//
// Neutralize comments out a small denylist of risky statements and calls
// without changing the number of lines, Lint reports suspicious lines, and
// Wrap embeds the result in a fixed try/except envelope. None of this is a
// security boundary; it only makes common misuse fail loudly.
package preprocess

import (
	"regexp"
	"strings"
)

const disabledSuffix = "  # disabled for security"

// EnvelopeHeaderLines is the number of lines Wrap inserts before user code.
const EnvelopeHeaderLines = 1

var statementRules = []struct {
	pattern *regexp.Regexp
	stmt    string
}{
	{regexp.MustCompile(`^([ \t]*)import[ \t]+os[ \t]*$`), "import os"},
	{regexp.MustCompile(`^([ \t]*)from[ \t]+os[ \t]+import\b`), "from os import"},
	{regexp.MustCompile(`^([ \t]*)import[ \t]+sys[ \t]*$`), "import sys"},
	{regexp.MustCompile(`^([ \t]*)import[ \t]+subprocess[ \t]*$`), "import subprocess"},
}

var callRules = []struct {
	pattern *regexp.Regexp
	name    string
}{
	{regexp.MustCompile(`__import__\s*\(`), "__import__"},
	{regexp.MustCompile(`\bexec\s*\(`), "exec"},
	{regexp.MustCompile(`\beval\s*\(`), "eval"},
}

// Neutralize rewrites denylisted lines into commented form in place. Lines
// that match nothing are returned byte-for-byte.
func Neutralize(source string) string {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		lines[i] = neutralizeLine(line)
	}
	return strings.Join(lines, "\n")
}

// neutralizeLine rewrites one line. A trailing '\r' is kept so CRLF
// sources keep their line endings.
func neutralizeLine(line string) string {
	if body, ok := strings.CutSuffix(line, "\r"); ok {
		return neutralizeLine(body) + "\r"
	}
	for _, rule := range statementRules {
		if m := rule.pattern.FindStringSubmatchIndex(line); m != nil {
			indent := line[m[2]:m[3]]
			rest := line[m[1]:]
			return indent + "# " + rule.stmt + disabledSuffix + rest
		}
	}

	code := line[:commentStart(line)]
	first, firstName := -1, ""
	end := 0
	for _, rule := range callRules {
		if loc := rule.pattern.FindStringIndex(code); loc != nil && (first == -1 || loc[0] < first) {
			first, firstName, end = loc[0], rule.name, loc[1]
		}
	}
	if first == -1 {
		return line
	}
	return line[:first] + "# " + firstName + "(" + disabledSuffix + line[end:]
}

// commentStart returns the index of the first '#' outside a string literal,
// or len(line).
func commentStart(line string) int {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
		case c == '\'' || c == '"':
			quote = c
		case c == '#':
			return i
		}
	}
	return len(line)
}

// Wrap indents source one level inside the execution envelope. Uncaught
// exceptions are printed and re-raised so the caller can classify them.
func Wrap(source string) string {
	var b strings.Builder
	b.WriteString("try:\n")
	for _, line := range strings.Split(source, "\n") {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString(envelopeFooter)
	return b.String()
}

const envelopeFooter = `    pass
except KeyboardInterrupt:
    print("Execution interrupted by user")
except Exception as e:
    print(f"Error: {type(e).__name__}: {e}")
    import traceback
    traceback.print_exc()
    raise
finally:
    pass
`

// Transform neutralizes and wraps source.
func Transform(source string) string {
	return Wrap(Neutralize(source))
}

// IsBlank reports whether source has no content after trimming.
func IsBlank(source string) bool {
	return strings.TrimSpace(source) == ""
}
