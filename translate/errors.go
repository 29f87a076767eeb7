package translate

import (
	"strings"

	"github.com/caffeineduck/pyworker/message"
)

// Classification is the response-level description of a failure.
type Classification struct {
	ErrorType   string
	Message     string
	Suggestions []string
}

type rule struct {
	errorType   string
	matches     []string
	suggestions []string
	extras      []extra
}

type extra struct {
	match      string
	suggestion string
}

// rules are checked in order; the first match wins.
var rules = []rule{
	{
		errorType: message.ErrorTypeSyntax,
		matches:   []string{"SyntaxError"},
		suggestions: []string{
			"Check for missing operators, parentheses, or colons",
			"Verify proper indentation",
		},
		extras: []extra{
			{"invalid syntax", "Look for missing operators between statements"},
			{"unexpected EOF", "Check for unclosed parentheses or quotes"},
		},
	},
	{
		errorType: message.ErrorTypeName,
		matches:   []string{"NameError"},
		suggestions: []string{
			"Check if all variables are defined before use",
			"Verify correct spelling of variable names",
		},
	},
	{
		errorType: message.ErrorTypeType,
		matches:   []string{"TypeError"},
		suggestions: []string{
			"Check data types and function arguments",
			"Verify compatibility between operations",
		},
	},
	{
		errorType: message.ErrorTypeImport,
		matches:   []string{"ImportError", "ModuleNotFoundError"},
		suggestions: []string{
			"The required module may not be installed",
			"Check if the module name is correct",
		},
	},
	{
		errorType: message.ErrorTypeIndex,
		matches:   []string{"IndexError"},
		suggestions: []string{
			"Check array/list bounds",
			"Verify index values are within range",
		},
	},
	{
		errorType: message.ErrorTypeKey,
		matches:   []string{"KeyError"},
		suggestions: []string{
			"Check if dictionary key exists",
			"Use .get() method for safe key access",
		},
	},
}

// Classify maps an execution error onto the runtime error taxonomy.
// Unrecognized errors are reported as PythonError without suggestions.
func Classify(err error) Classification {
	msg := err.Error()
	c := Classification{ErrorType: message.ErrorTypePython, Message: msg}

	for _, r := range rules {
		if !containsAny(msg, r.matches) {
			continue
		}
		c.ErrorType = r.errorType
		c.Suggestions = append([]string(nil), r.suggestions...)
		for _, x := range r.extras {
			if strings.Contains(msg, x.match) {
				c.Suggestions = append(c.Suggestions, x.suggestion)
			}
		}
		break
	}

	if len(c.Suggestions) > 0 {
		var b strings.Builder
		b.WriteString(msg)
		b.WriteString("\n\nSuggestions:")
		for _, s := range c.Suggestions {
			b.WriteString("\n• ")
			b.WriteString(s)
		}
		c.Message = b.String()
	}
	return c
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
