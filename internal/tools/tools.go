// Package tools detects fenced tool-call blocks in model output and
// executes them against a closed dispatch table. There is no expression
// evaluation: a block must be a single name(args) call whose name is
// looked up directly in the registry. Expanding the registry is the
// only supported extension mechanism.
package tools

import (
	"fmt"
	"regexp"
	"strings"
)

// fenceRE matches the first ```tool_code fenced block, non-greedy.
var fenceRE = regexp.MustCompile("(?s)```tool_code\\s*(.*?)\\s*```")

// callRE matches a name(args) invocation. Arguments are parsed
// separately by parseArgs.
var callRE = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\((.*)\)$`)

// ParseToolCall returns the trimmed content of the first tool_code
// fenced block in text, or ok=false if none is present.
func ParseToolCall(text string) (string, bool) {
	m := fenceRE.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// Func is a single registered tool operation.
type Func func(args []string) (string, error)

// Registry maps tool names to operations. Lookups are exact; there is
// no fallback resolution of any kind.
type Registry map[string]Func

// DefaultRegistry returns the built-in allow-list. It contains exactly
// one placeholder tool, echo, which returns its first argument.
func DefaultRegistry() Registry {
	return Registry{
		"echo": func(args []string) (string, error) {
			if len(args) == 0 {
				return "", nil
			}
			return args[0], nil
		},
	}
}

// Run parses code as name(args) and dispatches to the registered tool.
// Any parse failure, unknown name, or tool error is converted to an
// error-description string; Run never returns an error to the caller.
func (r Registry) Run(code string) string {
	name, args, err := parseCall(code)
	if err != nil {
		return fmt.Sprintf("Error executing tool: %v", err)
	}

	fn, ok := r[name]
	if !ok {
		return fmt.Sprintf("Error executing tool: unknown tool %q", name)
	}

	out, err := fn(args)
	if err != nil {
		return fmt.Sprintf("Error executing tool: %v", err)
	}
	return out
}

// FormatOutput wraps a tool result in a tool_output fenced block for
// feeding back into the conversation.
func FormatOutput(out string) string {
	return "```tool_output\n" + out + "\n```"
}

// parseCall splits a name(args) invocation into its name and argument
// list.
func parseCall(code string) (string, []string, error) {
	m := callRE.FindStringSubmatch(strings.TrimSpace(code))
	if m == nil {
		return "", nil, fmt.Errorf("not a tool call: %q", code)
	}

	args, err := parseArgs(m[2])
	if err != nil {
		return "", nil, err
	}
	return m[1], args, nil
}

// parseArgs parses a comma-separated argument list. Arguments are
// single- or double-quoted string literals (with \\ and \<quote>
// escapes) or bare unquoted atoms, which are passed through trimmed.
func parseArgs(s string) ([]string, error) {
	var args []string
	runes := []rune(s)
	i := 0

	for {
		for i < len(runes) && isArgSpace(runes[i]) {
			i++
		}
		if i >= len(runes) {
			break
		}

		r := runes[i]
		if r == '"' || r == '\'' {
			quote := r
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				c := runes[i]
				if c == '\\' && i+1 < len(runes) {
					next := runes[i+1]
					if next == quote || next == '\\' {
						sb.WriteRune(next)
						i += 2
						continue
					}
				}
				if c == quote {
					closed = true
					i++
					break
				}
				sb.WriteRune(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string literal")
			}
			args = append(args, sb.String())
		} else {
			start := i
			for i < len(runes) && runes[i] != ',' {
				i++
			}
			atom := strings.TrimSpace(string(runes[start:i]))
			if atom == "" {
				return nil, fmt.Errorf("empty argument")
			}
			args = append(args, atom)
		}

		for i < len(runes) && isArgSpace(runes[i]) {
			i++
		}
		if i >= len(runes) {
			break
		}
		if runes[i] != ',' {
			return nil, fmt.Errorf("unexpected character %q in arguments", runes[i])
		}
		i++
	}

	return args, nil
}

func isArgSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
