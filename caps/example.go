package caps

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jmorganca/chatcaps/api"
	"github.com/jmorganca/chatcaps/template"
)

const (
	exampleToolName = "tool_name"
	exampleArgValue = "some_value"
)

// synthesizeExample infers what a tool call looks like in a template that
// cannot declare tools: it renders a user turn with a generation prompt and
// the same turn followed by a tool call, and keeps what the second render
// adds past their common prefix.
func synthesizeExample(s *session, r Result) Result {
	if r.SupportsTools {
		return r
	}

	user := api.Message{Role: api.RoleUser, Content: content(r.Capabilities, "Hey")}
	call := toolCall(exampleToolName, arguments(r.Capabilities, map[string]any{"arg1": exampleArgValue}))

	prefix, err := template.Execute(s.renderer, s.source, template.Values{
		Messages:            []api.Message{user},
		AddGenerationPrompt: true,
	})
	if err != nil {
		slog.Warn("failed to generate tool call example", "error", err)
		return r
	}

	full, err := template.Execute(s.renderer, s.source, template.Values{
		Messages: []api.Message{user, toolCallMessage(r.Capabilities, call)},
	})
	if err != nil {
		slog.Warn("failed to generate tool call example", "error", err)
		return r
	}

	full = trimEOS(full, s.eosToken)
	example := full[commonPrefixLen(prefix, full, s.boundary):]
	if !s.containsAny(example, exampleToolName, exampleArgValue) {
		slog.Warn("failed to infer a tool call example (possible template bug)")
		return r
	}

	r.ToolCallExample = example
	return r
}

// trimEOS removes a trailing end of sequence token, optionally followed by a
// newline.
func trimEOS(s, eos string) string {
	if eos == "" {
		return s
	}
	if t, ok := strings.CutSuffix(s, eos); ok {
		return t
	}
	if t, ok := strings.CutSuffix(s, eos+"\n"); ok {
		return t
	}
	return s
}

// commonPrefixLen returns the length of the common prefix of a and b. Bytes
// matching boundary extend the scan but not the prefix. The result never
// splits a UTF-8 sequence of b.
func commonPrefixLen(a, b string, boundary PrefixBoundary) int {
	var n int
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			break
		}
		if boundary != nil && boundary(a[i]) {
			continue
		}
		n = i + 1
	}

	for n > 0 && n < len(b) && !utf8.RuneStart(b[n]) {
		n--
	}
	return n
}
