// Package polyfill rewrites conversations so they render with templates
// that lack some of the features the conversation uses.
package polyfill

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/jmorganca/chatcaps/api"
	"github.com/jmorganca/chatcaps/caps"
	"github.com/jmorganca/chatcaps/logutil"
)

const toolsPreamble = "You can call any of the following tools to satisfy the user's requests: "

// Options toggles individual rewrites. Each only takes effect when the
// template lacks the corresponding feature.
type Options struct {
	Tools            bool
	ToolCallExamples bool
	ToolCalls        bool
	ToolResponses    bool
	SystemRole       bool
	ObjectArguments  bool
	TypedContent     bool
	Reasoning        bool
}

func DefaultOptions() Options {
	return Options{
		Tools:            true,
		ToolCallExamples: true,
		ToolCalls:        true,
		ToolResponses:    true,
		SystemRole:       true,
		ObjectArguments:  true,
		TypedContent:     true,
		Reasoning:        true,
	}
}

// Needs reports whether ctx has to be normalized before it is rendered with
// a template of capabilities c.
func Needs(c caps.Capabilities, ctx api.Context) bool {
	switch {
	case !c.SupportsSystemRole && ctx.HasSystem():
		return true
	case ctx.HasTools() && (!c.SupportsTools || !c.SupportsToolResponses || !c.SupportsToolCalls || c.RequiresObjectArguments):
		return true
	case c.RequiresTypedContentBlocks:
		return true
	}

	return rewritesReasoning(c.ReasoningFormat) && hasReasoning(ctx)
}

// rewritesReasoning reports whether canonical reasoning must be moved for
// templates using format f.
func rewritesReasoning(f caps.ReasoningFormat) bool {
	return f != caps.ReasoningNone && f != caps.ReasoningContent
}

func hasReasoning(ctx api.Context) bool {
	for _, m := range ctx.Messages {
		if m.ReasoningContent != "" {
			return true
		}
	}
	return false
}

// Normalize returns a copy of ctx rewritten to render with a template
// probed as r. ctx itself is never modified.
func Normalize(r caps.Result, ctx api.Context, opts Options) api.Context {
	ctx = ctx.Clone()
	c := r.Capabilities

	if opts.Tools && ctx.HasTools() && !c.SupportsTools {
		var example string
		if opts.ToolCallExamples {
			example = r.ToolCallExample
		}
		ctx.Messages = addSystem(ctx.Messages, toolsPrompt(ctx.Tools, example))
		ctx.Tools = nil
		logutil.Trace("polyfill", "rewrite", "tools")
	}

	inlineCalls := opts.ToolCalls && !c.SupportsToolCalls
	parseArgs := inlineCalls || (opts.ObjectArguments && c.RequiresObjectArguments)
	inlineResponses := opts.ToolResponses && !c.SupportsToolResponses
	moveReasoning := opts.Reasoning && rewritesReasoning(c.ReasoningFormat)

	for i := range ctx.Messages {
		msg := &ctx.Messages[i]
		if len(msg.ToolCalls) > 0 {
			if parseArgs {
				parseArguments(msg)
			}
			if inlineCalls {
				inlineToolCalls(msg)
			}
		}

		if inlineResponses && msg.Role == api.RoleTool {
			inlineToolResponse(msg)
		}

		if moveReasoning && msg.ReasoningContent != "" {
			c.ReasoningFormat.Apply(msg, msg.ReasoningContent)
			msg.ReasoningContent = ""
		}
	}

	if opts.SystemRole && !c.SupportsSystemRole {
		ctx.Messages = foldSystem(ctx.Messages)
	}

	if opts.TypedContent && c.RequiresTypedContentBlocks {
		for i, m := range ctx.Messages {
			if m.Content.IsText() {
				ctx.Messages[i].Content = api.Blocks(m.Content.AsBlocks()...)
			}
		}
	}

	return ctx
}

func toolsPrompt(tools []api.Tool, example string) string {
	var sb strings.Builder
	sb.WriteString(toolsPreamble)
	sb.WriteString(marshal(tools))
	if example != "" {
		sb.WriteString("\n\nExample tool call syntax:\n\n")
		sb.WriteString(example)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// addSystem merges prompt into a leading system message or inserts one.
func addSystem(messages []api.Message, prompt string) []api.Message {
	if len(messages) > 0 && messages[0].Role == api.RoleSystem {
		out := append([]api.Message{}, messages...)
		out[0] = api.Message{Role: api.RoleSystem, Content: api.Text(messages[0].Content.String() + "\n\n" + prompt)}
		return out
	}

	return append([]api.Message{{Role: api.RoleSystem, Content: api.Text(prompt)}}, messages...)
}

// parseArguments decodes string arguments in place. Arguments that are not
// valid JSON are left as they are.
func parseArguments(msg *api.Message) {
	for i, tc := range msg.ToolCalls {
		if !isFunction(tc) {
			continue
		}

		args, ok := tc.Function.ParsedArguments()
		if !ok {
			slog.Debug("failed to parse tool call arguments", "name", tc.Function.Name, "arguments", tc.Function.Arguments)
			continue
		}
		msg.ToolCalls[i].Function.Arguments = args
	}
}

func isFunction(tc api.ToolCall) bool {
	return tc.Type == "" || tc.Type == "function"
}

type inlineCall struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
	ID        string `json:"id,omitempty"`
}

// inlineToolCalls replaces the tool calls of msg with their JSON in content.
func inlineToolCalls(msg *api.Message) {
	var v struct {
		ToolCalls []inlineCall `json:"tool_calls"`
		Content   *api.Content `json:"content,omitempty"`
	}

	v.ToolCalls = []inlineCall{}
	for _, tc := range msg.ToolCalls {
		if !isFunction(tc) {
			continue
		}
		v.ToolCalls = append(v.ToolCalls, inlineCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments, ID: tc.ID})
	}

	if !msg.Content.IsEmpty() && !(msg.Content.IsBlocks() && len(msg.Content.Blocks()) == 0) {
		v.Content = &msg.Content
	}

	msg.Content = api.Text(marshal(v))
	msg.ToolCalls = nil
}

// inlineToolResponse turns a tool message into a user message carrying the
// response as JSON.
func inlineToolResponse(msg *api.Message) {
	var v struct {
		ToolResponse struct {
			Tool       string      `json:"tool,omitempty"`
			Content    api.Content `json:"content"`
			ToolCallID string      `json:"tool_call_id,omitempty"`
		} `json:"tool_response"`
	}

	v.ToolResponse.Tool = msg.Name
	v.ToolResponse.Content = msg.Content
	v.ToolResponse.ToolCallID = msg.ToolCallID

	msg.Role = api.RoleUser
	msg.Content = api.Text(marshal(v))
	msg.Name = ""
}

// foldSystem carries system text into the next user message, or into a user
// message of its own when another role comes first. Messages with null
// content pass through untouched.
func foldSystem(messages []api.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))

	var pending string
	flush := func() {
		if pending != "" {
			out = append(out, api.Message{Role: api.RoleUser, Content: api.Text(pending)})
			pending = ""
		}
	}

	for _, m := range messages {
		if m.Content.IsNull() {
			out = append(out, m)
			continue
		}

		switch m.Role {
		case api.RoleSystem:
			if pending != "" {
				pending += "\n"
			}
			pending += m.Content.String()
			continue
		case api.RoleUser:
			if pending != "" {
				m.Content = prependText(pending, m.Content)
				pending = ""
			}
		default:
			flush()
		}
		out = append(out, m)
	}

	flush()
	return out
}

func prependText(text string, c api.Content) api.Content {
	switch {
	case c.IsBlocks():
		return api.Blocks(append([]api.ContentBlock{api.TextBlock(text)}, c.Blocks()...)...)
	case c.IsEmpty():
		return api.Text(text)
	default:
		return api.Text(text + "\n" + c.String())
	}
}

// marshal encodes v as indented JSON without HTML escaping.
func marshal(v any) string {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Debug("failed to encode polyfill", "error", err)
		return ""
	}
	return strings.TrimSuffix(b.String(), "\n")
}
