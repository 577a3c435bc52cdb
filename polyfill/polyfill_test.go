package polyfill

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorganca/chatcaps/api"
	"github.com/jmorganca/chatcaps/caps"
	"github.com/jmorganca/chatcaps/template"
)

var weatherTool = api.Tool{
	Type: "function",
	Function: api.ToolFunction{
		Name:        "get_weather",
		Description: "Get the current weather",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}`),
	},
}

func weatherCall(args any) api.ToolCall {
	return api.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: api.ToolCallFunction{Name: "get_weather", Arguments: args},
	}
}

// full supports everything a template can
var full = caps.Capabilities{
	SupportsSystemRole:        true,
	SupportsTools:             true,
	SupportsToolCalls:         true,
	SupportsToolResponses:     true,
	SupportsParallelToolCalls: true,
	SupportsToolCallID:        true,
	SupportsReasoning:         true,
	ReasoningFormat:           caps.ReasoningContent,
}

func toolContext() api.Context {
	return api.Context{
		Messages: []api.Message{
			{Role: api.RoleSystem, Content: api.Text("You are a helpful assistant.")},
			{Role: api.RoleUser, Content: api.Text("What's the weather in Paris?")},
			{Role: api.RoleAssistant, ToolCalls: []api.ToolCall{weatherCall(`{"location":"Paris"}`)}},
			{Role: api.RoleTool, Name: "get_weather", Content: api.Text("22C"), ToolCallID: "call_1"},
			{Role: api.RoleAssistant, Content: api.Text("It is 22C in Paris."), ReasoningContent: "The tool said 22C."},
		},
		Tools: []api.Tool{weatherTool},
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestNeeds(t *testing.T) {
	plain := api.Context{Messages: []api.Message{{Role: api.RoleUser, Content: api.Text("Hey")}}}
	system := api.Context{Messages: []api.Message{
		{Role: api.RoleSystem, Content: api.Text("Be brief.")},
		{Role: api.RoleUser, Content: api.Text("Hey")},
	}}
	tools := api.Context{Messages: plain.Messages, Tools: []api.Tool{weatherTool}}
	reasoning := api.Context{Messages: []api.Message{
		{Role: api.RoleUser, Content: api.Text("Hey")},
		{Role: api.RoleAssistant, Content: api.Text("Hi"), ReasoningContent: "greet back"},
	}}

	with := func(fn func(*caps.Capabilities)) caps.Capabilities {
		c := full
		fn(&c)
		return c
	}

	cases := []struct {
		name string
		caps caps.Capabilities
		ctx  api.Context
		want bool
	}{
		{"nothing missing", full, toolContext(), false},
		{"system unsupported", with(func(c *caps.Capabilities) { c.SupportsSystemRole = false }), system, true},
		{"system unsupported without system message", with(func(c *caps.Capabilities) { c.SupportsSystemRole = false }), plain, false},
		{"tools unsupported", with(func(c *caps.Capabilities) { c.SupportsTools = false }), tools, true},
		{"tools unsupported without tools", with(func(c *caps.Capabilities) { c.SupportsTools = false }), plain, false},
		{"tool responses unsupported", with(func(c *caps.Capabilities) { c.SupportsToolResponses = false }), tools, true},
		{"tool calls unsupported", with(func(c *caps.Capabilities) { c.SupportsToolCalls = false }), tools, true},
		{"object arguments", with(func(c *caps.Capabilities) { c.RequiresObjectArguments = true }), tools, true},
		{"typed content", with(func(c *caps.Capabilities) { c.RequiresTypedContentBlocks = true }), plain, true},
		{"native reasoning", with(func(c *caps.Capabilities) { c.ReasoningFormat = caps.ThinkingField }), reasoning, true},
		{"native reasoning without reasoning", with(func(c *caps.Capabilities) { c.ReasoningFormat = caps.ThinkingField }), plain, false},
		{"no reasoning support", with(func(c *caps.Capabilities) { c.ReasoningFormat = caps.ReasoningNone }), reasoning, false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Needs(tt.caps, tt.ctx))
		})
	}
}

func TestNormalizeTools(t *testing.T) {
	c := full
	c.SupportsTools = false

	t.Run("merged into system", func(t *testing.T) {
		got := Normalize(caps.Result{Capabilities: c, ToolCallExample: "<tool_call>"}, toolContext(), DefaultOptions())

		require.Nil(t, got.Tools)
		require.Len(t, got.Messages, 5)
		require.Equal(t, api.RoleSystem, got.Messages[0].Role)

		system := got.Messages[0].Content.String()
		assert.True(t, strings.HasPrefix(system, "You are a helpful assistant.\n\n"+toolsPreamble))
		assert.Contains(t, system, `"name": "get_weather"`)
		assert.Contains(t, system, `"required": [`)
		assert.True(t, strings.HasSuffix(system, "\n\nExample tool call syntax:\n\n<tool_call>\n\n"))
	})

	t.Run("inserted without examples", func(t *testing.T) {
		ctx := toolContext()
		ctx.Messages = ctx.Messages[1:]

		opts := DefaultOptions()
		opts.ToolCallExamples = false
		got := Normalize(caps.Result{Capabilities: c, ToolCallExample: "<tool_call>"}, ctx, opts)

		require.Len(t, got.Messages, 5)
		system := got.Messages[0].Content.String()
		assert.Equal(t, toolsPreamble+marshal([]api.Tool{weatherTool}), system)
	})
}

func TestNormalizeToolCalls(t *testing.T) {
	c := full
	c.SupportsToolCalls = false

	ctx := api.Context{Messages: []api.Message{
		{Role: api.RoleUser, Content: api.Text("Weather?")},
		{Role: api.RoleAssistant, ToolCalls: []api.ToolCall{weatherCall(`{"location":"Paris"}`)}},
		{Role: api.RoleAssistant, Content: api.Text("Let me check."), ToolCalls: []api.ToolCall{weatherCall(`not json`)}},
	}}

	got := Normalize(caps.Result{Capabilities: c}, ctx, DefaultOptions())

	want := `{
  "tool_calls": [
    {
      "name": "get_weather",
      "arguments": {
        "location": "Paris"
      },
      "id": "call_1"
    }
  ]
}`
	if diff := cmp.Diff(want, got.Messages[1].Content.String()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	want = `{
  "tool_calls": [
    {
      "name": "get_weather",
      "arguments": "not json",
      "id": "call_1"
    }
  ],
  "content": "Let me check."
}`
	if diff := cmp.Diff(want, got.Messages[2].Content.String()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	for _, m := range got.Messages {
		assert.Nil(t, m.ToolCalls)
	}
}

func TestNormalizeObjectArguments(t *testing.T) {
	c := full
	c.RequiresObjectArguments = true

	got := Normalize(caps.Result{Capabilities: c}, toolContext(), DefaultOptions())
	assert.Equal(t, map[string]any{"location": "Paris"}, got.Messages[2].ToolCalls[0].Function.Arguments)

	opts := DefaultOptions()
	opts.ObjectArguments = false
	got = Normalize(caps.Result{Capabilities: c}, toolContext(), opts)
	assert.Equal(t, `{"location":"Paris"}`, got.Messages[2].ToolCalls[0].Function.Arguments)
}

func TestNormalizeToolResponses(t *testing.T) {
	c := full
	c.SupportsToolResponses = false

	got := Normalize(caps.Result{Capabilities: c}, toolContext(), DefaultOptions())

	msg := got.Messages[3]
	assert.Equal(t, api.RoleUser, msg.Role)
	assert.Empty(t, msg.Name)
	assert.Equal(t, `{
  "tool_response": {
    "tool": "get_weather",
    "content": "22C",
    "tool_call_id": "call_1"
  }
}`, msg.Content.String())
}

func TestNormalizeReasoning(t *testing.T) {
	cases := []struct {
		format caps.ReasoningFormat
		want   api.Message
	}{
		{caps.ReasoningContent, api.Message{Role: api.RoleAssistant, Content: api.Text("It is 22C."), ReasoningContent: "Hot."}},
		{caps.ThoughtField, api.Message{Role: api.RoleAssistant, Content: api.Text("It is 22C."), Thought: "Hot."}},
		{caps.ThinkingField, api.Message{Role: api.RoleAssistant, Content: api.Text("It is 22C."), Thinking: "Hot."}},
		{caps.ToolPlanField, api.Message{Role: api.RoleAssistant, Content: api.Text("It is 22C.")}},
		{caps.ContentBlockThinking, api.Message{Role: api.RoleAssistant, Content: api.Blocks(
			api.ContentBlock{Type: api.BlockThinking, Thinking: "Hot."},
			api.TextBlock("It is 22C."),
		)}},
		{caps.ContentBlockThoughts, api.Message{Role: api.RoleAssistant, Content: api.Blocks(
			api.ContentBlock{Type: api.BlockThoughts, Text: "Hot."},
			api.TextBlock("It is 22C."),
		)}},
	}

	for _, tt := range cases {
		t.Run(tt.format.String(), func(t *testing.T) {
			c := full
			c.ReasoningFormat = tt.format

			ctx := api.Context{Messages: []api.Message{
				{Role: api.RoleUser, Content: api.Text("Weather?")},
				{Role: api.RoleAssistant, Content: api.Text("It is 22C."), ReasoningContent: "Hot."},
			}}

			got := Normalize(caps.Result{Capabilities: c}, ctx, DefaultOptions())
			assert.Equal(t, mustJSON(t, tt.want), mustJSON(t, got.Messages[1]))
		})
	}

	t.Run("tool plan with tool calls", func(t *testing.T) {
		c := full
		c.ReasoningFormat = caps.ToolPlanField

		ctx := api.Context{Messages: []api.Message{
			{Role: api.RoleUser, Content: api.Text("Weather?")},
			{Role: api.RoleAssistant, ReasoningContent: "Look it up.", ToolCalls: []api.ToolCall{weatherCall(`{}`)}},
		}}

		got := Normalize(caps.Result{Capabilities: c}, ctx, DefaultOptions())
		assert.Equal(t, "Look it up.", got.Messages[1].ToolPlan)
		assert.Empty(t, got.Messages[1].ReasoningContent)
	})
}

func TestNormalizeTypedContent(t *testing.T) {
	c := full
	c.RequiresTypedContentBlocks = true

	got := Normalize(caps.Result{Capabilities: c}, toolContext(), DefaultOptions())
	for _, m := range got.Messages {
		assert.False(t, m.Content.IsText(), "%s message kept plain content", m.Role)
	}

	assert.Equal(t, []api.ContentBlock{api.TextBlock("22C")}, got.Messages[3].Content.Blocks())
	// tool call turns without content stay null
	assert.True(t, got.Messages[2].Content.IsNull())
}

func TestNormalizeSystemRole(t *testing.T) {
	c := full
	c.SupportsSystemRole = false

	ctx := api.Context{Messages: []api.Message{
		{Role: api.RoleSystem, Content: api.Text("Be brief.")},
		{Role: api.RoleSystem, Content: api.Text("Be kind.")},
		{Role: api.RoleUser, Content: api.Text("Hey")},
		{Role: api.RoleAssistant, Content: api.Text("Hi")},
		{Role: api.RoleSystem, Content: api.Text("Wrap up.")},
		{Role: api.RoleAssistant, Content: api.Text("Bye")},
		{Role: api.RoleSystem, Content: api.Text("Done.")},
	}}

	got := Normalize(caps.Result{Capabilities: c}, ctx, DefaultOptions())

	want := []api.Message{
		{Role: api.RoleUser, Content: api.Text("Be brief.\nBe kind.\nHey")},
		{Role: api.RoleAssistant, Content: api.Text("Hi")},
		{Role: api.RoleUser, Content: api.Text("Wrap up.")},
		{Role: api.RoleAssistant, Content: api.Text("Bye")},
		{Role: api.RoleUser, Content: api.Text("Done.")},
	}
	assert.Equal(t, mustJSON(t, want), mustJSON(t, got.Messages))
}

func TestNormalizeSystemRoleNullContent(t *testing.T) {
	c := full
	c.SupportsSystemRole = false

	call := weatherCall(map[string]any{"location": "Paris"})
	ctx := api.Context{Messages: []api.Message{
		{Role: api.RoleSystem},
		{Role: api.RoleUser, Content: api.Text("Hey")},
		{Role: api.RoleSystem, Content: api.Text("Be brief.")},
		{Role: api.RoleAssistant, ToolCalls: []api.ToolCall{call}},
		{Role: api.RoleUser, Content: api.Text("Thanks")},
	}}

	got := Normalize(caps.Result{Capabilities: c}, ctx, DefaultOptions())

	want := []api.Message{
		{Role: api.RoleSystem},
		{Role: api.RoleUser, Content: api.Text("Hey")},
		{Role: api.RoleAssistant, ToolCalls: []api.ToolCall{call}},
		{Role: api.RoleUser, Content: api.Text("Be brief.\nThanks")},
	}
	assert.Equal(t, mustJSON(t, want), mustJSON(t, got.Messages))
}

func TestNormalizeDoesNotMutate(t *testing.T) {
	ctx := toolContext()
	ctx.Messages[2].ToolCalls[0].Function.Arguments = map[string]any{"location": "Paris"}
	before := mustJSON(t, ctx)

	var nothing caps.Capabilities
	nothing.RequiresTypedContentBlocks = true
	nothing.ReasoningFormat = caps.ContentBlockThinking

	_ = Normalize(caps.Result{Capabilities: nothing, ToolCallExample: "<tool_call>"}, ctx, DefaultOptions())

	assert.Equal(t, before, mustJSON(t, ctx))
}

// messages renders the JSON of everything a template would see.
var messages = template.RendererFunc(func(_ string, bindings map[string]any) (string, error) {
	b, err := json.Marshal(bindings)
	return string(b), err
})

func TestNormalizeIdempotent(t *testing.T) {
	results := map[string]caps.Result{
		"nothing supported": {ToolCallExample: "<tool_call>"},
		"typed blocks": {Capabilities: caps.Capabilities{
			SupportsSystemRole:         true,
			RequiresTypedContentBlocks: true,
			ReasoningFormat:            caps.ContentBlockThoughts,
		}},
		"object arguments": {Capabilities: caps.Capabilities{
			SupportsSystemRole:      true,
			SupportsToolCalls:       true,
			RequiresObjectArguments: true,
			ReasoningFormat:         caps.ToolPlanField,
		}},
	}

	for name, r := range results {
		t.Run(name, func(t *testing.T) {
			once := Normalize(r, toolContext(), DefaultOptions())
			twice := Normalize(r, once, DefaultOptions())

			a, err := template.Execute(messages, "", template.ValuesFor(once))
			require.NoError(t, err)
			b, err := template.Execute(messages, "", template.ValuesFor(twice))
			require.NoError(t, err)

			if diff := cmp.Diff(a, b); diff != "" {
				t.Errorf("normalizing twice changed the render (-once +twice):\n%s", diff)
			}
		})
	}
}

func TestToolFallback(t *testing.T) {
	// renders system and user turns but has no syntax for tools
	r := template.RendererFunc(func(_ string, bindings map[string]any) (string, error) {
		var sb strings.Builder
		for _, m := range bindings["messages"].([]any) {
			m := m.(map[string]any)
			if s, ok := m["content"].(string); ok {
				sb.WriteString(m["role"].(string) + ": " + s + "\n")
			}
		}
		return sb.String(), nil
	})

	result := caps.New(r).Probe("")
	require.True(t, result.SupportsSystemRole)
	require.False(t, result.SupportsTools)
	require.False(t, result.SupportsToolCalls)

	ctx := api.Context{
		Messages: []api.Message{
			{Role: api.RoleUser, Content: api.Text("What's the weather in Paris?")},
			{Role: api.RoleAssistant, ToolCalls: []api.ToolCall{weatherCall(`{"location":"Paris"}`)}},
		},
		Tools: []api.Tool{weatherTool},
	}
	require.True(t, Needs(result.Capabilities, ctx))

	out, err := template.Execute(r, "", template.ValuesFor(Normalize(result, ctx, DefaultOptions())))
	require.NoError(t, err)

	schema, err := json.MarshalIndent(json.RawMessage(weatherTool.Function.Parameters), "      ", "  ")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "system: "+toolsPreamble), out)
	assert.Contains(t, out, `"name": "get_weather"`)
	assert.Contains(t, out, `"parameters": `+string(schema))
	assert.Contains(t, out, `"location": "Paris"`)
}
