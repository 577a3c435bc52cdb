// Package caps infers what a chat template can render by probing it with
// synthetic conversations and looking for the markers that survive.
package caps

import (
	"fmt"
	"slices"

	"github.com/jmorganca/chatcaps/api"
)

// ReasoningFormat is the way a template expects reasoning text to be attached
// to an assistant message.
type ReasoningFormat int

const (
	ReasoningNone ReasoningFormat = iota
	// ReasoningContent is the canonical message.reasoning_content field.
	ReasoningContent
	// ThoughtField is message.thought.
	ThoughtField
	// ThinkingField is message.thinking.
	ThinkingField
	// ToolPlanField is message.tool_plan. It only renders next to tool calls.
	ToolPlanField
	// ContentBlockThinking is a leading {"type": "thinking", "thinking": ...} content block.
	ContentBlockThinking
	// ContentBlockThoughts is a leading {"type": "thoughts", "text": ...} content block.
	ContentBlockThoughts
)

var reasoningFormatNames = []string{
	ReasoningNone:        "NONE",
	ReasoningContent:     "REASONING_CONTENT",
	ThoughtField:         "THOUGHT_FIELD",
	ThinkingField:        "THINKING_FIELD",
	ToolPlanField:        "TOOL_PLAN_FIELD",
	ContentBlockThinking: "CONTENT_BLOCK_THINKING",
	ContentBlockThoughts: "CONTENT_BLOCK_THOUGHTS",
}

// reasoningPriority is the order formats are resolved in when a template
// renders more than one of them.
var reasoningPriority = []ReasoningFormat{
	ReasoningContent,
	ThoughtField,
	ThinkingField,
	ToolPlanField,
	ContentBlockThinking,
	ContentBlockThoughts,
}

func (f ReasoningFormat) String() string {
	if f < 0 || int(f) >= len(reasoningFormatNames) {
		return fmt.Sprintf("ReasoningFormat(%d)", int(f))
	}
	return reasoningFormatNames[f]
}

func (f ReasoningFormat) MarshalText() ([]byte, error) {
	if f < 0 || int(f) >= len(reasoningFormatNames) {
		return nil, fmt.Errorf("unknown reasoning format %d", int(f))
	}
	return []byte(reasoningFormatNames[f]), nil
}

func (f *ReasoningFormat) UnmarshalText(b []byte) error {
	i := slices.Index(reasoningFormatNames, string(b))
	if i < 0 {
		return fmt.Errorf("unknown reasoning format %q", b)
	}
	*f = ReasoningFormat(i)
	return nil
}

// IsContentBlock reports whether f carries reasoning inside message content.
func (f ReasoningFormat) IsContentBlock() bool {
	return f == ContentBlockThinking || f == ContentBlockThoughts
}

// Apply attaches reasoning to msg the way format f expects it. Content block
// formats prepend a block ahead of the existing content; ToolPlanField only
// attaches to messages that already carry tool calls.
func (f ReasoningFormat) Apply(msg *api.Message, reasoning string) {
	switch f {
	case ReasoningNone:
	case ReasoningContent:
		msg.ReasoningContent = reasoning
	case ThoughtField:
		msg.Thought = reasoning
	case ThinkingField:
		msg.Thinking = reasoning
	case ToolPlanField:
		if len(msg.ToolCalls) > 0 {
			msg.ToolPlan = reasoning
		}
	case ContentBlockThinking:
		block := api.ContentBlock{Type: api.BlockThinking, Thinking: reasoning}
		msg.Content = api.Blocks(append([]api.ContentBlock{block}, msg.Content.AsBlocks()...)...)
	case ContentBlockThoughts:
		block := api.ContentBlock{Type: api.BlockThoughts, Text: reasoning}
		msg.Content = api.Blocks(append([]api.ContentBlock{block}, msg.Content.AsBlocks()...)...)
	default:
		panic(fmt.Sprintf("unhandled reasoning format %v", f))
	}
}

// Capabilities is what a template was found to support. It is a pure
// function of the template source under a fixed evaluation environment.
type Capabilities struct {
	SupportsSystemRole              bool            `json:"supports_system_role"`
	SupportsTools                   bool            `json:"supports_tools"`
	SupportsToolCalls               bool            `json:"supports_tool_calls"`
	SupportsToolResponses           bool            `json:"supports_tool_responses"`
	SupportsParallelToolCalls       bool            `json:"supports_parallel_tool_calls"`
	SupportsToolCallID              bool            `json:"supports_tool_call_id"`
	RequiresObjectArguments         bool            `json:"requires_object_arguments"`
	RequiresNonNullContent          bool            `json:"requires_non_null_content"`
	RequiresTypedContentBlocks      bool            `json:"requires_typed_content_blocks"`
	SupportsReasoning               bool            `json:"supports_reasoning"`
	ReasoningFormat                 ReasoningFormat `json:"reasoning_format"`
	ReasoningRequiresTools          bool            `json:"reasoning_requires_tools"`
	SupportsReasoningWithoutContent bool            `json:"supports_reasoning_without_content"`
	SupportsReasoningWithContent    bool            `json:"supports_reasoning_with_content"`
	RespectsEnableReasoning         bool            `json:"respects_enable_reasoning"`
	SupportsClearThinking           bool            `json:"supports_clear_thinking"`
}

// Result is the outcome of probing one template.
type Result struct {
	Capabilities

	// ToolCallExample is a literal sample of the template's native tool call
	// syntax. It is only inferred for templates that cannot declare tools and
	// is empty when inference failed.
	ToolCallExample string `json:"-"`
}
