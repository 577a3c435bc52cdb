package caps

import (
	"github.com/jmorganca/chatcaps/api"
)

// reasoningMessage builds an assistant turn carrying reasoning in format f.
// Tool plans only render next to tool calls, so those messages get one.
func reasoningMessage(c Capabilities, f ReasoningFormat, reasoning string, body api.Content) api.Message {
	msg := api.Message{Role: api.RoleAssistant, Content: body}
	if f == ToolPlanField {
		msg = toolCallMessage(c, toolCall("test_tool", arguments(c, argumentNeedleArgs())))
	}
	f.Apply(&msg, reasoning)
	return msg
}

// supportsFormat reports whether the template renders reasoning given in
// format f, and whether it only did so next to a tool call.
func (s *session) supportsFormat(c Capabilities, f ReasoningFormat) (ok, requiresTools bool) {
	user := userMessage(c)

	switch f {
	case ReasoningContent:
		out := s.render([]api.Message{user, reasoningMessage(c, f, reasoningNeedle, emptyContent(c))}, nil, nil)
		if s.contains(out, reasoningNeedle) {
			return true, false
		}

		// some templates only show reasoning of turns that call tools
		if c.SupportsToolCalls {
			msg := toolCallMessage(c, toolCall("test_tool", arguments(c, argumentNeedleArgs())))
			msg.ReasoningContent = reasoningNeedle
			out := s.render([]api.Message{user, msg}, nil, nil)
			return s.contains(out, reasoningNeedle), true
		}
		return false, false
	case ToolPlanField:
		if !c.SupportsToolCalls {
			return false, false
		}
		out := s.render([]api.Message{user, reasoningMessage(c, f, reasoningNeedle, emptyContent(c))}, nil, nil)
		return s.contains(out, reasoningNeedle), true
	case ContentBlockThinking, ContentBlockThoughts:
		out := s.render([]api.Message{user, reasoningMessage(c, f, reasoningNeedle, api.Text("response"))}, nil, nil)
		return s.contains(out, reasoningNeedle) && !s.containsAny(out, typeMarkers...), false
	default:
		out := s.render([]api.Message{user, reasoningMessage(c, f, reasoningNeedle, content(c, "response"))}, nil, nil)
		return s.contains(out, reasoningNeedle), false
	}
}

func probeReasoningFormat(s *session, r Result) Result {
	for _, f := range reasoningPriority {
		if ok, requiresTools := s.supportsFormat(r.Capabilities, f); ok {
			r.SupportsReasoning = true
			r.ReasoningFormat = f
			r.ReasoningRequiresTools = requiresTools
			return r
		}
	}
	return r
}

func probeClearThinking(s *session, r Result) Result {
	if r.ReasoningFormat != ReasoningContent {
		return r
	}

	user := userMessage(r.Capabilities)
	out := s.render([]api.Message{
		user,
		reasoningMessage(r.Capabilities, ReasoningContent, firstReasoning, content(r.Capabilities, "first")),
		user,
		reasoningMessage(r.Capabilities, ReasoningContent, secondReasoning, content(r.Capabilities, "second")),
	}, nil, map[string]any{"clear_thinking": false})

	r.SupportsClearThinking = s.contains(out, firstReasoning, secondReasoning)
	return r
}

func probeReasoningBehavior(s *session, r Result) Result {
	// tool plans have no free text content slot to probe
	if !r.SupportsReasoning || r.ReasoningFormat == ToolPlanField {
		return r
	}

	user := userMessage(r.Capabilities)
	f := r.ReasoningFormat

	out := s.render([]api.Message{user, reasoningMessage(r.Capabilities, f, reasonTest, content(r.Capabilities, ""))}, nil, nil)
	r.SupportsReasoningWithoutContent = s.contains(out, reasonTest)

	both := []api.Message{user, reasoningMessage(r.Capabilities, f, reasonTest, content(r.Capabilities, contentTest))}
	out = s.render(both, nil, nil)
	r.SupportsReasoningWithContent = s.contains(out, reasonTest, contentTest)

	if f == ReasoningContent {
		out = s.render(both, nil, map[string]any{"enable_thinking": false})
		r.RespectsEnableReasoning = !s.contains(out, reasonTest) && s.contains(out, contentTest)
	}
	return r
}
