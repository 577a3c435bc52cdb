package caps

import (
	"encoding/json"
	"log/slog"

	"github.com/jmorganca/chatcaps/api"
	"github.com/jmorganca/chatcaps/envconfig"
	"github.com/jmorganca/chatcaps/logutil"
	"github.com/jmorganca/chatcaps/template"
)

const (
	userNeedle      = "<User Needle>"
	systemNeedle    = "<System Needle>"
	reasoningNeedle = "<REASONING_NEEDLE>"
	firstReasoning  = "<FIRST_REASONING>"
	secondReasoning = "<SECOND_REASONING>"
	reasonTest      = "<REASON_TEST>"
	contentTest     = "<CONTENT_TEST>"

	probeToolName    = "some_tool"
	toolResponse     = "Some response!"
	toolResponseID   = "call_911_"
	probeToolCallID  = "call_1___"
	argumentNeedle   = "argument_needle"
	argumentNeedleIn = "print('Hello, World!')"
)

var argumentPatterns = []string{
	"<parameter=" + argumentNeedle + ">",
	`"` + argumentNeedle + `"`,
	"'" + argumentNeedle + "':",
	">" + argumentNeedle + "<",
}

// stringification markers: a template that dumps whole content blocks shows
// their type keys
var typeMarkers = []string{`"type"`, `'type'`}

var probeTool = api.Tool{
	Type: "function",
	Name: probeToolName,
	Function: api.ToolFunction{
		Name:        probeToolName,
		Description: "Some tool.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"arg":{"type":"string","description":"Some argument."}},"required":["arg"]}`),
	},
}

// Prober runs the probe pipeline against templates through a Renderer.
type Prober struct {
	renderer template.Renderer
	matcher  Matcher
	boundary PrefixBoundary
	eosToken string
}

type Option func(*Prober)

// WithMatcher replaces the substring needle matcher.
func WithMatcher(m Matcher) Option {
	return func(p *Prober) { p.matcher = m }
}

// WithPrefixBoundary replaces the rule used while scanning for the common
// prefix during tool call example synthesis. A nil boundary disables it.
func WithPrefixBoundary(b PrefixBoundary) Option {
	return func(p *Prober) { p.boundary = b }
}

// WithEOSToken sets the end of sequence token trimmed from example renders.
// It should match the renderer's eos_token.
func WithEOSToken(eos string) Option {
	return func(p *Prober) { p.eosToken = eos }
}

func New(r template.Renderer, opts ...Option) *Prober {
	p := &Prober{
		renderer: r,
		matcher:  Substring,
		boundary: AngleBracket,
		eosToken: envconfig.EOSToken,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type step struct {
	name string
	run  func(*session, Result) Result
}

// steps run in order; each sees everything its predecessors found.
var steps = []step{
	{"typed content", probeTypedContent},
	{"system role", probeSystemRole},
	{"tools", probeTools},
	{"non-null content", probeNonNullContent},
	{"tool call arguments", probeToolCallArguments},
	{"tool calls", probeToolCalls},
	{"tool call example", synthesizeExample},
	{"reasoning format", probeReasoningFormat},
	{"clear thinking", probeClearThinking},
	{"reasoning behavior", probeReasoningBehavior},
}

// Probe infers the capabilities of the template in source. It never fails:
// a render error counts as the probed marker being absent.
func (p *Prober) Probe(source string) Result {
	s := &session{Prober: p, source: source}

	var r Result
	for _, step := range steps {
		r = step.run(s, r)
		logutil.Trace("probe step", "step", step.name, "capabilities", r.Capabilities)
	}

	slog.Debug("probed template", "capabilities", r.Capabilities, "example", r.ToolCallExample != "")
	return r
}

// session is a single Probe call.
type session struct {
	*Prober
	source string
}

func (s *session) render(messages []api.Message, tools []api.Tool, extra map[string]any) string {
	out, _ := template.TryRender(s.renderer, s.source, template.Values{
		Messages: messages,
		Tools:    tools,
		Extra:    extra,
	})
	return out
}

func (s *session) contains(out string, needles ...string) bool {
	for _, needle := range needles {
		if !s.matcher.Contains(out, needle) {
			return false
		}
	}
	return true
}

func (s *session) containsAny(out string, needles ...string) bool {
	for _, needle := range needles {
		if s.matcher.Contains(out, needle) {
			return true
		}
	}
	return false
}

// content returns text in the content form the template requires.
func content(c Capabilities, text string) api.Content {
	if c.RequiresTypedContentBlocks {
		return api.Blocks(api.TextBlock(text))
	}
	return api.Text(text)
}

// emptyContent is the content of messages that carry nothing but tool calls.
func emptyContent(c Capabilities) api.Content {
	if c.RequiresNonNullContent {
		return api.Text("")
	}
	return api.Content{}
}

func userMessage(c Capabilities) api.Message {
	return api.Message{Role: api.RoleUser, Content: content(c, userNeedle)}
}

// arguments returns args encoded the way the template accepts them.
func arguments(c Capabilities, args map[string]any) any {
	if c.RequiresObjectArguments {
		return args
	}
	b, _ := json.Marshal(args)
	return string(b)
}

func toolCall(name string, args any) api.ToolCall {
	return api.ToolCall{
		ID:       probeToolCallID,
		Type:     "function",
		Function: api.ToolCallFunction{Name: name, Arguments: args},
	}
}

func toolCallMessage(c Capabilities, calls ...api.ToolCall) api.Message {
	return api.Message{Role: api.RoleAssistant, Content: emptyContent(c), ToolCalls: calls}
}

func argumentNeedleArgs() map[string]any {
	return map[string]any{argumentNeedle: argumentNeedleIn}
}

func probeTypedContent(s *session, r Result) Result {
	plain := api.Message{Role: api.RoleUser, Content: api.Text(userNeedle)}
	typed := api.Message{Role: api.RoleUser, Content: api.Blocks(api.TextBlock(userNeedle))}

	r.RequiresTypedContentBlocks = !s.contains(s.render([]api.Message{plain}, nil, nil), userNeedle) &&
		s.contains(s.render([]api.Message{typed}, nil, nil), userNeedle)
	return r
}

func probeSystemRole(s *session, r Result) Result {
	system := api.Message{Role: api.RoleSystem, Content: content(r.Capabilities, systemNeedle)}
	out := s.render([]api.Message{system, userMessage(r.Capabilities)}, nil, nil)
	r.SupportsSystemRole = s.contains(out, systemNeedle)
	return r
}

func probeTools(s *session, r Result) Result {
	out := s.render([]api.Message{userMessage(r.Capabilities)}, []api.Tool{probeTool}, nil)
	r.SupportsTools = s.contains(out, probeToolName)
	return r
}

func probeNonNullContent(s *session, r Result) Result {
	user := userMessage(r.Capabilities)
	// two assistant turns since some templates treat the last one differently
	withContent := func(c api.Content) string {
		assistant := api.Message{Role: api.RoleAssistant, Content: c}
		return s.render([]api.Message{user, assistant, user, assistant}, nil, nil)
	}

	r.RequiresNonNullContent = s.contains(withContent(api.Text("")), userNeedle) &&
		!s.contains(withContent(api.Content{}), userNeedle)
	return r
}

func probeToolCallArguments(s *session, r Result) Result {
	user := userMessage(r.Capabilities)
	args := argumentNeedleArgs()
	encoded, _ := json.Marshal(args)

	renders := func(args any) bool {
		out := s.render([]api.Message{
			user,
			toolCallMessage(r.Capabilities, toolCall("ipython", args)),
		}, nil, nil)
		return s.containsAny(out, argumentPatterns...)
	}

	str, obj := renders(string(encoded)), renders(args)
	r.SupportsToolCalls = str || obj
	r.RequiresObjectArguments = !str && obj
	return r
}

func probeToolCalls(s *session, r Result) Result {
	if !r.SupportsToolCalls {
		return r
	}

	user := userMessage(r.Capabilities)
	args := arguments(r.Capabilities, argumentNeedleArgs())
	tc1, tc2 := toolCall("test_tool1", args), toolCall("test_tool2", args)

	out := s.render([]api.Message{user, toolCallMessage(r.Capabilities, tc1, tc2)}, nil, nil)
	r.SupportsParallelToolCalls = s.contains(out, "test_tool1", "test_tool2")

	out = s.render([]api.Message{
		user,
		toolCallMessage(r.Capabilities, tc1),
		{Role: api.RoleTool, Name: "test_tool1", Content: api.Text(toolResponse), ToolCallID: toolResponseID},
	}, nil, nil)
	r.SupportsToolResponses = s.contains(out, toolResponse)
	r.SupportsToolCallID = s.contains(out, toolResponseID)
	return r
}
