package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

const (
	BlockText     = "text"
	BlockThinking = "thinking"
	BlockThoughts = "thoughts"
)

var ErrInvalidMessage = errors.New("message must have a role and one of content or tool_calls")

// ContentBlock is one typed element of a message's content, e.g.
// {"type": "text", "text": "..."} or {"type": "thinking", "thinking": "..."}.
// Keys other than these, such as image_url, are kept verbatim in Extra.
type ContentBlock struct {
	Type     string                     `json:"type"`
	Text     string                     `json:"text,omitempty"`
	Thinking string                     `json:"thinking,omitempty"`
	Extra    map[string]json.RawMessage `json:"-"`
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	var v struct {
		Type     string  `json:"type"`
		Text     *string `json:"text,omitempty"`
		Thinking *string `json:"thinking,omitempty"`
	}

	v.Type = b.Type
	// thinking blocks carry their payload under "thinking"; every other block keeps "text"
	// even when empty so templates reading block.text never see an undefined value
	if b.Type != BlockThinking || b.Text != "" {
		v.Text = &b.Text
	}
	if b.Type == BlockThinking || b.Thinking != "" {
		v.Thinking = &b.Thinking
	}

	out, err := json.Marshal(v)
	if err != nil || len(b.Extra) == 0 {
		return out, err
	}

	keys := make([]string, 0, len(b.Extra))
	for k := range b.Extra {
		if !isBlockField(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var buf bytes.Buffer
	buf.Write(out[:len(out)-1])
	for _, k := range keys {
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(b.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	type block ContentBlock
	var v block
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	maps.DeleteFunc(fields, func(k string, _ json.RawMessage) bool {
		return isBlockField(k)
	})
	if len(fields) > 0 {
		v.Extra = fields
	}

	*b = ContentBlock(v)
	return nil
}

func isBlockField(k string) bool {
	return k == "type" || k == "text" || k == "thinking"
}

func TextBlock(s string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: s}
}

type contentKind int

const (
	contentNull contentKind = iota
	contentText
	contentBlocks
	contentRaw
)

// Content is a message body: null, plain text, an ordered sequence of typed
// blocks, or (for tool results) any other JSON value kept verbatim.
// The zero value is null.
type Content struct {
	kind   contentKind
	text   string
	blocks []ContentBlock
	raw    json.RawMessage
}

func Text(s string) Content {
	return Content{kind: contentText, text: s}
}

func Blocks(blocks ...ContentBlock) Content {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return Content{kind: contentBlocks, blocks: blocks}
}

func (c Content) IsNull() bool   { return c.kind == contentNull }
func (c Content) IsText() bool   { return c.kind == contentText }
func (c Content) IsBlocks() bool { return c.kind == contentBlocks }

// Blocks returns the typed blocks of c, or nil if c is not block content.
func (c Content) Blocks() []ContentBlock {
	return c.blocks
}

// IsEmpty reports whether c is null or empty text.
func (c Content) IsEmpty() bool {
	return c.kind == contentNull || (c.kind == contentText && c.text == "")
}

// String flattens c to text: text content is returned as is, text-bearing
// blocks are joined with newlines and raw values are returned as JSON.
func (c Content) String() string {
	switch c.kind {
	case contentText:
		return c.text
	case contentBlocks:
		var parts []string
		for _, b := range c.blocks {
			if b.Type == BlockText || b.Type == BlockThoughts {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	case contentRaw:
		return string(c.raw)
	}
	return ""
}

// AsBlocks returns c coerced to block form: plain text becomes a single text
// block, null becomes an empty sequence.
func (c Content) AsBlocks() []ContentBlock {
	switch c.kind {
	case contentText:
		return []ContentBlock{TextBlock(c.text)}
	case contentBlocks:
		return slices.Clone(c.blocks)
	case contentRaw:
		return []ContentBlock{TextBlock(string(c.raw))}
	}
	return []ContentBlock{}
}

func (c Content) Clone() Content {
	c.blocks = slices.Clone(c.blocks)
	for i, b := range c.blocks {
		c.blocks[i].Extra = maps.Clone(b.Extra)
	}
	c.raw = bytes.Clone(c.raw)
	return c
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case contentText:
		return json.Marshal(c.text)
	case contentBlocks:
		if c.blocks == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.blocks)
	case contentRaw:
		return c.raw, nil
	}
	return []byte("null"), nil
}

func (c *Content) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*c = Content{}
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Text(s)
	case b[0] == '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(b, &blocks); err != nil {
			// not a block array, keep the value verbatim
			*c = Content{kind: contentRaw, raw: bytes.Clone(b)}
			return nil
		}
		*c = Blocks(blocks...)
	default:
		if !json.Valid(b) {
			return fmt.Errorf("invalid content: %s", b)
		}
		*c = Content{kind: contentRaw, raw: bytes.Clone(b)}
	}
	return nil
}

type ToolCallFunction struct {
	Name string `json:"name"`
	// Arguments is either a JSON-encoded string or a decoded JSON object.
	Arguments any `json:"arguments"`
}

// ParsedArguments returns the arguments as structured data, decoding them if
// they are held as a JSON string. ok is false if the string does not decode.
func (f ToolCallFunction) ParsedArguments() (v any, ok bool) {
	s, isString := f.Arguments.(string)
	if !isString {
		return f.Arguments, true
	}

	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return f.Arguments, false
	}
	return v, true
}

type ToolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Tool is a tool declaration. Both the OpenAI shape
// {"type": "function", "function": {...}} and the flat shape
// {"name", "description", "parameters"} are accepted on input.
type Tool struct {
	Type     string       `json:"type"`
	Name     string       `json:"name,omitempty"`
	Function ToolFunction `json:"function"`
}

func (t *Tool) UnmarshalJSON(b []byte) error {
	var v struct {
		Type        string          `json:"type"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
		Function    *ToolFunction   `json:"function"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	*t = Tool{Type: v.Type, Name: v.Name}
	if v.Function != nil {
		t.Function = *v.Function
	} else {
		t.Function = ToolFunction{Name: v.Name, Description: v.Description, Parameters: v.Parameters}
	}

	if t.Type == "" {
		t.Type = "function"
	}
	return nil
}

// ToolName returns the declared function name.
func (t Tool) ToolName() string {
	if t.Function.Name != "" {
		return t.Function.Name
	}
	return t.Name
}

type Message struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`

	// ReasoningContent is the canonical reasoning field. Thought, Thinking
	// and ToolPlan are the native fields some templates read instead.
	ReasoningContent string `json:"reasoning_content,omitempty"`
	Thought          string `json:"thought,omitempty"`
	Thinking         string `json:"thinking,omitempty"`
	ToolPlan         string `json:"tool_plan,omitempty"`
}

func (m Message) Clone() Message {
	m.Content = m.Content.Clone()
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			tc.Function.Arguments = cloneValue(tc.Function.Arguments)
			calls[i] = tc
		}
		m.ToolCalls = calls
	}
	return m
}

// Context is the conversation handed to a template: ordered messages, optional
// tool declarations and any extra top-level bindings.
type Context struct {
	Messages            []Message
	Tools               []Tool
	AddGenerationPrompt bool
	Extra               map[string]any
}

func (c Context) HasTools() bool {
	return len(c.Tools) > 0
}

// HasSystem reports whether any message has the system role.
func (c Context) HasSystem() bool {
	return slices.ContainsFunc(c.Messages, func(m Message) bool { return m.Role == RoleSystem })
}

func (c Context) Validate() error {
	for i, m := range c.Messages {
		if m.Role == "" || (m.Content.IsNull() && m.ToolCalls == nil && m.Role != RoleAssistant) {
			return fmt.Errorf("messages[%d]: %w", i, ErrInvalidMessage)
		}
	}
	return nil
}

// Clone returns a deep copy of c. Mutating the copy never affects c.
func (c Context) Clone() Context {
	out := Context{AddGenerationPrompt: c.AddGenerationPrompt}
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		for i, m := range c.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	if c.Tools != nil {
		out.Tools = make([]Tool, len(c.Tools))
		for i, t := range c.Tools {
			t.Function.Parameters = bytes.Clone(t.Function.Parameters)
			out.Tools[i] = t
		}
	}
	if c.Extra != nil {
		out.Extra = cloneValue(c.Extra).(map[string]any)
	}
	return out
}

var contextKeys = []string{"messages", "tools", "add_generation_prompt"}

func (c Context) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Extra)+3)
	maps.Copy(m, c.Extra)
	m["messages"] = c.Messages
	if c.Messages == nil {
		m["messages"] = []Message{}
	}
	if c.Tools != nil {
		m["tools"] = c.Tools
	}
	if c.AddGenerationPrompt {
		m["add_generation_prompt"] = true
	}
	return json.Marshal(m)
}

func (c *Context) UnmarshalJSON(b []byte) error {
	var v struct {
		Messages            []Message `json:"messages"`
		Tools               []Tool    `json:"tools"`
		AddGenerationPrompt bool      `json:"add_generation_prompt"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	var extra map[string]any
	if err := json.Unmarshal(b, &extra); err != nil {
		return err
	}
	for _, k := range contextKeys {
		delete(extra, k)
	}
	if len(extra) == 0 {
		extra = nil
	}

	*c = Context{
		Messages:            v.Messages,
		Tools:               v.Tools,
		AddGenerationPrompt: v.AddGenerationPrompt,
		Extra:               extra,
	}
	return nil
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case json.RawMessage:
		return bytes.Clone(v)
	}
	return v
}
