package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmorganca/chatcaps/api"
	"github.com/jmorganca/chatcaps/logutil"
)

// Renderer evaluates a chat template source against a set of bindings.
// Any templating fault is reported as a *RenderError.
type Renderer interface {
	Render(source string, bindings map[string]any) (string, error)
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(source string, bindings map[string]any) (string, error)

func (f RendererFunc) Render(source string, bindings map[string]any) (string, error) {
	return f(source, bindings)
}

type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return e.Err.Error()
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Errorf returns a *RenderError, the form every Renderer reports failures in.
func Errorf(format string, args ...any) error {
	return &RenderError{Err: fmt.Errorf(format, args...)}
}

// Values are the inputs of a single render.
type Values struct {
	Messages            []api.Message
	Tools               []api.Tool
	AddGenerationPrompt bool
	// Extra holds additional top-level bindings, e.g. enable_thinking.
	Extra map[string]any
}

// ValuesFor lifts a conversation context into render values.
func ValuesFor(c api.Context) Values {
	return Values{
		Messages:            c.Messages,
		Tools:               c.Tools,
		AddGenerationPrompt: c.AddGenerationPrompt,
		Extra:               c.Extra,
	}
}

// Bindings converts v into the plain JSON-shaped mapping templates see:
// messages and tools become []any of map[string]any.
func (v Values) Bindings() (map[string]any, error) {
	b := make(map[string]any, len(v.Extra)+3)
	for k, e := range v.Extra {
		b[k] = e
	}

	messages := v.Messages
	if messages == nil {
		messages = []api.Message{}
	}

	var err error
	if b["messages"], err = plain(messages); err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}

	if v.Tools != nil {
		if b["tools"], err = plain(v.Tools); err != nil {
			return nil, fmt.Errorf("tools: %w", err)
		}
	}

	b["add_generation_prompt"] = v.AddGenerationPrompt
	return b, nil
}

// Execute renders source with v.
func Execute(r Renderer, source string, v Values) (string, error) {
	bindings, err := v.Bindings()
	if err != nil {
		return "", &RenderError{Err: err}
	}

	return r.Render(source, bindings)
}

// TryRender renders source with v, reporting failure as ok=false instead of
// an error. Failed renders produce an empty string.
func TryRender(r Renderer, source string, v Values) (s string, ok bool) {
	s, err := Execute(r, source, v)
	if err != nil {
		var rerr *RenderError
		if !errors.As(err, &rerr) {
			slog.Debug("renderer returned an untyped error", "error", err)
		}
		logutil.Trace("render failed", "error", err)
		return "", false
	}

	logutil.Trace("rendered", "output", s)
	return s, true
}

// plain round trips v through JSON. Integral numbers come back as int64 so
// templates print 1 rather than 1.000000.
func plain(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()

	var out any
	if err := d.Decode(&out); err != nil {
		return nil, err
	}
	return numbers(out), nil
}

func numbers(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, e := range v {
			v[k] = numbers(e)
		}
	case []any:
		for i, e := range v {
			v[i] = numbers(e)
		}
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	}
	return v
}
