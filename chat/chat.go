// Package chat applies chat templates to conversations, adapting each
// conversation to what the template was found to support.
package chat

import (
	"log/slog"

	"github.com/jmorganca/chatcaps/api"
	"github.com/jmorganca/chatcaps/cache"
	"github.com/jmorganca/chatcaps/caps"
	"github.com/jmorganca/chatcaps/polyfill"
	"github.com/jmorganca/chatcaps/template"
)

// Template is a chat template source together with its probed capabilities.
type Template struct {
	source   string
	renderer template.Renderer
	result   caps.Result
	options  polyfill.Options
}

type Option func(*Template)

// WithPolyfills overrides which rewrites Apply may use.
func WithPolyfills(opts polyfill.Options) Option {
	return func(t *Template) { t.options = opts }
}

// New returns the template in source, probing it through c unless it was
// probed before.
func New(r template.Renderer, source string, c *cache.Capabilities, opts ...Option) *Template {
	t := &Template{
		source:   source,
		renderer: r,
		result:   c.Get(source),
		options:  polyfill.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Template) Source() string {
	return t.source
}

func (t *Template) Capabilities() caps.Capabilities {
	return t.result.Capabilities
}

// ToolCallExample returns the inferred tool call syntax, if any.
func (t *Template) ToolCallExample() string {
	return t.result.ToolCallExample
}

// Applicable reports whether ctx can be rendered with t at all. Contexts
// declaring tools need tool call support, and templates without a system
// role cannot carry system messages, including a synthesized tool roster.
func (t *Template) Applicable(ctx api.Context) (ok bool, reason string) {
	c := t.result.Capabilities
	switch {
	case ctx.HasTools() && !c.SupportsToolCalls:
		return false, "tools seem unsupported by template"
	case !c.SupportsSystemRole && ctx.HasSystem():
		return false, "system role unsupported by template"
	case !c.SupportsSystemRole && ctx.HasTools() && !c.SupportsTools:
		return false, "tools would need a system message the template cannot render"
	}
	return true, ""
}

// Apply renders ctx, normalizing it first if the template lacks features it
// uses. If rendering fails, null contents are replaced with empty strings
// and rendering is retried once. A second failure is returned as
// "ERROR: <description>".
func (t *Template) Apply(ctx api.Context) string {
	if polyfill.Needs(t.result.Capabilities, ctx) {
		ctx = polyfill.Normalize(t.result, ctx, t.options)
	}

	out, err := template.Execute(t.renderer, t.source, template.ValuesFor(ctx))
	if err == nil {
		return out
	}
	slog.Debug("render failed, retrying with empty content", "error", err)

	ctx = ctx.Clone()
	for i, m := range ctx.Messages {
		if m.Content.IsNull() {
			ctx.Messages[i].Content = api.Text("")
		}
	}

	out, retryErr := template.Execute(t.renderer, t.source, template.ValuesFor(ctx))
	if retryErr != nil {
		slog.Warn("failed to render template", "error", retryErr, "first", err)
		return "ERROR: " + retryErr.Error()
	}
	return out
}
