package template

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/nikolalohinski/gonja/v2/builtins"
	"github.com/nikolalohinski/gonja/v2/config"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/loaders"
	"github.com/nikolalohinski/gonja/v2/parser"

	"github.com/jmorganca/chatcaps/types/syncmap"
)

// Env is the fixed evaluation environment of an Engine. Probing is only
// deterministic if Now is pinned.
type Env struct {
	BOSToken string
	EOSToken string
	Now      time.Time
}

// Engine renders Jinja2 chat templates with gonja. Templates only ever see
// their own source: statements that load other templates are not available.
type Engine struct {
	config      *config.Config
	environment *exec.Environment
	env         Env
	parsed      *syncmap.SyncMap[string, parsed]
}

type parsed struct {
	tmpl *exec.Template
	err  error
}

var _ Renderer = (*Engine)(nil)

const sourceName = "/chat_template"

// controlStructures lists the statements templates may use. extends, from,
// import and include read other templates and are left out.
var controlStructures = []string{
	"autoescape",
	"block",
	"filter",
	"for",
	"if",
	"macro",
	"raw",
	"set",
	"with",
}

func NewEngine(env Env) *Engine {
	cfg := config.New()
	cfg.TrimBlocks = true
	cfg.LeftStripBlocks = true

	statements := make(map[string]parser.ControlStructureParser, len(controlStructures))
	for _, name := range controlStructures {
		if p, ok := builtins.ControlStructures.Get(name); ok {
			statements[name] = p
		}
	}

	filters := exec.NewFilterSet(map[string]exec.FilterFunction{}).Update(builtins.Filters)
	_ = filters.Replace("tojson", filterToJSON)
	_ = filters.Replace("trim", filterTrim)

	globals := exec.EmptyContext().Update(builtins.GlobalFunctions).Update(builtins.GlobalVariables)
	globals.Set("bos_token", env.BOSToken)
	globals.Set("eos_token", env.EOSToken)
	globals.Set("raise_exception", raiseException)
	globals.Set("strftime_now", func(format string) string {
		return strftime.Format(format, env.Now)
	})

	return &Engine{
		config: cfg,
		environment: &exec.Environment{
			Context:           globals,
			Filters:           filters,
			Tests:             builtins.Tests,
			ControlStructures: exec.NewControlStructureSet(statements),
			Methods:           builtins.Methods,
		},
		env:    env,
		parsed: syncmap.NewSyncMap[string, parsed](),
	}
}

func (e *Engine) Render(source string, bindings map[string]any) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = "", Errorf("template panicked: %v", r)
		}
	}()

	tmpl, err := e.parse(source)
	if err != nil {
		return "", err
	}

	data := make(map[string]any, len(bindings))
	for k, v := range bindings {
		data[k] = v
	}

	s, err = tmpl.ExecuteToString(exec.NewContext(data))
	if err != nil {
		return "", &RenderError{Err: err}
	}

	return s, nil
}

func (e *Engine) parse(source string) (*exec.Template, error) {
	p := e.parsed.LoadOrStore(source, func() parsed {
		loader, err := loaders.NewMemoryLoader(map[string]string{sourceName: source})
		if err != nil {
			return parsed{err: &RenderError{Err: err}}
		}

		tmpl, err := exec.NewTemplate(sourceName, e.config, loader, e.environment)
		if err != nil {
			err = &RenderError{Err: fmt.Errorf("parse: %w", err)}
		}
		return parsed{tmpl: tmpl, err: err}
	})

	return p.tmpl, p.err
}

func raiseException(message string) (string, error) {
	return "", errors.New(message)
}

// filterToJSON serializes without HTML escaping. Objects come out with
// sorted keys since bindings are plain maps.
func filterToJSON(_ *exec.Evaluator, in *exec.Value, params *exec.VarArgs) *exec.Value {
	if in.IsError() {
		return in
	}

	p := params.Expect(0, []*exec.KwArg{{Name: "indent", Default: nil}})
	if p.IsError() {
		return exec.AsValue(fmt.Errorf("wrong signature for 'tojson': %s", p.Error()))
	}

	var indent string
	if v := p.KwArgs["indent"]; !v.IsNil() {
		if !v.IsInteger() {
			return exec.AsValue(fmt.Errorf("expected an integer for 'indent', got %s", v.String()))
		}
		indent = strings.Repeat(" ", v.Integer())
	}

	value := in.ToGoSimpleType(false)
	if err, ok := value.(error); ok {
		return exec.AsValue(err)
	}

	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(value); err != nil {
		return exec.AsValue(fmt.Errorf("tojson: %w", err))
	}

	return exec.AsSafeValue(strings.TrimSuffix(b.String(), "\n"))
}

func filterTrim(_ *exec.Evaluator, in *exec.Value, _ *exec.VarArgs) *exec.Value {
	if in.IsError() {
		return in
	}
	return exec.AsValue(strings.TrimSpace(in.String()))
}
