package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"gopkg.in/yaml.v3"

	"github.com/jmorganca/chatcaps/api"
	"github.com/jmorganca/chatcaps/cache"
	"github.com/jmorganca/chatcaps/caps"
	"github.com/jmorganca/chatcaps/envconfig"
	"github.com/jmorganca/chatcaps/logutil"
	"github.com/jmorganca/chatcaps/template"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatcaps",
		Short: "Probe chat templates and render conversations with them",
		Long:  "Probe chat templates and render conversations with them\n\nEnvironment Variables:\n" + envVarsHelp(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			slog.SetDefault(logutil.NewLogger(os.Stderr, logutil.Level(envconfig.Debug)))
			// template engine diagnostics are only shown at trace level
			if logutil.Level(envconfig.Debug) > logutil.LevelTrace {
				logrus.SetOutput(io.Discard)
			}
		},
	}

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		NewProbeCmd(),
		NewRenderCmd(),
		NewGoldensCmd(),
		NewReportCmd(),
	)

	return rootCmd
}

func envVarsHelp() string {
	vars := envconfig.AsMap()
	keys := maps.Keys(vars)
	slices.Sort(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %-24s %s\n", vars[k].Name, vars[k].Description)
	}
	return sb.String()
}

// newEngine returns the renderer and capability cache configured from the
// environment.
func newEngine() (*template.Engine, *cache.Capabilities) {
	e := template.NewEngine(template.Env{
		BOSToken: envconfig.BOSToken,
		EOSToken: envconfig.EOSToken,
		Now:      envconfig.TestDate,
	})
	return e, cache.NewCapabilities(caps.New(e, caps.WithEOSToken(envconfig.EOSToken)))
}

// readTemplate reads a template source with {% generation %} tags removed.
func readTemplate(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	source := string(b)
	if rewritten := template.Rewrite(source); rewritten != source {
		slog.Debug("removed generation blocks from template", "template", path)
		source = rewritten
	}
	return source, nil
}

// loadContext reads a conversation from a JSON or YAML file.
func loadContext(path string) (api.Context, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return api.Context{}, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(b, &v); err != nil {
			return api.Context{}, fmt.Errorf("%s: %w", path, err)
		}

		if b, err = json.Marshal(v); err != nil {
			return api.Context{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	var ctx api.Context
	if err := json.Unmarshal(b, &ctx); err != nil {
		return api.Context{}, fmt.Errorf("%s: %w", path, err)
	}

	if err := ctx.Validate(); err != nil {
		return api.Context{}, fmt.Errorf("%s: %w", path, err)
	}
	return ctx, nil
}

// baseName is a file name without directory and extension.
func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
