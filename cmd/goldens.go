package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmorganca/chatcaps/api"
	"github.com/jmorganca/chatcaps/cache"
	"github.com/jmorganca/chatcaps/chat"
	"github.com/jmorganca/chatcaps/envconfig"
	"github.com/jmorganca/chatcaps/template"
)

func NewGoldensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goldens OUTPUT TEMPLATE [TEMPLATE...]",
		Short: "Write capabilities and renders of templates for a set of conversations",
		Args:  cobra.MinimumNArgs(2),
		RunE:  goldensHandler,
	}

	cmd.Flags().StringSliceP("context", "c", nil, "Conversation file to render, JSON or YAML (repeatable)")

	return cmd
}

type namedContext struct {
	name string
	path string
	ctx  api.Context
}

func goldensHandler(cmd *cobra.Command, args []string) error {
	paths, err := cmd.Flags().GetStringSlice("context")
	if err != nil {
		return err
	}

	contexts := make([]namedContext, 0, len(paths))
	for _, path := range paths {
		ctx, err := loadContext(path)
		if err != nil {
			return err
		}
		contexts = append(contexts, namedContext{name: baseName(path), path: path, ctx: ctx})
	}

	dir := args[0]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	e, c := newEngine()
	w := &lockedWriter{w: cmd.OutOrStdout()}

	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(envconfig.NumParallel)
	for _, path := range args[1:] {
		g.Go(func() error {
			// one template failing does not stop the others
			if err := writeGoldens(w, dir, path, contexts, e, c); err != nil {
				slog.Error("failed to write goldens", "template", path, "error", err)
				failed.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d templates failed", n, len(args)-1)
	}
	return nil
}

func writeGoldens(w io.Writer, dir, path string, contexts []namedContext, r template.Renderer, c *cache.Capabilities) error {
	source, err := readTemplate(path)
	if err != nil {
		return err
	}

	tmpl := chat.New(r, source, c)
	name := baseName(path)

	capsFile := filepath.Join(dir, name+".caps.json")
	b, err := json.MarshalIndent(tmpl.Capabilities(), "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(capsFile, b, 0o644); err != nil {
		return err
	}

	if len(contexts) == 0 {
		fmt.Fprintf(w, "%s %s n/a\n", path, capsFile)
		return nil
	}

	for _, nc := range contexts {
		if ok, reason := tmpl.Applicable(nc.ctx); !ok {
			slog.Info("skipping context", "template", path, "context", nc.name, "reason", reason)
			continue
		}

		outFile := filepath.Join(dir, name+"-"+nc.name+".txt")
		if err := os.WriteFile(outFile, []byte(tmpl.Apply(nc.ctx)), 0o644); err != nil {
			return err
		}

		fmt.Fprintf(w, "%s %s %s %s\n", path, capsFile, nc.path, outFile)
	}

	return nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
