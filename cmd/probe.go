package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmorganca/chatcaps/caps"
	"github.com/jmorganca/chatcaps/envconfig"
)

func NewProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe TEMPLATE [TEMPLATE...]",
		Short: "Print the capabilities of chat templates",
		Args:  cobra.MinimumNArgs(1),
		RunE:  probeHandler,
	}

	cmd.Flags().Bool("example", false, "Include the inferred tool call example")

	return cmd
}

type probeResponse struct {
	caps.Capabilities
	ToolCallExample string `json:"tool_call_example,omitempty"`
}

func probeHandler(cmd *cobra.Command, args []string) error {
	example, err := cmd.Flags().GetBool("example")
	if err != nil {
		return err
	}

	_, c := newEngine()

	responses := make([]probeResponse, len(args))
	var g errgroup.Group
	g.SetLimit(envconfig.NumParallel)
	for i, path := range args {
		g.Go(func() error {
			source, err := readTemplate(path)
			if err != nil {
				return err
			}

			r := c.Get(source)
			responses[i] = probeResponse{Capabilities: r.Capabilities}
			if example {
				responses[i].ToolCallExample = r.ToolCallExample
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	out := make(map[string]probeResponse, len(args))
	for i, path := range args {
		out[path] = responses[i]
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
