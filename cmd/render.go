package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmorganca/chatcaps/chat"
	"github.com/jmorganca/chatcaps/polyfill"
)

func NewRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render TEMPLATE CONTEXT [CONTEXT...]",
		Short: "Render conversations with a chat template",
		Args:  cobra.MinimumNArgs(2),
		RunE:  renderHandler,
	}

	cmd.Flags().Bool("raw", false, "Render without adapting conversations to the template")

	return cmd
}

func renderHandler(cmd *cobra.Command, args []string) error {
	raw, err := cmd.Flags().GetBool("raw")
	if err != nil {
		return err
	}

	source, err := readTemplate(args[0])
	if err != nil {
		return err
	}

	var opts []chat.Option
	if raw {
		opts = append(opts, chat.WithPolyfills(polyfill.Options{}))
	}

	e, c := newEngine()
	tmpl := chat.New(e, source, c, opts...)

	for _, path := range args[1:] {
		ctx, err := loadContext(path)
		if err != nil {
			return err
		}

		if ok, reason := tmpl.Applicable(ctx); !ok {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %s\n", path, reason)
			continue
		}

		if len(args) > 2 {
			fmt.Fprintf(cmd.OutOrStdout(), "==> %s <==\n", path)
		}
		fmt.Fprintln(cmd.OutOrStdout(), tmpl.Apply(ctx))
	}

	return nil
}
