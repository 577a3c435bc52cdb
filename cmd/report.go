package cmd

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report CAPS_FILE [CAPS_FILE...]",
		Short: "Tabulate capabilities written by goldens",
		Args:  cobra.MinimumNArgs(1),
		RunE:  reportHandler,
	}

	return cmd
}

type reportRow struct {
	name     string
	caps     map[string]any
	supports int
	requires int
}

func reportHandler(cmd *cobra.Command, args []string) error {
	rows := make([]reportRow, 0, len(args))
	for _, path := range args {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var caps map[string]any
		if err := json.Unmarshal(b, &caps); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		rows = append(rows, newReportRow(strings.TrimSuffix(filepath.Base(path), ".caps.json"), caps))
	}

	writeReport(cmd.OutOrStdout(), rows)
	return nil
}

func newReportRow(name string, caps map[string]any) reportRow {
	row := reportRow{name: name, caps: caps}
	for k, v := range caps {
		if v != true {
			continue
		}

		switch {
		case strings.HasPrefix(k, "supports_"):
			row.supports++
		case strings.HasPrefix(k, "requires_"):
			row.requires++
		}
	}
	return row
}

// sortReport orders rows by most supported features, then fewest
// requirements.
func sortReport(rows []reportRow) {
	slices.SortStableFunc(rows, func(a, b reportRow) int {
		if c := cmp.Compare(b.supports, a.supports); c != 0 {
			return c
		}
		if c := cmp.Compare(a.requires, b.requires); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
}

func reportCell(key string, v any) string {
	switch v := v.(type) {
	case bool:
		switch {
		case !v:
			return ""
		case strings.HasPrefix(key, "requires_"):
			return "⚠️"
		default:
			return "✅"
		}
	case string:
		if v == "NONE" {
			return ""
		}
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func writeReport(w io.Writer, rows []reportRow) {
	columns := treeset.NewWithStringComparator()
	for _, row := range rows {
		for k := range row.caps {
			columns.Add(k)
		}
	}

	keys := make([]string, 0, columns.Size())
	for _, k := range columns.Values() {
		keys = append(keys, k.(string))
	}

	sortReport(rows)

	data := make([][]string, 0, len(rows))
	for _, row := range rows {
		line := []string{row.name}
		for _, k := range keys {
			line = append(line, reportCell(k, row.caps[k]))
		}
		data = append(data, line)
	}

	header := append([]string{"TEMPLATE"}, keys...)

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
