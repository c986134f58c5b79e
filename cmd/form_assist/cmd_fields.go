package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newFieldsCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "fields [record]",
		Short: "List the raw fields of a record as extracted",
		Long: "Lists every key and value read from a JSON record or from the form\n" +
			"fields of a filled PDF, before any rules or defaults are applied.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			rec, err := a.loadRecord(cmd, args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "text":
				if rec.Len() == 0 {
					fmt.Fprintln(out, "No fields found")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, key := range rec.Keys() {
					v, _ := rec.Lookup(key)
					kind := "text"
					if v.IsSequence() {
						kind = fmt.Sprintf("list(%d)", len(v.Items()))
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", key, kind, indentValue(v.String()))
				}
				return tw.Flush()
			case "json":
				fields := make(map[string]interface{}, rec.Len())
				for _, key := range rec.Keys() {
					v, _ := rec.Lookup(key)
					if v.IsSequence() {
						fields[key] = v.Items()
					} else {
						fields[key] = v.String()
					}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(fields)
			default:
				return fmt.Errorf("unknown format %q (use text or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text or json")
	return cmd
}

func indentValue(v string) string {
	return strings.ReplaceAll(v, "\n", " | ")
}
