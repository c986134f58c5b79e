package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/a3tai/mcp-form-assistant/internal/assist"
	"github.com/a3tai/mcp-form-assistant/internal/bulk"
)

func newManifestCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "manifest [record]",
		Short: "Print the field manifest for a record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, sess, err := setup(cmd, args, false)
			if err != nil {
				return err
			}
			defer sess.Close()
			defer a.flushNotices(cmd.ErrOrStderr())

			m := sess.Manifest()
			out := cmd.OutOrStdout()
			switch format {
			case "text":
				fmt.Fprint(out, assist.RenderManifest(m))
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			case "bulk":
				text, err := bulk.FormatSource(m)
				if err != nil {
					return err
				}
				fmt.Fprint(out, text)
			default:
				return fmt.Errorf("unknown format %q (use text, json or bulk)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or bulk")
	return cmd
}

func newInstructionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "instructions [record]",
		Short: "Print step-by-step filling instructions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, sess, err := setup(cmd, args, false)
			if err != nil {
				return err
			}
			defer sess.Close()
			defer a.flushNotices(cmd.ErrOrStderr())

			text, err := sess.Instructions()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
