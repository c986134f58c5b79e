package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/a3tai/mcp-form-assistant/internal/clipboard"
)

func newCopyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "copy <key> [record]",
		Short: "Copy one manifest field to the clipboard",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, sess, err := setup(cmd, args[1:], false)
			if err != nil {
				return err
			}
			defer sess.Close()
			defer a.flushNotices(cmd.ErrOrStderr())

			key := args[0]
			_, res, err := sess.CopyField(cmd.Context(), key)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), key, res)
		},
	}
}

func newCopyAllCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "copy-all [record]",
		Short: "Copy all fields, or the raw record, as one bulk block",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, sess, err := setup(cmd, args, false)
			if err != nil {
				return err
			}
			defer sess.Close()
			defer a.flushNotices(cmd.ErrOrStderr())

			switch source {
			case "manifest":
				return report(cmd.OutOrStdout(), "all fields", sess.CopyAll(cmd.Context()))
			case "record":
				return report(cmd.OutOrStdout(), "record", sess.CopyRecord(cmd.Context()))
			default:
				return fmt.Errorf("unknown source %q (use manifest or record)", source)
			}
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "manifest", "What to copy: manifest or record")
	return cmd
}

func report(w io.Writer, what string, res clipboard.Result) error {
	switch res.Outcome {
	case clipboard.OutcomeOK:
		fmt.Fprintf(w, "Copied %s\n", what)
	case clipboard.OutcomeFallbackUsed:
		fmt.Fprintf(w, "Copied %s (fallback copy command)\n", what)
	default:
		return fmt.Errorf("copy %s: %w", what, res.Err)
	}
	return nil
}
