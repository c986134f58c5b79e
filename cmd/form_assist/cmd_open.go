package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOpenCmd() *cobra.Command {
	var keepOpen bool
	cmd := &cobra.Command{
		Use:   "open [record]",
		Short: "Open the application form and highlight the key fields",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, sess, err := setup(cmd, args, true)
			if err != nil {
				return err
			}
			defer sess.Close()
			defer a.flushNotices(cmd.ErrOrStderr())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Login: %s\nForm:  %s\n", sess.LoginURL(), sess.FormURL())
			if err := sess.OpenForm(cmd.Context()); err != nil {
				// The notice already tells the operator where to go.
				return nil
			}
			sess.Wait()

			if keepOpen && a.cfg.OpenBrowser {
				fmt.Fprintln(out, "Form window open. Press Ctrl+C to close it.")
				<-cmd.Context().Done()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepOpen, "keep-open", true, "Keep the form window open until interrupted")
	return cmd
}
