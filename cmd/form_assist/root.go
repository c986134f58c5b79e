package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/a3tai/mcp-form-assistant/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "form_assist",
		Short: "Transcribe an extracted certificate record into the Invesco application form",
		Long: "form_assist prints the field manifest and filling instructions for a certificate\n" +
			"record, copies field values to the clipboard and opens the application form.\n\n" +
			"Records are JSON documents or filled PDF forms read from inside --dir.\n" +
			"Pass - to read a JSON record from standard input.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	config.DefineFlags(rootCmd.PersistentFlags(), config.DefaultConfig())

	rootCmd.AddCommand(newManifestCmd())
	rootCmd.AddCommand(newInstructionsCmd())
	rootCmd.AddCommand(newCopyCmd())
	rootCmd.AddCommand(newCopyAllCmd())
	rootCmd.AddCommand(newOpenCmd())
	rootCmd.AddCommand(newFieldsCmd())
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
