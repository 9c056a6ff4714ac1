package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/forPelevin/vibecut/internal/usecase"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := NewRoot()
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)

	if err := root.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRoot() *cobra.Command {
	var st state
	root := &cobra.Command{
		Use:           "vibecut",
		Short:         "Find viral moments in a video and cut them losslessly",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "vibecut.yaml", "Config file (missing file means defaults)")
	pf.String("out", "", "Output directory")
	pf.String("log-level", "", "Log level: trace|debug|info|warn|error")
	pf.Bool("log-json", false, "Log as JSON")
	pf.Bool("lenient-timestamps", false, "Treat malformed timestamp parts as 0 instead of failing")
	pf.Duration("timeout", 0, "Stop waiting for a single export after this long (0 = no limit)")

	// Hidden tuning flag (internal)
	pf.Duration("engine-load-timeout", 0, "Engine load timeout")
	_ = pf.MarkHidden("engine-load-timeout")

	root.AddCommand(newAnalyzeCmd(&st), newExportCmd(&st), newTrimCmd(&st))
	return root
}

// printError prints one user-facing line per failed highlight, or the error
// itself when it did not come from an export.
func printError(w io.Writer, err error) {
	var multi interface{ Unwrap() []error }
	if errors.As(err, &multi) {
		for _, e := range multi.Unwrap() {
			printError(w, e)
		}
		return
	}
	var he *usecase.HighlightError
	if errors.As(err, &he) {
		fmt.Fprintf(w, "highlight %d: %s\n", he.Ordinal, usecase.UserMessage(he.Err))
		return
	}
	if isExportError(err) {
		fmt.Fprintln(w, usecase.UserMessage(err))
		return
	}
	fmt.Fprintln(w, err)
}
