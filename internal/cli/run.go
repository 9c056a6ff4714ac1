package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/forPelevin/vibecut/internal/config"
	"github.com/forPelevin/vibecut/internal/export"
	"github.com/forPelevin/vibecut/internal/logging"
	"github.com/forPelevin/vibecut/internal/pipeline"
	"github.com/forPelevin/vibecut/internal/usecase"
)

const runTimeout = 3 * time.Hour

// state is shared by every subcommand of one invocation.
type state struct {
	cfg *config.Config
	log zerolog.Logger
	p   *pipeline.Pipeline
}

func (s *state) init(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if flags.Changed("out") {
		cfg.OutDir, _ = flags.GetString("out")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}
	if flags.Changed("lenient-timestamps") {
		cfg.Export.LenientTimestamps, _ = flags.GetBool("lenient-timestamps")
	}
	if flags.Changed("timeout") {
		cfg.Export.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("engine-load-timeout") {
		cfg.Engine.LoadTimeout, _ = flags.GetDuration("engine-load-timeout")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	s.cfg = cfg
	s.log = logging.New(cfg.Log.Level, cmd.ErrOrStderr(), cfg.Log.JSON)
	s.p = pipeline.New(cfg, s.log)
	return nil
}

func newAnalyzeCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <input>",
		Short: "Analyze a video and write the highlight report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.cfg.ValidateAnalyzer(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			report, _ := cmd.Flags().GetString("report")

			ctx, done := st.run()
			defer done()
			res, err := st.p.Analyze(ctx, pipeline.AnalyzeInput{Input: args[0], ReportPath: report})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, c := range res.Report.ViralClips {
				fmt.Fprintf(out, "%d. [%s-%s] %.0f  %s\n", i+1, c.StartTime, c.EndTime, c.ViralityScore, c.Title)
			}
			fmt.Fprintln(out, res.ReportPath)
			return nil
		},
	}
	cmd.Flags().String("report", "", "Report path (default <out>/<video>-<time>-<id>/report.json)")
	return cmd
}

func newExportCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <report.json>",
		Short: "Export highlights from a report by stream copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			clips, _ := cmd.Flags().GetIntSlice("clip")
			outDir := ""
			if cmd.Flags().Changed("out") {
				outDir = st.cfg.OutDir
			}

			ctx, done := st.run()
			defer done()
			res, err := st.p.Export(ctx, pipeline.ExportInput{
				ReportPath: args[0],
				Input:      input,
				Clips:      clips,
				OutDir:     outDir,
				OnProgress: progressPrinter(cmd.ErrOrStderr()),
			})
			for _, r := range res {
				fmt.Fprintln(cmd.OutOrStdout(), r.Path)
			}
			return err
		},
	}
	cmd.Flags().String("input", "", "Source video (default: the report's video next to the report)")
	cmd.Flags().IntSlice("clip", nil, "1-based highlight numbers to export (default all)")
	return cmd
}

func newTrimCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trim <input>",
		Short: "Cut one range out of a video by stream copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetString("start")
			end, _ := cmd.Flags().GetString("end")
			ordinal, _ := cmd.Flags().GetInt("ordinal")

			ctx, done := st.run()
			defer done()
			res, err := st.p.Trim(ctx, pipeline.TrimInput{
				Input:      args[0],
				Start:      start,
				End:        end,
				Ordinal:    ordinal,
				OnProgress: progressPrinter(cmd.ErrOrStderr()),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Path)
			return nil
		},
	}
	cmd.Flags().String("start", "", "Start time, M:SS or H:MM:SS")
	cmd.Flags().String("end", "", "End time, M:SS or H:MM:SS")
	cmd.Flags().Int("ordinal", 1, "Number used in the output file name")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

// run returns the command context. done releases it and the engine sandbox.
func (s *state) run() (context.Context, func()) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	return ctx, func() {
		cancel()
		stop()
		if err := s.p.Close(); err != nil {
			s.log.Warn().Err(err).Msg("engine cleanup failed")
		}
	}
}

func progressPrinter(w io.Writer) func(ordinal, percent int) {
	return func(ordinal, percent int) {
		fmt.Fprintf(w, "\rhighlight %d: %3d%%", ordinal, percent)
		if percent == 100 {
			fmt.Fprintln(w)
		}
	}
}

func isExportError(err error) bool {
	for _, target := range []error{
		usecase.ErrJobInFlight,
		usecase.ErrOrdinal,
		usecase.ErrSave,
		export.ErrInvalidRange,
		export.ErrEngineUnavailable,
		export.ErrSource,
		export.ErrExecution,
		export.ErrReadBack,
		export.ErrCanceled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
