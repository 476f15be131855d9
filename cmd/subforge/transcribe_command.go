package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"subforge/internal/app"
	"subforge/internal/pipeline"
	"subforge/internal/subtitle"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var (
		format    string
		model     string
		language  string
		precision string
		beamSize  int
		translate bool
		timestamp bool
	)

	cmd := &cobra.Command{
		Use:   "transcribe FILE...",
		Short: "Transcribe audio or video files into subtitle files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cfg)

			req := pipeline.TranscribeRequest{JobConfig: app.JobDefaults(cfg), AddTimestamp: timestamp}
			req.Translate = translate
			if req.Format, err = subtitle.ParseFormat(format); err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("model") {
				req.ModelID = model
			}
			if flags.Changed("language") {
				req.Language = language
			}
			if flags.Changed("precision") {
				req.Precision = precision
			}
			if flags.Changed("beam-size") {
				if beamSize < 1 {
					return fmt.Errorf("--beam-size must be at least 1")
				}
				req.BeamSize = beamSize
			}

			p, err := app.NewPipeline(cfg, nil, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			sink, done := newProgressSink(os.Stderr)
			res, err := p.TranscribeFiles(runCtx, pipeline.Input{Paths: args}, req, sink)
			done()
			if err != nil {
				return err
			}
			if res.Downgraded {
				logger.Warn("model cannot translate; transcribed in the spoken language", "model", req.ModelID)
			}
			printArtifacts(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "SRT", "Subtitle format (SRT, WebVTT, txt)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Whisper model id")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Spoken language (default: automatic detection)")
	cmd.Flags().StringVar(&precision, "precision", "", "Compute precision")
	cmd.Flags().IntVar(&beamSize, "beam-size", 1, "Beam size")
	cmd.Flags().BoolVar(&translate, "translate", false, "Translate to English (large models only)")
	cmd.Flags().BoolVar(&timestamp, "timestamp", false, "Add a timestamp to output file names")
	return cmd
}

func printArtifacts(cmd *cobra.Command, res *pipeline.Result) {
	out := cmd.OutOrStdout()
	for _, a := range res.Artifacts {
		fmt.Fprintf(out, "%s\t%s\n", a.Path, pipeline.FormatElapsed(a.Elapsed))
	}
	fmt.Fprintf(out, "done in %s\n", pipeline.FormatElapsed(res.Elapsed))
}

