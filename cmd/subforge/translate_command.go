package main

import (
	"errors"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"subforge/internal/app"
	"subforge/internal/pipeline"
	"subforge/internal/translate"
)

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	var (
		provider  string
		source    string
		target    string
		apiKey    string
		pro       bool
		timestamp bool
	)

	cmd := &cobra.Command{
		Use:   "translate FILE...",
		Short: "Translate SRT or WebVTT subtitle files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cfg)

			prov, err := translate.ParseProvider(provider)
			if err != nil {
				return err
			}
			req := translate.Request{
				Provider:     prov,
				Source:       source,
				Target:       target,
				Pro:          pro,
				AddTimestamp: timestamp,
			}
			switch prov {
			case translate.ProviderDeepL:
				req.APIKey = strings.TrimSpace(apiKey)
				if req.APIKey == "" {
					req.APIKey = strings.TrimSpace(os.Getenv("DEEPL_API_KEY"))
				}
				if req.APIKey == "" {
					return errors.New("a DeepL API key is required (--api-key or DEEPL_API_KEY)")
				}
			case translate.ProviderLocal:
				req.Model = app.LocalModel(cfg)
				if req.Model == "" {
					return errors.New("local translation is disabled in the configuration")
				}
			}

			p, err := app.NewPipeline(cfg, nil, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			sink, done := newProgressSink(os.Stderr)
			res, err := p.TranslateFiles(runCtx, pipeline.Input{Paths: args}, req, sink)
			done()
			if err != nil {
				return err
			}
			printArtifacts(cmd, res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "deepl", "Translation provider (deepl, local)")
	cmd.Flags().StringVar(&source, "source", translate.AutoDetect, "Source language")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Target language")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "DeepL API key (default: $DEEPL_API_KEY)")
	cmd.Flags().BoolVar(&pro, "pro", false, "Use the DeepL Pro endpoint")
	cmd.Flags().BoolVar(&timestamp, "timestamp", false, "Add a timestamp to output file names")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
