package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/internal/captcha"
	"github.com/zach-fau/suno-api/internal/challenge"
	"github.com/zach-fau/suno-api/internal/config"
	"github.com/zach-fau/suno-api/internal/identity"
	"github.com/zach-fau/suno-api/internal/observability"
	"github.com/zach-fau/suno-api/internal/suno"
)

var (
	genPrompt       string
	genTags         string
	genTitle        string
	genModel        string
	genInstrumental bool
	genCustom       bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate audio once and print the resulting clips as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		logger := observability.GetLogger()
		defer observability.Sync()

		registry := identity.NewRegistry(cfg.Identity, cfg.Timeouts, logger)
		defer registry.Close()

		handle, err := registry.Lookup(cfg.Identity.Cookie)
		if err != nil {
			return err
		}
		if err := handle.Sessions.Acquire(cmd.Context()); err != nil {
			return err
		}

		solver := captcha.NewClient(cfg.Captcha, logger)
		flow := challenge.NewFlow(cfg, handle, solver, logger)
		client, err := suno.NewClient(cfg.Suno, handle.Sessions, flow, logger)
		if err != nil {
			return err
		}

		clips, err := client.Generate(cmd.Context(), suno.GenerateRequest{
			Prompt:       genPrompt,
			Tags:         genTags,
			Title:        genTitle,
			Model:        genModel,
			Instrumental: genInstrumental,
			Custom:       genCustom,
		})
		if err != nil {
			return err
		}
		logger.Info("Generation submitted", zap.Int("clips", len(clips)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(clips)
	},
}

func init() {
	generateCmd.Flags().StringVarP(&genPrompt, "prompt", "p", "", "generation prompt (required)")
	generateCmd.Flags().StringVar(&genTags, "tags", "", "style tags (custom mode)")
	generateCmd.Flags().StringVar(&genTitle, "title", "", "track title (custom mode)")
	generateCmd.Flags().StringVar(&genModel, "model", "", "model version")
	generateCmd.Flags().BoolVar(&genInstrumental, "instrumental", false, "generate without vocals")
	generateCmd.Flags().BoolVar(&genCustom, "custom", false, "treat prompt as literal lyrics")
	_ = generateCmd.MarkFlagRequired("prompt")
}
