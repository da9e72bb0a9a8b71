//go:build bedrock

package main

import (
	"context"
	"log/slog"

	"mcpchat/internal/adapter/synth"
	"mcpchat/internal/domain"
	"mcpchat/internal/infra/config"
)

func createBedrockSynthesizer(ctx context.Context, cfg config.SynthesizerConfig, log *slog.Logger) (domain.Synthesizer, error) {
	return synth.NewBedrock(ctx, cfg, log)
}
