//go:build !bedrock

package main

import (
	"context"
	"fmt"
	"log/slog"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/config"
)

func createBedrockSynthesizer(_ context.Context, _ config.SynthesizerConfig, _ *slog.Logger) (domain.Synthesizer, error) {
	return nil, fmt.Errorf("bedrock synthesizer requires build with -tags bedrock")
}
