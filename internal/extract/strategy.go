// Package extract chooses the document extraction strategy from configuration.
package extract

import (
	"log/slog"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm/openai"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm/synthetic"
)

const (
	StrategyAuto      = "auto"
	StrategyLive      = "live"
	StrategySynthetic = "synthetic"
)

// New returns the live OpenAI extractor when a credential is configured and the
// synthetic one otherwise. "live" without a key is a configuration error.
func New(cfg common.LLMConfig, maxTextChars int, logger *slog.Logger) (llm.Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}

	switch {
	case strategy == StrategySynthetic, strategy == StrategyAuto && cfg.APIKey == "":
		logger.Warn("extract.strategy.synthetic",
			"reason", reason(strategy),
		)
		return synthetic.New(logger), nil
	case strategy == StrategyLive && cfg.APIKey == "":
		return nil, common.NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required when EXTRACTOR=live", common.ErrInvalidInput)
	case strategy == StrategyLive, strategy == StrategyAuto:
		logger.Info("extract.strategy.live", "model", cfg.Model)
		return openai.NewClient(openai.Config{
			APIKey:          cfg.APIKey,
			BaseURL:         cfg.BaseURL,
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			MaxTokens:       cfg.MaxTokens,
			MaxTextChars:    maxTextChars,
			Timeout:         cfg.Timeout,
			LenientOptional: true,
		}, logger), nil
	default:
		return nil, common.NewAppError("CONFIG_ERROR", "unknown extractor strategy "+strategy, common.ErrInvalidInput)
	}
}

func reason(strategy string) string {
	if strategy == StrategySynthetic {
		return "configured"
	}
	return "no OPENAI_API_KEY"
}
