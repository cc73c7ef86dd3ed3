package wasm

import (
	"context"
	"time"

	"github.com/tradeforge-lab/tradeforge/internal/runtime"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

// DefaultIterationBudget bounds one strategy iteration when the config
// leaves the budget unset.
const DefaultIterationBudget = 500 * time.Millisecond

// NewBridge constructs a bridge for the configured strategy language.
// WebAssembly is the only supported language; the switch is where future
// sandboxes plug in.
func NewBridge(ctx context.Context, config runtime.Config) (runtime.Bridge, error) {
	if config.IterationBudget <= 0 {
		config.IterationBudget = DefaultIterationBudget
	}

	switch config.Language {
	case types.StrategyLanguageWasm:
		return NewStrategyWasmBridge(ctx, config)
	default:
		return nil, errors.Newf(errors.ErrCodeUnsupportedLanguage, "unsupported strategy language: %s", config.Language)
	}
}
