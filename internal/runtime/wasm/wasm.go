// Package wasm runs strategy programs compiled to WebAssembly inside a
// wazero sandbox. The guest has no filesystem, network, or clock access;
// the only surface is the iteration payload exchanged through guest memory.
package wasm

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tradeforge-lab/tradeforge/internal/runtime"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

// Guest ABI: the module exports tf_alloc(size) -> ptr and
// tf_iterate(ptr, size) -> (outPtr << 32) | outSize. The host writes the
// JSON iteration view into guest memory and reads back a JSON array of
// order requests.
const (
	exportAlloc   = "tf_alloc"
	exportIterate = "tf_iterate"
)

// StrategyWasmBridge is a runtime.Bridge backed by one instantiated
// WebAssembly strategy module.
type StrategyWasmBridge struct {
	wasmRuntime wazero.Runtime
	module      api.Module
	alloc       api.Function
	iterate     api.Function
	config      runtime.Config
}

// NewStrategyWasmBridge compiles and instantiates the strategy module.
// The runtime is configured to close on context cancellation so the
// per-iteration deadline interrupts guest execution.
func NewStrategyWasmBridge(ctx context.Context, config runtime.Config) (runtime.Bridge, error) {
	runtimeConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	wasmRuntime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	// WASI is instantiated for language runtimes that expect it; no
	// filesystem mounts or sockets are configured, so the guest still has
	// no ambient I/O.
	wasi_snapshot_preview1.MustInstantiate(ctx, wasmRuntime)

	moduleConfig := wazero.NewModuleConfig().WithName("strategy")

	module, err := wasmRuntime.InstantiateWithConfig(ctx, config.Source, moduleConfig)
	if err != nil {
		_ = wasmRuntime.Close(ctx)

		return nil, errors.Wrap(errors.ErrCodeStrategyLoadFailed, "failed to instantiate strategy module", err)
	}

	alloc := module.ExportedFunction(exportAlloc)
	iterate := module.ExportedFunction(exportIterate)

	if alloc == nil || iterate == nil {
		_ = wasmRuntime.Close(ctx)

		return nil, errors.Newf(errors.ErrCodeStrategyLoadFailed, "strategy module must export %s and %s", exportAlloc, exportIterate)
	}

	if err := checkExportSignature(alloc, exportAlloc,
		[]api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}); err != nil {
		_ = wasmRuntime.Close(ctx)

		return nil, err
	}

	if err := checkExportSignature(iterate, exportIterate,
		[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}); err != nil {
		_ = wasmRuntime.Close(ctx)

		return nil, err
	}

	return &StrategyWasmBridge{
		wasmRuntime: wasmRuntime,
		module:      module,
		alloc:       alloc,
		iterate:     iterate,
		config:      config,
	}, nil
}

// checkExportSignature verifies an exported function against the guest
// ABI before it is ever called. A mismatched signature would otherwise
// surface as an empty result slice and an index panic mid-iteration.
func checkExportSignature(fn api.Function, name string, params, results []api.ValueType) error {
	def := fn.Definition()
	if !slices.Equal(def.ParamTypes(), params) || !slices.Equal(def.ResultTypes(), results) {
		return errors.Newf(errors.ErrCodeStrategyLoadFailed,
			"strategy export %s has signature (%s) -> (%s), which does not match the guest ABI (%s) -> (%s)",
			name,
			valueTypeNames(def.ParamTypes()), valueTypeNames(def.ResultTypes()),
			valueTypeNames(params), valueTypeNames(results))
	}

	return nil
}

func valueTypeNames(valueTypes []api.ValueType) string {
	names := make([]string, len(valueTypes))
	for i, t := range valueTypes {
		names[i] = api.ValueTypeName(t)
	}

	return strings.Join(names, ", ")
}

// RunIteration implements runtime.Bridge.
func (b *StrategyWasmBridge) RunIteration(ctx context.Context, iteration runtime.Iteration) ([]types.OrderRequest, error) {
	payload, err := json.Marshal(iteration)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIterationFailed, "failed to encode iteration", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.IterationBudget)
	defer cancel()

	allocResult, err := b.alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return nil, b.iterationError(ctx, err)
	}

	inputPtr := uint32(allocResult[0])
	if !b.module.Memory().Write(inputPtr, payload) {
		return nil, errors.New(errors.ErrCodeIterationFailed, "failed to write iteration into guest memory")
	}

	iterateResult, err := b.iterate.Call(ctx, uint64(inputPtr), uint64(len(payload)))
	if err != nil {
		return nil, b.iterationError(ctx, err)
	}

	outputPtr := uint32(iterateResult[0] >> 32)
	outputSize := uint32(iterateResult[0])

	output, ok := b.module.Memory().Read(outputPtr, outputSize)
	if !ok {
		return nil, errors.New(errors.ErrCodeIterationFailed, "strategy returned an out-of-range result pointer")
	}

	var requests []types.OrderRequest
	if err := json.Unmarshal(output, &requests); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidOrderRequest, "failed to decode order requests", err)
	}

	return requests, nil
}

// iterationError maps a guest failure to the runtime error taxonomy: a
// deadline hit is a timeout (fatal to the backtest), anything else a
// strategy failure.
func (b *StrategyWasmBridge) iterationError(ctx context.Context, cause error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrapf(errors.ErrCodeIterationTimeout, cause, "strategy iteration exceeded its %s budget", b.config.IterationBudget)
	}

	return errors.Wrap(errors.ErrCodeIterationFailed, "strategy iteration failed", cause)
}

// Close implements runtime.Bridge.
func (b *StrategyWasmBridge) Close(ctx context.Context) error {
	return b.wasmRuntime.Close(ctx)
}
