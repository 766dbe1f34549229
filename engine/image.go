package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/hotload"
	"github.com/wippyai/hotload/errors"
)

// Image is one instantiated generation of a guest. It stays valid until
// Close; Call on a closed image fails.
type Image struct {
	module api.Module
	entry  api.Function
	memory api.Memory
	region hotload.StateRegion
	path   string
	closed bool
}

// LoadImage reads the staged artifact at path, compiles and instantiates
// it, and resolves the guest contract: the entry point, the optional
// memory, and the declared state region. Contract violations are BadImage
// errors.
func LoadImage(ctx context.Context, e *Engine, path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.BadImage(errors.PhaseLoad, "read artifact", err)
	}

	compiled, err := e.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, errors.BadImage(errors.PhaseLoad, "compile module", err)
	}

	mod, err := e.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(path).WithStartFunctions())
	if err != nil {
		return nil, errors.BadImage(errors.PhaseLoad, "instantiate module", err)
	}

	img := &Image{module: mod, path: path}

	img.entry = mod.ExportedFunction(hotload.EntrySymbol)
	if img.entry == nil {
		_ = mod.Close(ctx)
		return nil, errors.BadImage(errors.PhaseLoad,
			fmt.Sprintf("entry point %q not exported", hotload.EntrySymbol), nil)
	}
	if def := img.entry.Definition(); len(def.ParamTypes()) != 3 || len(def.ResultTypes()) != 1 {
		_ = mod.Close(ctx)
		return nil, errors.BadImage(errors.PhaseLoad,
			fmt.Sprintf("entry point %q has wrong signature", hotload.EntrySymbol), nil)
	}

	img.memory = mod.ExportedMemory(hotload.MemoryExport)

	region, err := stateRegion(mod, img.memory)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	img.region = region

	Logger().Debug("instantiated image",
		zap.String("path", path),
		zap.Uint32("state_base", region.Base),
		zap.Uint32("state_len", region.Length))
	return img, nil
}

// stateRegion reads the cr_state/cr_state_len export pair. Guests that do
// not declare the pair get an empty region and carry no state.
func stateRegion(mod api.Module, mem api.Memory) (hotload.StateRegion, error) {
	base := mod.ExportedGlobal(hotload.StateBaseExport)
	length := mod.ExportedGlobal(hotload.StateLenExport)
	if base == nil && length == nil {
		return hotload.StateRegion{}, nil
	}
	if base == nil || length == nil {
		return hotload.StateRegion{}, errors.BadImage(errors.PhaseLoad,
			"state exports must be declared as a pair", nil)
	}

	r := hotload.StateRegion{
		Base:   uint32(base.Get()),
		Length: uint32(length.Get()),
	}
	if r.Length == 0 {
		return hotload.StateRegion{}, nil
	}
	if mem == nil {
		return hotload.StateRegion{}, errors.BadImage(errors.PhaseLoad,
			"state region declared without exported memory", nil)
	}
	if end := uint64(r.Base) + uint64(r.Length); end > uint64(mem.Size()) {
		return hotload.StateRegion{}, errors.BadImage(errors.PhaseLoad,
			fmt.Sprintf("state region [%d, %d) exceeds memory size %d", r.Base, end, mem.Size()), nil)
	}
	return r, nil
}

// Region is the guest's declared state region. Empty when the guest
// declares none.
func (img *Image) Region() hotload.StateRegion {
	return img.region
}

// Path is the staged artifact this image was instantiated from.
func (img *Image) Path() string {
	return img.path
}

// Call invokes the entry point with the given arguments and returns the
// guest's result. Traps surface as errors; callers classify them.
func (img *Image) Call(ctx context.Context, version, userdata uint32, op hotload.OpCode) (ret int32, err error) {
	if img.closed {
		return -1, errors.BadImage(errors.PhaseLoad, "call on closed image", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("guest panic: %v", r)
		}
	}()

	results, err := img.entry.Call(ctx, uint64(version), uint64(userdata), uint64(uint32(op)))
	if err != nil {
		Logger().Debug("guest trap",
			zap.String("path", img.path),
			zap.Stringer("op", op),
			zap.Error(err))
		return -1, err
	}
	if len(results) != 1 {
		return -1, fmt.Errorf("entry point returned %d results", len(results))
	}
	return int32(uint32(results[0])), nil
}

// ReadState copies the declared state region out of the guest's memory.
// Nil for an empty region.
func (img *Image) ReadState() ([]byte, error) {
	return img.ReadRange(img.region.Base, img.region.Length)
}

// WriteState copies data into the declared state region. len(data) must
// not exceed the region length.
func (img *Image) WriteState(data []byte) error {
	if uint64(len(data)) > uint64(img.region.Length) {
		return fmt.Errorf("state write of %d bytes exceeds region length %d", len(data), img.region.Length)
	}
	return img.WriteRange(img.region.Base, data)
}

// ReadRange copies an arbitrary range of linear memory.
func (img *Image) ReadRange(base, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if img.memory == nil {
		return nil, fmt.Errorf("guest exports no memory")
	}
	view, ok := img.memory.Read(base, length)
	if !ok {
		return nil, fmt.Errorf("memory read [%d, %d) out of range", base, uint64(base)+uint64(length))
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

// WriteRange copies data into linear memory at base.
func (img *Image) WriteRange(base uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if img.memory == nil {
		return fmt.Errorf("guest exports no memory")
	}
	if !img.memory.Write(base, data) {
		return fmt.Errorf("memory write [%d, %d) out of range", base, uint64(base)+uint64(len(data)))
	}
	return nil
}

// Close tears the instance down. Safe to call more than once.
func (img *Image) Close(ctx context.Context) error {
	if img.closed {
		return nil
	}
	img.closed = true
	return img.module.Close(ctx)
}
