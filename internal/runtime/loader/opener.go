package loader

import (
	"fmt"
	"plugin"

	rterrors "github.com/drblury/decodeflow/internal/runtime/errors"
)

// Opener loads the code unit stored in an artifact file and returns the
// factory for one of its entry points.
type Opener interface {
	// Extension is the file extension, without dot, artifacts are persisted with.
	Extension() string
	Open(path, entryPoint string) (Factory, error)
}

// RegistryOpener serves decoders compiled into the binary. Artifacts are still
// persisted but never executed; only entry points present in Registry open.
type RegistryOpener struct {
	Registry *Registry
	Ext      string
}

func (o RegistryOpener) Extension() string {
	if o.Ext == "" {
		return "artifact"
	}
	return o.Ext
}

func (o RegistryOpener) Open(_ string, entryPoint string) (Factory, error) {
	if o.Registry != nil {
		if f, ok := o.Registry.Lookup(entryPoint); ok {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q is not compiled in", rterrors.ErrEntryPointNotFound, entryPoint)
}

// PluginOpener loads artifacts as Go plugins. The entry point names an
// exported symbol of one of these types:
//
//	func() (loader.Decoder, error)
//	func([]byte) (map[string]any, error)
type PluginOpener struct{}

func (PluginOpener) Extension() string { return "so" }

func (PluginOpener) Open(path, entryPoint string) (Factory, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup(entryPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rterrors.ErrEntryPointNotFound, err)
	}
	return factoryFromSymbol(entryPoint, sym)
}

func factoryFromSymbol(entryPoint string, sym any) (Factory, error) {
	switch fn := sym.(type) {
	case func() (Decoder, error):
		return fn, nil
	case *Factory:
		return *fn, nil
	case func([]byte) (map[string]any, error):
		return func() (Decoder, error) { return DecoderFunc(fn), nil }, nil
	default:
		return nil, fmt.Errorf("entry point %q has unsupported type %T", entryPoint, sym)
	}
}
