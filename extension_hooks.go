package userhooks

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-userhooks/durable"
	"github.com/goliatone/go-userhooks/functions"
	"github.com/goliatone/go-userhooks/registry"
)

// FunctionPackBuilder builds a set of functions against the collaborators
// the user lifecycle functions use.
type FunctionPackBuilder func(deps functions.Dependencies) ([]durable.Function, error)

type FunctionPack struct {
	Name      string
	Functions []durable.Function
	Build     FunctionPackBuilder
}

// ExtensionHooks collects function packs registered by downstream code
// before the runtime is assembled.
type ExtensionHooks struct {
	mu    sync.RWMutex
	packs map[string]FunctionPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{packs: map[string]FunctionPack{}}
}

func (h *ExtensionHooks) RegisterFunctionPack(pack FunctionPack) error {
	if h == nil {
		return fmt.Errorf("userhooks: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("userhooks: function pack name is required")
	}
	if len(pack.Functions) == 0 && pack.Build == nil {
		return fmt.Errorf("userhooks: function pack %q has no functions", name)
	}

	normalized := FunctionPack{
		Name:      name,
		Functions: append([]durable.Function(nil), pack.Functions...),
		Build:     pack.Build,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.packs[name]; exists {
		return fmt.Errorf("userhooks: function pack %q already registered", name)
	}
	h.packs[name] = normalized
	return nil
}

// ApplyFunctionPacks registers every pack with reg in pack name order.
func (h *ExtensionHooks) ApplyFunctionPacks(reg *registry.Registry, deps functions.Dependencies) error {
	if h == nil {
		return nil
	}
	if reg == nil {
		return fmt.Errorf("userhooks: registry is required")
	}
	for _, pack := range h.FunctionPacks() {
		fns := pack.Functions
		if pack.Build != nil {
			built, err := pack.Build(deps)
			if err != nil {
				return fmt.Errorf("userhooks: build function pack %q: %w", pack.Name, err)
			}
			fns = append(fns, built...)
		}
		if err := reg.RegisterAll(fns...); err != nil {
			return err
		}
	}
	return nil
}

func (h *ExtensionHooks) FunctionPacks() []FunctionPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.packs))
	for name := range h.packs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]FunctionPack, 0, len(names))
	for _, name := range names {
		pack := h.packs[name]
		out = append(out, FunctionPack{
			Name:      pack.Name,
			Functions: append([]durable.Function(nil), pack.Functions...),
			Build:     pack.Build,
		})
	}
	return out
}
