package vcs

import (
	"fmt"
	"sort"
	"sync"
)

// EngineConstructor creates an empty, uninitialized engine.
type EngineConstructor func(cfg EngineConfig) (Engine, error)

// EngineInfo describes a registered engine for help text and config
// validation.
type EngineInfo struct {
	Type        Type
	Description string
}

type registration struct {
	description string
	constructor EngineConstructor
}

var (
	registry      = make(map[Type]registration)
	registryMutex sync.RWMutex
)

// Register makes an engine selectable by type. Engine packages call it from
// init; the description is shown by `vsync init --help` and in errors for
// unknown engine names.
//
//	func init() {
//	    vcs.Register(vcs.TypeGit, "git repository with go-git", New)
//	}
func Register(t Type, description string, constructor EngineConstructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for type %s", t))
	}
	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for type %s", t))
	}
	registry[t] = registration{description: description, constructor: constructor}
}

func getConstructor(t Type) EngineConstructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t].constructor
}

// IsRegistered reports whether engine type t can be built.
func IsRegistered(t Type) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[t]
	return exists
}

// Describe returns the description t was registered with.
func Describe(t Type) (string, bool) {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	r, ok := registry[t]
	return r.description, ok
}

// Engines lists the registered engines ordered by type.
func Engines() []EngineInfo {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	out := make([]EngineInfo, 0, len(registry))
	for t, r := range registry {
		out = append(out, EngineInfo{Type: t, Description: r.description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// RegisteredTypes returns all registered engine types, sorted.
func RegisteredTypes() []Type {
	engines := Engines()
	types := make([]Type, len(engines))
	for i, e := range engines {
		types[i] = e.Type
	}
	return types
}
