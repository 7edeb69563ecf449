// Package plugin provides a registry for pluggable pipeline providers,
// currently voice activity detectors. Providers register from init()
// functions at compile time or through dynamic loading, and are constructed
// by name from configuration without the core packages knowing about them.
package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a provider instance from configuration. The returned
// value is cast by the caller to the kind's contract (vad.Detector for
// "vad" plugins).
type Factory func(cfg map[string]any) (any, error)

// Downloader fetches model files a plugin needs before first use.
type Downloader interface {
	Download() error
}

// Plugin is one registered provider with its metadata.
type Plugin struct {
	Kind        string         // provider kind, e.g. "vad"
	Name        string         // provider name, e.g. "energy", "silero"
	Factory     Factory        // constructs instances
	Description string         // human-readable description
	Version     string         // plugin version
	Config      map[string]any // configuration defaults
	Downloader  Downloader     // optional model downloader
}

// Registry manages plugin registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin // [kind][name]
}

var globalRegistry = &Registry{
	plugins: make(map[string]map[string]*Plugin),
}

// Register adds a plugin to the global registry. Typically called from a
// plugin package's init(). Panics on duplicate kind/name.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a plugin with metadata to the global registry.
// Panics on duplicate kind/name.
func RegisterWithMetadata(plugin *Plugin) {
	globalRegistry.RegisterWithMetadata(plugin)
}

// Get retrieves a factory from the global registry.
func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

// Lookup retrieves a full plugin record from the global registry.
func Lookup(kind, name string) (*Plugin, bool) {
	return globalRegistry.Lookup(kind, name)
}

// List returns all registered plugins of a kind; empty kind lists all.
func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

// ListKinds returns all registered plugin kinds.
func ListKinds() []string {
	return globalRegistry.ListKinds()
}

// Register adds a plugin to this registry instance.
func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{Kind: kind, Name: name, Factory: factory})
}

// RegisterWithMetadata adds a plugin with metadata to this registry
// instance. Panics on duplicate kind/name.
func (r *Registry) RegisterWithMetadata(plugin *Plugin) {
	if plugin.Kind == "" {
		panic("plugin kind cannot be empty")
	}
	if plugin.Name == "" {
		panic("plugin name cannot be empty")
	}
	if plugin.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[plugin.Kind] == nil {
		r.plugins[plugin.Kind] = make(map[string]*Plugin)
	}
	if existing, exists := r.plugins[plugin.Kind][plugin.Name]; exists {
		panic(fmt.Sprintf("plugin %s/%s already registered (existing version: %s, new version: %s)",
			plugin.Kind, plugin.Name, existing.Version, plugin.Version))
	}
	r.plugins[plugin.Kind][plugin.Name] = plugin
}

// Get retrieves a factory from this registry instance.
func (r *Registry) Get(kind, name string) (Factory, bool) {
	p, ok := r.Lookup(kind, name)
	if !ok {
		return nil, false
	}
	return p.Factory, true
}

// Lookup retrieves a full plugin record from this registry instance.
func (r *Registry) Lookup(kind, name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kindMap, exists := r.plugins[kind]
	if !exists {
		return nil, false
	}
	plugin, exists := kindMap[name]
	return plugin, exists
}

// List returns all registered plugins of a kind, sorted by kind then name.
// Empty kind lists everything.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plugins []*Plugin
	if kind == "" {
		for _, kindMap := range r.plugins {
			for _, plugin := range kindMap {
				plugins = append(plugins, plugin)
			}
		}
	} else if kindMap, exists := r.plugins[kind]; exists {
		for _, plugin := range kindMap {
			plugins = append(plugins, plugin)
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		if plugins[i].Kind != plugins[j].Kind {
			return plugins[i].Kind < plugins[j].Kind
		}
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// ListKinds returns all registered plugin kinds in sorted order.
func (r *Registry) ListKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.plugins))
	for kind := range r.plugins {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Clear removes all plugins from this registry instance. Primarily for
// tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}
