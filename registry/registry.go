// Package registry holds the service registry built once at startup.
//
// A Registry collects named factories while the process is composing itself.
// Build realizes every factory exactly once and returns a Runtime, which is
// read-only and safe for concurrent use by request handlers.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Key names a service in the registry
type Key string

// Well-known service keys
const (
	KeyConfig            Key = "config"
	KeyLogger            Key = "logger"
	KeyDataStore         Key = "data-store"
	KeyCredentialManager Key = "credential-manager"
	KeyRoleStore         Key = "role-store"
	KeyAboutStore        Key = "about-store"
	KeyMigrations        Key = "migration-runner"
	KeyCommandDispatcher Key = "command-dispatcher"
	KeyObjectMapper      Key = "object-mapper"
	KeyValidator         Key = "validator"
	KeyRequestBinder     Key = "request-binder"
	KeyTokenIssuer       Key = "token-issuer"
	KeyAPIDocs           Key = "api-docs"
	KeyMailer            Key = "mailer"
)

var (
	ErrSealed       = errors.New("registry is sealed")
	ErrDuplicateKey = errors.New("service already registered")
	ErrUnknownKey   = errors.New("service not registered")
	ErrCycle        = errors.New("dependency cycle")
	ErrWrongType    = errors.New("service has unexpected type")
)

// Resolver gives factories access to services registered before or after them
type Resolver interface {
	Resolve(key Key) (any, error)
}

// Factory builds one service. It is called at most once.
type Factory func(r Resolver) (any, error)

type entry struct {
	key     Key
	factory Factory
}

// Registry is the mutable builder used during composition
type Registry struct {
	mu      sync.Mutex
	entries []entry
	index   map[Key]int
	sealed  bool
}

// New creates an empty registry
func New() *Registry {
	return &Registry{index: make(map[Key]int)}
}

// Register adds a lazily built service
func (r *Registry) Register(key Key, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("register %s: nil factory", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %s: %w", key, ErrSealed)
	}
	if _, exists := r.index[key]; exists {
		return fmt.Errorf("register %s: %w", key, ErrDuplicateKey)
	}
	r.index[key] = len(r.entries)
	r.entries = append(r.entries, entry{key: key, factory: factory})
	return nil
}

// RegisterInstance adds an already constructed service
func (r *Registry) RegisterInstance(key Key, v any) error {
	return r.Register(key, func(Resolver) (any, error) { return v, nil })
}

// Has reports whether key has been registered
func (r *Registry) Has(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[key]
	return ok
}

// Build realizes every registered service in registration order and seals the registry.
// A failed build leaves the registry sealed; composition has to start over.
func (r *Registry) Build() (*Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, ErrSealed
	}
	r.sealed = true

	b := &builder{
		registry: r,
		built:    make(map[Key]any, len(r.entries)),
		building: make(map[Key]bool),
	}
	for _, e := range r.entries {
		if _, err := b.Resolve(e.key); err != nil {
			return nil, err
		}
	}

	keys := make([]Key, 0, len(r.entries))
	for _, e := range r.entries {
		keys = append(keys, e.key)
	}
	return &Runtime{services: b.built, keys: keys}, nil
}

type builder struct {
	registry *Registry
	built    map[Key]any
	building map[Key]bool
	stack    []Key
}

func (b *builder) Resolve(key Key) (any, error) {
	if v, ok := b.built[key]; ok {
		return v, nil
	}
	idx, ok := b.registry.index[key]
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", key, ErrUnknownKey)
	}
	if b.building[key] {
		return nil, fmt.Errorf("resolve %s: %w: %s", key, ErrCycle, b.path(key))
	}

	b.building[key] = true
	b.stack = append(b.stack, key)
	v, err := b.registry.entries[idx].factory(b)
	b.stack = b.stack[:len(b.stack)-1]
	delete(b.building, key)

	if err != nil {
		return nil, fmt.Errorf("build %s: %w", key, err)
	}
	b.built[key] = v
	return v, nil
}

func (b *builder) path(key Key) string {
	parts := make([]string, 0, len(b.stack)+1)
	for _, k := range b.stack {
		parts = append(parts, string(k))
	}
	parts = append(parts, string(key))
	return strings.Join(parts, " -> ")
}

// Runtime is the immutable result of Build
type Runtime struct {
	services map[Key]any
	keys     []Key
}

// Lookup returns the service registered under key
func (rt *Runtime) Lookup(key Key) (any, error) {
	v, ok := rt.services[key]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", key, ErrUnknownKey)
	}
	return v, nil
}

// Keys returns the registered keys in registration order
func (rt *Runtime) Keys() []Key {
	out := make([]Key, len(rt.keys))
	copy(out, rt.keys)
	return out
}

// SortedKeys returns the registered keys alphabetically, for diagnostics
func (rt *Runtime) SortedKeys() []string {
	out := make([]string, 0, len(rt.keys))
	for _, k := range rt.keys {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// Resolve looks up key on a Runtime or a Resolver and asserts its type
func Resolve[T any](r Resolver, key Key) (T, error) {
	var zero T
	v, err := r.Resolve(key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s is %T: %w", key, v, ErrWrongType)
	}
	return typed, nil
}

// Resolve makes Runtime usable wherever a Resolver is accepted
func (rt *Runtime) Resolve(key Key) (any, error) {
	return rt.Lookup(key)
}
