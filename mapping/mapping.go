// Package mapping converts between persistence and transport representations.
//
// Each source/destination pair is registered once, either with an explicit
// conversion function or as a name-based copy driven by mapstructure using the
// "map" struct tag. Fields tagged map:"-" are skipped by the automatic copy and
// can be filled in by a finishing function.
package mapping

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"snap/storage"

	"github.com/go-viper/mapstructure/v2"
)

// TagName is the struct tag read by automatic mappings
const TagName = "map"

var (
	ErrNoMapping        = errors.New("no mapping registered")
	ErrDuplicateMapping = errors.New("mapping already registered")
)

type pair struct {
	src reflect.Type
	dst reflect.Type
}

func (p pair) String() string { return p.src.String() + " -> " + p.dst.String() }

// Mapper is safe for concurrent use once registration is done
type Mapper struct {
	mu   sync.RWMutex
	maps map[pair]func(any) (any, error)
}

// New creates an empty mapper
func New() *Mapper {
	return &Mapper{maps: make(map[pair]func(any) (any, error))}
}

func (m *Mapper) add(p pair, fn func(any) (any, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.maps[p]; exists {
		return fmt.Errorf("%s: %w", p, ErrDuplicateMapping)
	}
	m.maps[p] = fn
	return nil
}

// Register adds an explicit conversion from S to D
func Register[S, D any](m *Mapper, fn func(S) (D, error)) error {
	p := pair{src: reflect.TypeFor[S](), dst: reflect.TypeFor[D]()}
	return m.add(p, func(src any) (any, error) {
		return fn(src.(S))
	})
}

// RegisterAuto adds a name-based conversion from S to D. The optional finish
// functions run after the copy, in order.
func RegisterAuto[S, D any](m *Mapper, finish ...func(src S, dst *D)) error {
	p := pair{src: reflect.TypeFor[S](), dst: reflect.TypeFor[D]()}
	return m.add(p, func(src any) (any, error) {
		var dst D
		if err := Decode(src, &dst); err != nil {
			return nil, fmt.Errorf("map %s: %w", p, err)
		}
		s := src.(S)
		for _, f := range finish {
			f(s, &dst)
		}
		return dst, nil
	})
}

// Map converts src to D using the registered mapping
func Map[D, S any](m *Mapper, src S) (D, error) {
	var zero D
	p := pair{src: reflect.TypeFor[S](), dst: reflect.TypeFor[D]()}

	m.mu.RLock()
	fn, ok := m.maps[p]
	m.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%s: %w", p, ErrNoMapping)
	}

	out, err := fn(src)
	if err != nil {
		return zero, err
	}
	return out.(D), nil
}

// MapSlice converts every element of src
func MapSlice[D, S any](m *Mapper, src []S) ([]D, error) {
	out := make([]D, 0, len(src))
	for i, s := range src {
		d, err := Map[D](m, s)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Pairs lists the registered mappings, for diagnostics
func (m *Mapper) Pairs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.maps))
	for p := range m.maps {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}

// Decode copies fields from input into output by "map" tag name
func Decode(input any, output any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    TagName,
		Result:     output,
		DecodeHook: GenderHook(),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return dec.Decode(input)
}

var genderType = reflect.TypeFor[storage.Gender]()

// GenderHook converts storage.Gender to its name and back
func GenderHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		switch {
		case from == genderType && to.Kind() == reflect.String:
			return data.(storage.Gender).String(), nil
		case from.Kind() == reflect.String && to == genderType:
			return storage.ParseGender(reflect.ValueOf(data).String())
		}
		return data, nil
	}
}
