package kw

import (
	"fmt"
	"reflect"
	"sync"
)

// Tag identifies a keyword independently of its value type.
type Tag interface {
	Name() string
}

// Renderer turns one keyword value into zero or more "name=value" query
// tokens. Returning no tokens suppresses the keyword.
type Renderer[T any] func(name string, v T) []string

// Keyword is a named parameter whose values have type T.
type Keyword[T any] struct {
	name   string
	render Renderer[T]
}

// registry maps every registered keyword name to its value type. It is
// written during package initialisation and only read afterwards.
var registry = struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}{types: make(map[string]reflect.Type)}

// New registers a keyword. render may be nil for keywords that never reach
// the query string.
//
// Registering the same name twice with the same value type is allowed and
// yields keywords that are interchangeable in a Set. Registering it with a
// different value type panics, so conflicting declarations fail when the
// declaring package is initialised.
func New[T any](name string, render Renderer[T]) Keyword[T] {
	if name == "" {
		panic("kw: keyword name must not be empty")
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if prev, ok := registry.types[name]; ok && prev != typ {
		panic(fmt.Sprintf("kw: keyword %q already registered as %s, cannot register as %s", name, prev, typ))
	}
	registry.types[name] = typ
	return Keyword[T]{name: name, render: render}
}

// TypeOf returns the value type a keyword name was registered with.
func TypeOf(name string) (reflect.Type, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	t, ok := registry.types[name]
	return t, ok
}

// Name returns the keyword's wire name.
func (k Keyword[T]) Name() string { return k.name }

// Set binds v to the keyword, producing an argument for a call site.
func (k Keyword[T]) Set(v T) Arg {
	a := Arg{name: k.name, value: v}
	if k.render != nil {
		render, name := k.render, k.name
		a.tokens = func() []string { return render(name, v) }
	}
	return a
}

// In reports whether the keyword is present in s.
func (k Keyword[T]) In(s Set) bool {
	return s.Has(k)
}

// Get returns the keyword's value from s. It fails with a
// *MissingParameterError when the keyword is absent.
func (k Keyword[T]) Get(s Set) (T, error) {
	var zero T
	a, ok := s.args[k.name]
	if !ok {
		return zero, &MissingParameterError{Name: k.name}
	}
	v, ok := a.value.(T)
	if !ok {
		return zero, fmt.Errorf("kw: keyword %q holds %T, want %T", k.name, a.value, zero)
	}
	return v, nil
}

// GetOr returns the keyword's value from s, or def when it is absent.
func (k Keyword[T]) GetOr(s Set, def T) T {
	v, err := k.Get(s)
	if err != nil {
		return def
	}
	return v
}

// Arg is one keyword/value pair supplied at a call site.
type Arg struct {
	name   string
	value  any
	tokens func() []string
}

// Name returns the argument's keyword name.
func (a Arg) Name() string { return a.name }

// Value returns the bound value.
func (a Arg) Value() any { return a.value }

// Tokens renders the argument into query tokens. Keywords without a
// renderer produce none.
func (a Arg) Tokens() []string {
	if a.tokens == nil {
		return nil
	}
	return a.tokens()
}
