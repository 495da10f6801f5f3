package kw

import "sort"

// Set is a resolved argument list: at most one argument per keyword.
type Set struct {
	args map[string]Arg
}

// Resolve deduplicates args. When a keyword occurs more than once the last
// occurrence wins, regardless of what is interleaved between occurrences.
func Resolve(args ...Arg) Set {
	s := Set{args: make(map[string]Arg, len(args))}
	for _, a := range args {
		if a.name == "" {
			continue
		}
		s.args[a.name] = a
	}
	return s
}

// Validate fails with an *UnsupportedParameterError naming every argument
// whose keyword is outside allowed. An empty list is always valid.
func Validate(allowed Group, args ...Arg) error {
	var bad []string
	seen := make(map[string]struct{})
	for _, a := range args {
		if a.name == "" || allowed.has(a.name) {
			continue
		}
		if _, dup := seen[a.name]; dup {
			continue
		}
		seen[a.name] = struct{}{}
		bad = append(bad, a.name)
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return &UnsupportedParameterError{Names: bad}
}

// Bind validates args against allowed and resolves them.
func Bind(allowed Group, args ...Arg) (Set, error) {
	if err := Validate(allowed, args...); err != nil {
		return Set{}, err
	}
	return Resolve(args...), nil
}

// With returns a copy of s with args applied on top (last wins).
func (s Set) With(args ...Arg) Set {
	out := Set{args: make(map[string]Arg, len(s.args)+len(args))}
	for n, a := range s.args {
		out.args[n] = a
	}
	for _, a := range args {
		if a.name == "" {
			continue
		}
		out.args[a.name] = a
	}
	return out
}

// Without returns a copy of s with the given keywords removed.
func (s Set) Without(tags ...Tag) Set {
	out := s.With()
	for _, t := range tags {
		delete(out.args, t.Name())
	}
	return out
}

// Has reports whether t is present.
func (s Set) Has(t Tag) bool {
	_, ok := s.args[t.Name()]
	return ok
}

// Len returns the number of resolved keywords.
func (s Set) Len() int { return len(s.args) }

// Names returns the resolved keyword names in sorted order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s.args))
	for n := range s.args {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Args returns the resolved arguments ordered by keyword name.
func (s Set) Args() []Arg {
	names := s.Names()
	out := make([]Arg, len(names))
	for i, n := range names {
		out[i] = s.args[n]
	}
	return out
}
