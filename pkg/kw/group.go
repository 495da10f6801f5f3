package kw

import "sort"

// Group is the set of keywords a call site accepts. The zero Group accepts
// nothing.
type Group struct {
	names map[string]struct{}
}

// NewGroup builds a group from tags.
func NewGroup(tags ...Tag) Group {
	g := Group{names: make(map[string]struct{}, len(tags))}
	for _, t := range tags {
		g.names[t.Name()] = struct{}{}
	}
	return g
}

// Union returns a group holding every keyword of groups.
func Union(groups ...Group) Group {
	u := Group{names: make(map[string]struct{})}
	for _, g := range groups {
		for n := range g.names {
			u.names[n] = struct{}{}
		}
	}
	return u
}

// With returns a copy of g extended with tags.
func (g Group) With(tags ...Tag) Group {
	return Union(g, NewGroup(tags...))
}

// Contains reports whether t belongs to the group.
func (g Group) Contains(t Tag) bool {
	return g.has(t.Name())
}

func (g Group) has(name string) bool {
	_, ok := g.names[name]
	return ok
}

// Len returns the number of keywords in the group.
func (g Group) Len() int { return len(g.names) }

// Names returns the group's keyword names in sorted order.
func (g Group) Names() []string {
	out := make([]string, 0, len(g.names))
	for n := range g.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
