package state

import (
	"slices"
	"strconv"

	"github.com/aretw0/loom/pkg/domain"
)

// ObservedMap is a view of a map inside the user value tree. It holds the dotted
// path from the State root and routes every write through the State, so each
// mutation is recorded as a delta.
type ObservedMap struct {
	st   *State
	path string
}

// Path returns the dotted path of the map ("" for the root).
func (m *ObservedMap) Path() string { return m.path }

// Get returns a copy of the value stored under key.
func (m *ObservedMap) Get(key string) (any, bool) {
	return m.st.Get(domain.JoinPath(m.path, key))
}

// Set assigns key.
func (m *ObservedMap) Set(key string, v any) error {
	return m.st.Set(domain.JoinPath(m.path, key), v)
}

// Map returns a view of the nested map under key. The map is created on first write.
func (m *ObservedMap) Map(key string) *ObservedMap {
	return &ObservedMap{st: m.st, path: domain.JoinPath(m.path, key)}
}

// List returns a view of the nested list under key. The list is created on first append.
func (m *ObservedMap) List(key string) *ObservedList {
	return &ObservedList{st: m.st, path: domain.JoinPath(m.path, key)}
}

// Keys returns the sorted keys of the map.
func (m *ObservedMap) Keys() []string {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	target := any(m.st.values)
	if m.path != "" {
		var ok bool
		if target, ok = lookup(m.st.values, domain.SplitPath(m.path)); !ok {
			return nil
		}
	}
	mm, ok := target.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(mm))
	for k := range mm {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ObservedList is a view of a list inside the user value tree.
type ObservedList struct {
	st   *State
	path string
}

// Path returns the dotted path of the list.
func (l *ObservedList) Path() string { return l.path }

// Append appends v, recording an Append delta.
func (l *ObservedList) Append(v any) error {
	return l.st.Append(l.path, v)
}

// Len returns the current length (0 when the list does not exist).
func (l *ObservedList) Len() int {
	l.st.mu.Lock()
	defer l.st.mu.Unlock()
	v, ok := lookup(l.st.values, domain.SplitPath(l.path))
	if !ok {
		return 0
	}
	list, _ := v.([]any)
	return len(list)
}

// Index returns a copy of element i.
func (l *ObservedList) Index(i int) (any, bool) {
	return l.st.Get(domain.JoinPath(l.path, strconv.Itoa(i)))
}

// Set replaces element i.
func (l *ObservedList) Set(i int, v any) error {
	return l.st.Set(domain.JoinPath(l.path, strconv.Itoa(i)), v)
}

// Map returns a view of the map stored at element i.
func (l *ObservedList) Map(i int) *ObservedMap {
	return &ObservedMap{st: l.st, path: domain.JoinPath(l.path, strconv.Itoa(i))}
}
