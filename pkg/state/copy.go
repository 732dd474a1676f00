package state

import (
	"reflect"
)

// Shared marks values that copies of a State must share rather than duplicate,
// such as queues drained by concurrent consumers.
type Shared interface {
	SharedAcrossCopies()
}

// copyValue deep-copies maps and slices. Channels, funcs, pointers and Shared
// values are returned as is.
func copyValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Shared:
		return v
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	case string, bool, int, int64, float64:
		return v
	}
	return copyReflect(reflect.ValueOf(v)).Interface()
}

func copyReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyElem(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(copyElem(v.Index(i)))
		}
		return out
	}
	return v
}

func copyElem(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		c := reflect.ValueOf(copyValue(v.Interface()))
		out := reflect.New(v.Type()).Elem()
		out.Set(c)
		return out
	}
	return copyReflect(v)
}

// DeepCopy returns a point-in-time copy of s. The copy keeps the same snapshot
// callback and parent link, and shares channels, funcs and Shared values.
// The copy gets its own execution cache.
func (s *State) DeepCopy() *State {
	cache := s.cache.persist()

	s.mu.Lock()
	c := &State{
		id:             s.id,
		updatedAt:      s.updatedAt,
		clock:          s.clock,
		values:         copyMap(s.values),
		nodeOutputs:    copyOutputs(s.nodeOutputs),
		externalInputs: copyMap(s.externalInputs),
		workflowInputs: copyMap(s.workflowInputs),
		run:            s.run.clone(),
		parent:         s.parent,
		onSnapshot:     s.onSnapshot,
		logger:         s.logger,
	}
	s.mu.Unlock()

	c.root = &ObservedMap{st: c}
	c.cache = newExecutionCache(c, c.logger)
	c.cache.load(cache, nil)
	return c
}
