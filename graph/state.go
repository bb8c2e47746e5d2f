//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
)

// Reducer names accepted by ReducerByName.
const (
	ReducerNameReplace = "replace"
	ReducerNameAppend  = "append"
	ReducerNameMerge   = "merge"
)

// State is the shared data that flows through the graph.
// Keys are channel names.
type State map[string]any

// Clone returns a copy of the state. Top level slices and maps are copied
// as well so a captured state cannot be changed through a later update.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = copyValue(v)
	}
	return clone
}

func copyValue(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		return out.Interface()
	default:
		return v
	}
}

// Reducer merges an update into the current value of one channel.
// A reducer must be pure and must only look at its two arguments.
type Reducer func(current, update any) any

// Channel declares one named slot of the state.
type Channel struct {
	// Name is set by Schema.AddChannel.
	Name string
	// Type is the Go type of the channel value. Optional. When set, merged
	// values are type checked and values decoded from durable stores are
	// converted back to it.
	Type reflect.Type
	// Reducer merges updates. Defaults to ReplaceReducer.
	Reducer Reducer
	// Default produces the initial value of the channel for a new thread.
	Default func() any
}

// Schema is the channel registry of a graph.
type Schema struct {
	mu       sync.RWMutex
	channels map[string]Channel
	order    []string
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{channels: make(map[string]Channel)}
}

func (s *Schema) clone() *Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Schema{channels: maps.Clone(s.channels), order: slices.Clone(s.order)}
}

// AddChannel declares a channel. Declaring the same name twice replaces the
// earlier declaration.
func (s *Schema) AddChannel(name string, ch Channel) *Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch.Reducer == nil {
		ch.Reducer = ReplaceReducer
	}
	ch.Name = name
	if _, ok := s.channels[name]; !ok {
		s.order = append(s.order, name)
	}
	s.channels[name] = ch
	return s
}

// Channel returns the declaration of a channel.
func (s *Schema) Channel(name string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[name]
	return ch, ok
}

// Channels returns the channel names in declaration order.
func (s *Schema) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Merge folds update into current using the channel's reducer.
func (s *Schema) Merge(channel string, current, update any) (any, error) {
	ch, ok := s.Channel(channel)
	if !ok {
		return nil, &UnknownChannelError{Channel: channel}
	}
	merged := ch.Reducer(current, update)
	if err := checkType(ch, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Apply returns a copy of state with every channel of update merged in.
// node is only used to attribute errors.
func (s *Schema) Apply(state State, update State, node string) (State, error) {
	result := state.Clone()
	for _, name := range sortedKeys(update) {
		ch, ok := s.Channel(name)
		if !ok {
			return nil, &UnknownChannelError{Node: node, Channel: name}
		}
		current, has := result[name]
		if !has && ch.Default != nil {
			current = ch.Default()
		}
		merged, err := s.Merge(name, current, update[name])
		if err != nil {
			if node != "" {
				return nil, fmt.Errorf("node %s: %w", node, err)
			}
			return nil, err
		}
		result[name] = merged
	}
	return result, nil
}

// Initial returns the state of a new thread built from channel defaults.
func (s *Schema) Initial() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := make(State)
	for _, name := range s.order {
		if d := s.channels[name].Default; d != nil {
			state[name] = d()
		}
	}
	return state
}

// Coerce converts values that lost their Go type in a JSON round trip,
// such as an int decoded as float64, back to the declared channel type.
func (s *Schema) Coerce(state State) (State, error) {
	out := make(State, len(state))
	for name, v := range state {
		ch, ok := s.Channel(name)
		if !ok || ch.Type == nil || v == nil || reflect.TypeOf(v).AssignableTo(ch.Type) {
			out[name] = v
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("coerce channel %s: %w", name, err)
		}
		ptr := reflect.New(ch.Type)
		if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("coerce channel %s to %v: %w", name, ch.Type, err)
		}
		out[name] = ptr.Elem().Interface()
	}
	return out, nil
}

func checkType(ch Channel, v any) error {
	if ch.Type == nil || v == nil {
		return nil
	}
	if !reflect.TypeOf(v).AssignableTo(ch.Type) {
		return fmt.Errorf("%w: channel %s expects %v, got %T", ErrChannelType, ch.Name, ch.Type, v)
	}
	return nil
}

// ReducerByName resolves a reducer from its configuration name.
func ReducerByName(name string) (Reducer, bool) {
	switch name {
	case "", ReducerNameReplace:
		return ReplaceReducer, true
	case ReducerNameAppend:
		return AppendReducer, true
	case ReducerNameMerge:
		return MergeReducer, true
	default:
		return nil, false
	}
}

// ReplaceReducer overwrites the current value with the update.
func ReplaceReducer(current, update any) any {
	return update
}

// AppendReducer appends update to the current slice. A slice update is
// appended element by element, unless the current slice has a concrete
// element type the whole update is assignable to, such as a []byte
// appended to a [][]byte. Any other update is appended as a single
// element. The result is always a new slice, so earlier snapshots keep
// their contents.
//
// Element types that do not fit the current slice widen the result to
// []any. On a channel declared with a slice Type the widened value fails
// the type check and the update is rejected with ErrChannelType.
func AppendReducer(current, update any) any {
	if update == nil {
		return copyValue(current)
	}
	uv := reflect.ValueOf(update)
	if current == nil {
		if uv.Kind() == reflect.Slice {
			return copyValue(update)
		}
		out := reflect.MakeSlice(reflect.SliceOf(uv.Type()), 0, 1)
		return reflect.Append(out, uv).Interface()
	}
	cv := reflect.ValueOf(current)
	if cv.Kind() != reflect.Slice {
		cv = reflect.ValueOf([]any{current})
	}
	elem := cv.Type().Elem()
	items := []reflect.Value{uv}
	whole := elem.Kind() != reflect.Interface && uv.Type().AssignableTo(elem)
	if uv.Kind() == reflect.Slice && !whole {
		items = make([]reflect.Value, uv.Len())
		for i := range items {
			items[i] = uv.Index(i)
		}
	}
	fits := true
	for _, it := range items {
		if !it.Type().AssignableTo(elem) {
			fits = false
			break
		}
	}
	if !fits {
		elem = reflect.TypeOf((*any)(nil)).Elem()
	}
	out := reflect.MakeSlice(reflect.SliceOf(elem), 0, cv.Len()+len(items))
	for i := 0; i < cv.Len(); i++ {
		out = reflect.Append(out, cv.Index(i))
	}
	for _, it := range items {
		out = reflect.Append(out, it)
	}
	return out.Interface()
}

// MergeReducer merges an update map into the current map.
func MergeReducer(current, update any) any {
	if current == nil {
		current = map[string]any{}
	}
	currentMap, ok1 := current.(map[string]any)
	updateMap, ok2 := update.(map[string]any)
	if !ok1 || !ok2 {
		return update
	}
	result := make(map[string]any, len(currentMap)+len(updateMap))
	for k, v := range currentMap {
		result[k] = v
	}
	for k, v := range updateMap {
		result[k] = v
	}
	return result
}
