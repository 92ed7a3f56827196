package council

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Blackboard capacity limits.
const (
	DefaultKeyLimit   = 5 * 1024  // per-key serialized size before truncation
	DefaultTotalLimit = 50 * 1024 // total serialized size of the store
)

// TruncationMarker is appended to oversized values in place of the removed
// tail, so a truncated note is visibly truncated rather than silently short.
const TruncationMarker = "...[truncated]"

// CycleMarker replaces any value that references itself during
// serialization, so a cyclic note degrades to a marker instead of failing.
const CycleMarker = "[circular]"

// ErrBlackboardFull rejects a write whose projected total size would exceed
// the store limit. The write is not partially applied.
var ErrBlackboardFull = fmt.Errorf("blackboard total size limit exceeded")

// Blackboard is a capacity-limited key/value store for transient cross-agent
// notes. Values are serialized to JSON with a visited-set cycle guard on
// write; a failed serialization rejects that one write and leaves the store
// untouched. The total serialized size never exceeds the configured ceiling.
type Blackboard struct {
	mu         sync.Mutex
	entries    map[string]string
	keyLimit   int
	totalLimit int
	totalSize  int
	logger     *zap.Logger
}

// NewBlackboard creates a blackboard with the given limits.
// Limits below 1 fall back to the defaults. A nil logger is replaced with a
// no-op logger.
func NewBlackboard(keyLimit, totalLimit int, logger *zap.Logger) *Blackboard {
	if keyLimit < 1 {
		keyLimit = DefaultKeyLimit
	}
	if totalLimit < 1 {
		totalLimit = DefaultTotalLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blackboard{
		entries:    make(map[string]string),
		keyLimit:   keyLimit,
		totalLimit: totalLimit,
		logger:     logger,
	}
}

// Put serializes value and stores it under key.
//
// An oversized single value is truncated to the per-key limit with a
// visible marker. A write whose projected total size would exceed the store
// limit is rejected whole with ErrBlackboardFull. A value that cannot be
// serialized fails only that write, logged, with the store unchanged.
func (b *Blackboard) Put(key string, value any) error {
	serialized, err := marshalSafe(value)
	if err != nil {
		b.logger.Warn("blackboard write rejected: serialization failed",
			zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to serialize blackboard value for %q: %w", key, err)
	}

	if len(serialized) > b.keyLimit {
		keep := b.keyLimit - len(TruncationMarker)
		if keep < 0 {
			keep = 0
		}
		serialized = serialized[:keep] + TruncationMarker
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	projected := b.totalSize - len(b.entries[key]) + len(serialized)
	if projected > b.totalLimit {
		b.logger.Warn("blackboard write rejected: store full",
			zap.String("key", key),
			zap.Int("projected_size", projected),
			zap.Int("limit", b.totalLimit))
		return ErrBlackboardFull
	}

	b.totalSize = projected
	b.entries[key] = serialized
	return nil
}

// Get returns the serialized value stored under key.
func (b *Blackboard) Get(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.entries[key]
	return v, ok
}

// Delete removes a key, reclaiming its size.
func (b *Blackboard) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.entries[key]; ok {
		b.totalSize -= len(v)
		delete(b.entries, key)
	}
}

// Len returns the number of stored keys.
func (b *Blackboard) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// TotalSize returns the total serialized size of the store in bytes.
func (b *Blackboard) TotalSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize
}

// marshalSafe serializes value to JSON after replacing any cyclic
// references with CycleMarker, so self-referencing notes cannot hang or
// fail the whole store.
func marshalSafe(value any) (string, error) {
	sanitized := sanitize(reflect.ValueOf(value), map[uintptr]bool{})
	data, err := json.Marshal(sanitized)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sanitize walks a value tracking visited pointers, maps and slices, and
// substitutes CycleMarker wherever a reference cycle is detected. The
// result contains only JSON-marshalable kinds; anything unrepresentable
// (channels, funcs) is left in place so Marshal reports it as a failure.
func sanitize(v reflect.Value, visited map[uintptr]bool) any {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitize(v.Elem(), visited)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if visited[ptr] {
			return CycleMarker
		}
		visited[ptr] = true
		out := sanitize(v.Elem(), visited)
		delete(visited, ptr)
		return out

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if visited[ptr] {
			return CycleMarker
		}
		visited[ptr] = true
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitize(iter.Value(), visited)
		}
		delete(visited, ptr)
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if visited[ptr] {
			return CycleMarker
		}
		visited[ptr] = true
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = sanitize(v.Index(i), visited)
		}
		delete(visited, ptr)
		return out

	case reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = sanitize(v.Index(i), visited)
		}
		return out

	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			out[t.Field(i).Name] = sanitize(v.Field(i), visited)
		}
		return out

	default:
		return v.Interface()
	}
}
