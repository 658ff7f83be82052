package matcher

import "sort"

// Index is a float-keyed map kept in key order, answering predecessor and
// successor queries. It is not safe for concurrent use.
type Index[V any] struct {
	keys []float64
	vals []V
}

// NewIndex creates an empty index.
func NewIndex[V any]() *Index[V] {
	return &Index[V]{}
}

// Put inserts v at key, replacing any existing value.
func (x *Index[V]) Put(key float64, v V) {
	i := sort.SearchFloat64s(x.keys, key)
	if i < len(x.keys) && x.keys[i] == key {
		x.vals[i] = v
		return
	}
	x.keys = append(x.keys, 0)
	x.vals = append(x.vals, v)
	copy(x.keys[i+1:], x.keys[i:])
	copy(x.vals[i+1:], x.vals[i:])
	x.keys[i] = key
	x.vals[i] = v
}

// Get returns the value stored at exactly key.
func (x *Index[V]) Get(key float64) (V, bool) {
	i := sort.SearchFloat64s(x.keys, key)
	if i < len(x.keys) && x.keys[i] == key {
		return x.vals[i], true
	}
	var zero V
	return zero, false
}

// Floor returns the greatest key <= key and its value.
func (x *Index[V]) Floor(key float64) (float64, V, bool) {
	i := sort.Search(len(x.keys), func(i int) bool { return x.keys[i] > key })
	if i == 0 {
		var zero V
		return 0, zero, false
	}
	return x.keys[i-1], x.vals[i-1], true
}

// Ceiling returns the least key >= key and its value.
func (x *Index[V]) Ceiling(key float64) (float64, V, bool) {
	i := sort.SearchFloat64s(x.keys, key)
	if i == len(x.keys) {
		var zero V
		return 0, zero, false
	}
	return x.keys[i], x.vals[i], true
}

// Last returns the greatest key.
func (x *Index[V]) Last() (float64, V, bool) {
	if len(x.keys) == 0 {
		var zero V
		return 0, zero, false
	}
	n := len(x.keys) - 1
	return x.keys[n], x.vals[n], true
}

// Len returns the number of keys.
func (x *Index[V]) Len() int {
	return len(x.keys)
}

// Keys returns a copy of the keys in ascending order.
func (x *Index[V]) Keys() []float64 {
	return append([]float64(nil), x.keys...)
}

// Reset removes every key.
func (x *Index[V]) Reset() {
	x.keys = nil
	x.vals = nil
}
