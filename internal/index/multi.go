package index

// Multi is an append-only multi-valued index. Every key holds an immutable
// slice; appends publish a new slice so readers always see a complete one.
type Multi[K comparable, V comparable] struct {
	m *Map[K, []V]
}

func NewMulti[K comparable, V comparable](n int, hash HashFunc[K]) *Multi[K, V] {
	return &Multi[K, V]{m: NewMap[K, []V](n, hash)}
}

// Append adds v under k. Duplicates are kept.
func (x *Multi[K, V]) Append(k K, v V) {
	_, _ = x.m.Update(k, func(cur []V, _ bool) ([]V, bool, error) {
		next := make([]V, len(cur), len(cur)+1)
		copy(next, cur)
		return append(next, v), true, nil
	})
}

// AppendUnique adds v under k unless it is already present and reports
// whether it was added.
func (x *Multi[K, V]) AppendUnique(k K, v V) bool {
	added := false
	_, _ = x.m.Update(k, func(cur []V, _ bool) ([]V, bool, error) {
		for _, e := range cur {
			if e == v {
				return cur, false, nil
			}
		}
		added = true
		next := make([]V, len(cur), len(cur)+1)
		copy(next, cur)
		return append(next, v), true, nil
	})
	return added
}

// Get returns a copy of the values under k in insertion order.
func (x *Multi[K, V]) Get(k K) []V {
	cur, ok := x.m.Load(k)
	if !ok || len(cur) == 0 {
		return nil
	}
	out := make([]V, len(cur))
	copy(out, cur)
	return out
}

// Keys is the number of distinct keys.
func (x *Multi[K, V]) Keys() int {
	return x.m.Len()
}

// Range visits every key with its current values.
func (x *Multi[K, V]) Range(fn func(K, []V) bool) {
	x.m.Range(fn)
}
