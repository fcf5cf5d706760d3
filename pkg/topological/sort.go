package topological

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/exp/constraints"
)

var ErrCycleDetected = errors.New("cycle detected")

// A CycleError lists the keys that could not be ordered because they
// depend on each other.
type CycleError[K constraints.Ordered] struct {
	Keys []K
}

func (e CycleError[K]) Error() string {
	return fmt.Sprintf("%v: %v", ErrCycleDetected, e.Keys)
}

func (e CycleError[K]) Unwrap() error {
	return ErrCycleDetected
}

func has[M ~map[K]V, K comparable, V any](m M, key K) bool {
	_, ok := m[key]
	return ok
}

func sortedKeys[M ~map[K]V, K constraints.Ordered, V any](m M) []K {
	return slices.Sorted(maps.Keys(m))
}

// Sort orders values so that every value comes after the values
// depFunc reports it depends on. Ties are broken by key order, so the
// result is deterministic.
func Sort[T constraints.Ordered](values []T, depFunc func(T) []T) ([]T, error) {
	return SortFunc(values, func(val T) T { return val }, depFunc)
}

// SortFunc is Sort for values identified by keyFunc. Dependencies that
// are not among values are ignored.
func SortFunc[T any, K constraints.Ordered](values []T, keyFunc func(T) K, depFunc func(T) []T) ([]T, error) {
	valuesByKey := make(map[K]T)
	dependencies := make(map[K]map[K]struct{})
	dependents := make(map[K]map[K]struct{})

	for _, val := range values {
		valuesByKey[keyFunc(val)] = val
	}

	for key, val := range valuesByKey {
		for _, dep := range depFunc(val) {
			depKey := keyFunc(dep)
			if !has(valuesByKey, depKey) {
				continue
			}

			if dependencies[key] == nil {
				dependencies[key] = make(map[K]struct{})
			}
			dependencies[key][depKey] = struct{}{}

			if dependents[depKey] == nil {
				dependents[depKey] = make(map[K]struct{})
			}
			dependents[depKey][key] = struct{}{}
		}
	}

	var ready []K
	for _, key := range sortedKeys(valuesByKey) {
		if len(dependencies[key]) == 0 {
			ready = append(ready, key)
		}
	}

	list := make([]T, 0, len(valuesByKey))

	for len(ready) > 0 {
		var key K
		key, ready = ready[0], ready[1:]
		list = append(list, valuesByKey[key])

		for _, dep := range sortedKeys(dependents[key]) {
			delete(dependencies[dep], key)
			if len(dependencies[dep]) == 0 {
				delete(dependencies, dep)
				ready = append(ready, dep)
			}
		}
	}

	if len(dependencies) > 0 {
		return nil, CycleError[K]{Keys: sortedKeys(dependencies)}
	}

	return list, nil
}
