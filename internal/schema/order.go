package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Order sorts tables so every table comes after the tables its foreign keys
// reference. Ties keep declaration order, so the result is stable. References
// to tables outside the list are ignored; a cycle is an error.
func Order(tables []Table) ([]Table, error) {
	index := make(map[string]int, len(tables))
	for i, t := range tables {
		index[t.Name] = i
	}

	indegree := make([]int, len(tables))
	dependents := make([][]int, len(tables))
	for i, t := range tables {
		for _, ref := range t.References() {
			j, ok := index[ref]
			if !ok {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range tables {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]Table, 0, len(tables))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		ordered = append(ordered, tables[i])
		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				ready = append(ready, j)
			}
		}
	}

	if len(ordered) != len(tables) {
		var stuck []string
		for i, t := range tables {
			if indegree[i] > 0 {
				stuck = append(stuck, t.Name)
			}
		}
		return nil, fmt.Errorf("foreign key cycle between tables: %s", strings.Join(stuck, ", "))
	}
	return ordered, nil
}

// Reverse returns the tables in the opposite order, the safe order for drops.
func Reverse(tables []Table) []Table {
	out := make([]Table, len(tables))
	for i, t := range tables {
		out[len(tables)-1-i] = t
	}
	return out
}
