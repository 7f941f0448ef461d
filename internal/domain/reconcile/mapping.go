// Package reconcile holds the pass-scoped values of a reconciliation: the
// issue-number index of the ledger, the content block plan and the outcome.
package reconcile

import "sort"

// Mapping indexes ledger entries by the issue number they track. It is an
// injective partial function: no two numbers share an entry id. A Mapping
// is built once per pass and only read afterwards.
type Mapping struct {
	byNumber map[int]string
	entries  map[string]int
}

// NewMapping returns an empty Mapping.
func NewMapping() Mapping {
	return Mapping{byNumber: make(map[int]string), entries: make(map[string]int)}
}

// Insert adds number -> entryID. It reports false, leaving the mapping
// unchanged, when the number is already mapped to a different entry or the
// entry already backs a different number. Re-inserting an identical pair is a
// no-op that reports true.
func (m Mapping) Insert(number int, entryID string) bool {
	if existing, ok := m.byNumber[number]; ok {
		return existing == entryID
	}
	if _, ok := m.entries[entryID]; ok {
		return false
	}
	m.byNumber[number] = entryID
	m.entries[entryID] = number
	return true
}

// Lookup returns the entry id for an issue number.
func (m Mapping) Lookup(number int) (string, bool) {
	id, ok := m.byNumber[number]
	return id, ok
}

// Has reports whether the issue number is mapped.
func (m Mapping) Has(number int) bool {
	_, ok := m.byNumber[number]
	return ok
}

// Len returns the number of mapped issues.
func (m Mapping) Len() int { return len(m.byNumber) }

// Numbers returns the mapped issue numbers in ascending order.
func (m Mapping) Numbers() []int {
	nums := make([]int, 0, len(m.byNumber))
	for n := range m.byNumber {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Equal reports whether both mappings hold the same pairs.
func (m Mapping) Equal(o Mapping) bool {
	if len(m.byNumber) != len(o.byNumber) {
		return false
	}
	for n, id := range m.byNumber {
		if o.byNumber[n] != id {
			return false
		}
	}
	return true
}
