// Package snapshot holds one observation instant of a document: an
// identity-keyed, insertion-ordered mapping from node to its path and
// attributes.
package snapshot

import "github.com/hazyhaar/domreplay/tree"

// Record is what a snapshot remembers about one node.
type Record struct {
	Kind       tree.Kind
	Path       tree.Path
	Attributes tree.Attributes
}

// Capture records n at path p.
func Capture(n tree.Node, p tree.Path) Record {
	return Record{Kind: n.Kind(), Path: p, Attributes: tree.Capture(n)}
}

type entry struct {
	node tree.Node
	rec  Record
	live bool
}

// Store is keyed by node identity and iterates in insertion order. Deleting
// leaves a tombstone so the remaining entries keep their relative order.
type Store struct {
	index   map[tree.Node]int
	entries []entry
	live    int
}

// New returns an empty Store.
func New() *Store {
	return &Store{index: make(map[tree.Node]int)}
}

// Put records n. Updating an existing key keeps its original position.
func (s *Store) Put(n tree.Node, rec Record) {
	if i, ok := s.index[n]; ok {
		s.entries[i].rec = rec
		return
	}
	s.index[n] = len(s.entries)
	s.entries = append(s.entries, entry{node: n, rec: rec, live: true})
	s.live++
}

// Get returns the record for n.
func (s *Store) Get(n tree.Node) (Record, bool) {
	i, ok := s.index[n]
	if !ok {
		return Record{}, false
	}
	return s.entries[i].rec, true
}

// Has reports whether n is present.
func (s *Store) Has(n tree.Node) bool {
	_, ok := s.index[n]
	return ok
}

// Delete removes n. It returns false if n was absent.
func (s *Store) Delete(n tree.Node) bool {
	i, ok := s.index[n]
	if !ok {
		return false
	}
	delete(s.index, n)
	s.entries[i] = entry{}
	s.live--
	return true
}

// Len is the number of live entries.
func (s *Store) Len() int { return s.live }

// Each calls fn for every live entry in insertion order until fn returns false.
func (s *Store) Each(fn func(n tree.Node, rec Record) bool) {
	for _, e := range s.entries {
		if !e.live {
			continue
		}
		if !fn(e.node, e.rec) {
			return
		}
	}
}

// FindByPath returns the first node, in insertion order, whose recorded path
// equals p exactly.
func (s *Store) FindByPath(p tree.Path) (tree.Node, bool) {
	var found tree.Node
	s.Each(func(n tree.Node, rec Record) bool {
		if rec.Path == p {
			found = n
			return false
		}
		return true
	})
	return found, found != nil
}
