// Package store holds need records keyed by id. Records keep the ordinal
// they were inserted with, so iteration (and export) order is deterministic
// and selections can be expressed as roaring bitmaps of ordinals.
package store

import (
	"fmt"
	"reflect"

	"github.com/RoaringBitmap/roaring"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/need"
)

// View is the read-only side of a Store. Records returned by a View must not
// be mutated outside the build phase that owns the store.
type View interface {
	Get(id string) (*need.Need, bool)
	Values() []*need.Need
	Len() int
}

// Store owns all need records of a build.
type Store struct {
	byID  map[string]*need.Need
	ord   map[string]uint32
	order []string // ordinal → id, "" once deleted
	live  *roaring.Bitmap
}

// Verify *Store satisfies View at compile time.
var _ View = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		byID: make(map[string]*need.Need),
		ord:  make(map[string]uint32),
		live: roaring.New(),
	}
}

// Add inserts n. It fails with apperr.ErrDuplicateID when the id exists.
func (s *Store) Add(n *need.Need) error {
	if _, ok := s.byID[n.ID]; ok {
		return apperr.Newf(apperr.ErrDuplicateID, n.ID, "a need with id %s already exists", n.ID).At(n.DocName, n.LineNo)
	}
	o := uint32(len(s.order))
	s.byID[n.ID] = n
	s.ord[n.ID] = o
	s.order = append(s.order, n.ID)
	s.live.Add(o)
	return nil
}

// Get returns the record for id.
func (s *Store) Get(id string) (*need.Need, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// GetOrDefault returns the record for id or def when absent.
func (s *Store) GetOrDefault(id string, def *need.Need) *need.Need {
	if n, ok := s.byID[id]; ok {
		return n
	}
	return def
}

// Delete removes id. It is only used when an external record is reloaded.
func (s *Store) Delete(id string) bool {
	o, ok := s.ord[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	delete(s.ord, id)
	s.order[o] = ""
	s.live.Remove(o)
	return true
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.byID) }

// Values returns all records in insertion order.
func (s *Store) Values() []*need.Need {
	return s.Select(s.live)
}

// IDs returns all ids in insertion order.
func (s *Store) IDs() []string {
	out := make([]string, 0, len(s.byID))
	it := s.live.Iterator()
	for it.HasNext() {
		out = append(out, s.order[it.Next()])
	}
	return out
}

// Bitmap returns a copy of the ordinals of all live records.
func (s *Store) Bitmap() *roaring.Bitmap {
	return s.live.Clone()
}

// Ordinal returns the insertion ordinal of id.
func (s *Store) Ordinal(id string) (uint32, bool) {
	o, ok := s.ord[id]
	return o, ok
}

// Select materializes a bitmap of ordinals in store order. Ordinals of
// deleted records are skipped.
func (s *Store) Select(bm *roaring.Bitmap) []*need.Need {
	out := make([]*need.Need, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		o := it.Next()
		if int(o) >= len(s.order) || s.order[o] == "" {
			continue
		}
		out = append(out, s.byID[s.order[o]])
	}
	return out
}

// Merge adds the records of other in their order. A record whose id already
// exists is skipped: when both records are the same the merge is a no-op
// apart from a set-union of back links, otherwise the id is returned as a
// duplicate so the caller can report it. Merging the same store twice has
// the same effect as merging it once.
func (s *Store) Merge(other *Store) []string {
	var dups []string
	for _, n := range other.Values() {
		existing, ok := s.byID[n.ID]
		if !ok {
			_ = s.Add(n.Clone())
			continue
		}
		if !sameRecord(existing, n) {
			dups = append(dups, n.ID)
			continue
		}
		unionBack(existing.Back, n.Back)
		for pid, p := range n.Parts {
			if ep, ok := existing.Parts[pid]; ok {
				unionBack(ep.Back, p.Back)
			}
		}
	}
	return dups
}

// DuplicateError describes an id conflict found while merging.
func DuplicateError(id string, a, b *need.Need) error {
	return apperr.Newf(apperr.ErrDuplicateID, id, "need %s defined in %s and %s", id, describe(a), describe(b))
}

func describe(n *need.Need) string {
	if n == nil {
		return "?"
	}
	if n.LineNo > 0 {
		return fmt.Sprintf("%s:%d", n.DocName, n.LineNo)
	}
	return n.DocName
}

func unionBack(dst, src map[string][]string) {
	for cat, ids := range src {
		for _, id := range ids {
			dst[cat], _ = need.AppendUnique(dst[cat], id)
		}
	}
}

// sameRecord compares two records ignoring derived back links.
func sameRecord(a, b *need.Need) bool {
	ca, cb := a.Clone(), b.Clone()
	ca.Back, cb.Back = nil, nil
	for _, p := range ca.Parts {
		p.Back = nil
	}
	for _, p := range cb.Parts {
		p.Back = nil
	}
	return reflect.DeepEqual(ca, cb)
}
