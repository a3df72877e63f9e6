package index

import (
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/storage"
)

// NeedIndex defines the interface for need indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NeedIndex interface {
	ReplaceNeeds(needs []*need.Need, linkOptions []string) error
	GetNeed(id string) (*NeedRow, error)
	ListNeeds(q ListQuery) ([]NeedRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Backlinks(target, category string) ([]string, error)
	ReplaceDocuments(docs []storage.Document) error
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies NeedIndex at compile time.
var _ NeedIndex = (*DB)(nil)
