package index

import (
	"log/slog"

	"github.com/starford/tiwaz/internal/build"
	"github.com/starford/tiwaz/internal/checksum"
	"github.com/starford/tiwaz/internal/storage"
)

// Sync replaces the index contents with the resolved needs of s and records
// the checksums of docs.
func Sync(db NeedIndex, s *build.Session, docs []storage.Document, logger *slog.Logger) error {
	needs := s.Store.Values()
	if err := db.ReplaceNeeds(needs, s.Config.LinkOptions()); err != nil {
		return err
	}
	if err := db.ReplaceDocuments(docs); err != nil {
		return err
	}
	logger.Debug("sync: indexed",
		slog.String("build_id", s.ID),
		slog.Int("needs", len(needs)),
		slog.Int("documents", len(docs)),
	)
	return nil
}

// Changed reports whether docs differ from the checksums recorded by the
// last Sync.
func Changed(db NeedIndex, docs []storage.Document) (bool, error) {
	paths, err := ChangedPaths(db, docs)
	return len(paths) > 0, err
}

// ChangedPaths lists the documents added, removed or modified since the
// last Sync.
func ChangedPaths(db NeedIndex, docs []storage.Document) ([]string, error) {
	prev, err := db.AllChecksums()
	if err != nil {
		return nil, err
	}
	return checksum.Changed(prev, Checksums(docs)), nil
}

// Checksums maps every document path to its checksum.
func Checksums(docs []storage.Document) map[string]string {
	m := make(map[string]string, len(docs))
	for _, d := range docs {
		m[d.Path] = d.Checksum
	}
	return m
}
