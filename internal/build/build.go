package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/tiwaz/internal/export"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/registry"
)

// ErrWarnings is returned by Run when fail_on_warnings is set and the build
// reported at least one warning.
var ErrWarnings = errors.New("build finished with warnings")

// Inputs are the sources of a full build.
type Inputs struct {
	Loader Loader
	Source Source
}

// Run performs a complete build: scan, imports, external needs and the
// post-processing passes. The session is returned even when a late stage
// fails so callers can inspect the warnings.
func Run(ctx context.Context, cfg *registry.Config, in Inputs, opts ...Option) (*Session, error) {
	start := time.Now()
	s, err := NewSession(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if in.Loader.Provider != nil {
		if err := s.Scan(ctx, in.Loader.Provider, in.Source); err != nil {
			return s, err
		}
	}
	if err := s.LoadImports(ctx, in.Loader); err != nil {
		return s, err
	}
	if err := s.LoadExternal(ctx, in.Loader); err != nil {
		return s, err
	}
	if err := s.PostProcess(); err != nil {
		return s, err
	}
	s.logger.Info("build: completed",
		slog.Int("needs", s.Store.Len()),
		slog.Int("warnings", s.Reporter.Count()),
		slog.Duration("duration", time.Since(start)),
	)
	if n := s.Reporter.Count(); n > 0 {
		s.logger.Warn("build: warnings", slog.String("summary", s.Reporter.SummaryLine()))
		if s.Config.FailOnWarnings {
			return s, fmt.Errorf("%w: %d", ErrWarnings, n)
		}
	}
	return s, nil
}

// Document assembles the needs.json document of the session. External
// needs belong to their own project and are left out.
func (s *Session) Document() *export.Document {
	b := export.Builder{Project: s.Config.Project, Version: s.Config.Version, Reproducible: s.Config.Reproducible}
	values := s.Store.Values()
	local := make([]*need.Need, 0, len(values))
	for _, n := range values {
		if !n.IsExternal {
			local = append(local, n)
		}
	}
	recs := make([]export.FilterRecord, 0, len(s.results))
	for _, r := range s.results {
		recs = append(recs, export.FilterRecord{
			ExportID: r.ExportID,
			Filter:   r.Spec.Filter,
			Status:   nonNil(r.Spec.Status),
			Tags:     nonNil(r.Spec.Tags),
			Types:    nonNil(r.Spec.Types),
			Result:   r.Result,
		})
	}
	return b.Build(local, recs)
}

func nonNil(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}
