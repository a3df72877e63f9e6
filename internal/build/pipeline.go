package build

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/tiwaz/internal/constraint"
	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/dynfunc"
	"github.com/starford/tiwaz/internal/extend"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/links"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/variant"
)

// PostProcess runs the resolution passes in order: dynamic functions,
// variants, back links, dead links, extends, constraints, the warnings
// registry and finally needfilter results. Each pass runs once per session;
// calling PostProcess again does nothing. A fatal error stops the sequence
// and leaves the remaining passes pending.
func (s *Session) PostProcess() error {
	s.Workflow.Collected = true

	if !s.Workflow.DynamicResolved {
		r := &dynfunc.Resolver{Registry: s.Funcs, Filter: s.Filter, Reporter: s.Reporter}
		r.ResolveAll(s.Store)
		s.Workflow.DynamicResolved = true
	}
	if !s.Workflow.VariantsResolved {
		r := &variant.Resolver{
			Variants: s.Config.Variants,
			Options:  s.Config.VariantOptions,
			Context:  s.VariantContext,
			Filter:   s.Filter,
			Reporter: s.Reporter,
		}
		r.ResolveAll(s.Store)
		s.Workflow.VariantsResolved = true
	}
	s.BuildBackLinks()
	if !s.Workflow.LinksChecked {
		s.checkDeadLinks()
		s.Workflow.LinksChecked = true
	}
	if !s.Workflow.Extended {
		e := &extend.Engine{
			Store:    s.Store,
			Filter:   s.Filter,
			Reporter: s.Reporter,
			IDRegex:  s.idRegex,
			Strict:   s.Config.ExtendStrict,
		}
		if err := e.ApplyAll(s.extends); err != nil {
			return err
		}
		s.extends = nil
		s.Workflow.Extended = true
	}
	if !s.Workflow.ConstraintsChecked {
		if err := constraint.New(s.Config, s.Filter, s.Reporter).CheckAll(s.Store); err != nil {
			return err
		}
		s.Workflow.ConstraintsChecked = true
	}
	if !s.Workflow.WarningsChecked {
		s.checkWarnings()
		s.Workflow.WarningsChecked = true
	}
	if !s.Workflow.FiltersResolved {
		s.resolveFilters()
		s.Workflow.FiltersResolved = true
	}
	s.logger.Info("build: post-processing done",
		slog.Int("needs", s.Store.Len()),
		slog.Int("warnings", s.Reporter.Count()),
	)
	return nil
}

// BuildBackLinks fills the incoming lists of every link category not built
// yet in this session.
func (s *Session) BuildBackLinks() {
	for _, cat := range s.Config.LinkOptions() {
		if s.Workflow.BackLinksBuilt[cat] {
			continue
		}
		links.BuildBackLinks(s.Store, cat)
		s.Workflow.BackLinksBuilt[cat] = true
	}
}

func (s *Session) checkDeadLinks() {
	for _, d := range links.CheckDeadLinks(s.Store, s.Config.LinkTypes()) {
		msg := d.String()
		if !d.Forbidden {
			s.logger.Info("links: dead link allowed", slog.String("need_id", d.Source), slog.String("target", d.Target))
			continue
		}
		s.Reporter.Warn(diag.Warning{Kind: diag.KindDeadLink, NeedID: d.Source, DocName: d.DocName, Line: d.LineNo, Message: msg})
	}
}

// checkWarnings evaluates the warnings registry. Every entry whose filter
// matches at least one need raises one warning listing the matches.
func (s *Session) checkWarnings() {
	for _, name := range need.SortedKeys(s.Config.Warnings) {
		src := s.Config.Warnings[name]
		bm, err := s.Filter.Bitmap(s.Store, src, filter.Options{Location: "warnings." + name})
		if err != nil {
			s.Reporter.Warnf(diag.KindRegistry, "", "%s: filter %q could not be evaluated: %v", name, src, err)
			continue
		}
		if bm.IsEmpty() {
			continue
		}
		hits := s.Store.Select(bm)
		ids := make([]string, len(hits))
		for i, n := range hits {
			ids[i] = n.ID
		}
		s.Reporter.Warnf(diag.KindRegistry, "", "%s: failed, failed needs: %d (%s)", name, len(ids), strings.Join(ids, ", "))
	}
}

func (s *Session) resolveFilters() {
	values := s.Store.Values()
	for _, f := range s.filters {
		opts := filter.Options{SortBy: f.Spec.SortBy, Location: fmt.Sprintf("%s:%d", f.DocName, f.LineNo)}
		hits, err := s.Filter.Apply(values, f.Spec, opts)
		if err != nil {
			s.Reporter.Warn(diag.Warning{
				Kind: diag.KindFilter, DocName: f.DocName, Line: f.LineNo,
				Message: fmt.Sprintf("needfilter %s: %v", f.ExportID, err),
			})
			continue
		}
		ids := make([]string, len(hits))
		for i, n := range hits {
			ids[i] = n.ID
		}
		s.results = append(s.results, FilterResult{ExportID: f.ExportID, Spec: f.Spec, Result: ids, DocName: f.DocName, LineNo: f.LineNo})
	}
	s.filters = nil
}
