// Package build owns one build of the needs graph: the session holding the
// configuration and store, record creation, document scanning and the
// ordered post-processing passes.
package build

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/dynfunc"
	"github.com/starford/tiwaz/internal/extend"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/ident"
	"github.com/starford/tiwaz/internal/links"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/parser"
	"github.com/starford/tiwaz/internal/registry"
	"github.com/starford/tiwaz/internal/store"
)

// Workflow holds the one-shot flags of the post-processing passes.
type Workflow struct {
	Collected          bool
	DynamicResolved    bool
	VariantsResolved   bool
	BackLinksBuilt     map[string]bool
	LinksChecked       bool
	Extended           bool
	ConstraintsChecked bool
	WarningsChecked    bool
	FiltersResolved    bool
}

// FilterDirective is a needfilter block awaiting resolution.
type FilterDirective struct {
	ExportID string
	Spec     filter.Spec
	DocName  string
	LineNo   int
}

// FilterResult is a resolved needfilter.
type FilterResult struct {
	ExportID string
	Spec     filter.Spec
	Result   []string
	DocName  string
	LineNo   int
}

// Session is the state of a single build. It is created at build start and
// discarded once the result is published.
type Session struct {
	ID       string
	Config   *registry.Config
	Types    *registry.TypeTable
	Store    *store.Store
	Workflow Workflow
	Reporter *diag.Reporter
	Funcs    *dynfunc.Registry
	Filter   *filter.Filter
	// VariantContext binds extra names (tags, build flags) for variant conditions.
	VariantContext map[string]any

	idRegex *regexp.Regexp
	onWarn  func(diag.Warning)
	extends []extend.Extend
	filters []FilterDirective
	results []FilterResult
	logger  *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used by the session and its reporter.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithFuncs replaces the dynamic function registry.
func WithFuncs(r *dynfunc.Registry) Option {
	return func(s *Session) { s.Funcs = r }
}

// WithWarnHook registers fn to observe every warning of the build.
func WithWarnHook(fn func(diag.Warning)) Option {
	return func(s *Session) { s.onWarn = fn }
}

// WithVariantContext binds names for variant conditions.
func WithVariantContext(ctx map[string]any) Option {
	return func(s *Session) { s.VariantContext = ctx }
}

// NewSession validates cfg and prepares an empty build.
func NewSession(cfg *registry.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = registry.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrConfig, err)
	}
	types, err := registry.NewTypeTable(cfg.Types)
	if err != nil {
		return nil, err
	}
	var re *regexp.Regexp
	if cfg.IDRegex != "" {
		re, err = regexp.Compile(cfg.IDRegex)
		if err != nil {
			return nil, fmt.Errorf("%w: id_regex: %v", apperr.ErrConfig, err)
		}
	}
	s := &Session{
		ID:       uuid.NewString(),
		Config:   cfg,
		Types:    types,
		Store:    store.New(),
		Workflow: Workflow{BackLinksBuilt: map[string]bool{}},
		idRegex:  re,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(slog.String("build_id", s.ID))
	s.Reporter = diag.NewReporter(s.logger)
	if s.onWarn != nil {
		s.Reporter.OnWarn(s.onWarn)
	}
	if s.Funcs == nil {
		s.Funcs = dynfunc.Default()
	}
	s.Filter = filter.New(cfg.FilterData, cfg.AllowUnsafeFilters, s.Reporter)
	return s, nil
}

// Logger returns the build-scoped logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// IDRegex returns the compiled id_regex, nil when unset.
func (s *Session) IDRegex() *regexp.Regexp { return s.idRegex }

// Params are the inputs of one need definition.
type Params struct {
	Type        string
	ID          string
	Title       string
	Content     string
	DocName     string
	LineNo      int
	Status      *string
	Tags        any
	Constraints any
	Delete      bool
	Hide        bool
	Collapse    bool
	Style       string
	Layout      string
	SectionName string
	ParentNeed  string
	// Options holds link categories and extra options by name.
	Options map[string]any
	Parts   []parser.Part
}

// AddNeed creates a need in the session store. It returns nil without error
// when the definition is marked for deletion.
func (s *Session) AddNeed(p Params) (*need.Need, error) {
	return s.addTo(s.Store, p)
}

func (s *Session) addTo(st *store.Store, p Params) (*need.Need, error) {
	at := func(e *apperr.Error) *apperr.Error { return e.At(p.DocName, p.LineNo) }

	tp, ok := s.Types.Lookup(p.Type)
	if !ok {
		return nil, at(apperr.Newf(apperr.ErrUnknownType, p.ID, "unknown need type %q", p.Type))
	}
	if p.Delete {
		return nil, nil
	}
	cfg := s.Config

	id := strings.TrimSpace(p.ID)
	if id == "" {
		if cfg.IDRequired {
			return nil, at(apperr.Newf(apperr.ErrMissingID, "", "an id is required for %s %q", p.Type, p.Title))
		}
		id = ident.GenerateID(tp.Prefix, p.Title, p.Content, cfg.IDLength, cfg.IDFromTitle)
	} else if err := ident.ValidateIDFormat(id, s.idRegex); err != nil {
		return nil, withLocation(err, p)
	}
	if _, dup := st.Get(id); dup {
		return nil, at(apperr.Newf(apperr.ErrDuplicateID, id, "a need with id %s already exists", id))
	}

	tags := s.readList(id, p, "tags", p.Tags)
	constraints := s.readList(id, p, "constraints", p.Constraints)
	if err := ident.ValidateStatus(id, p.Status, cfg.StatusNames()); err != nil {
		return nil, withLocation(err, p)
	}
	if err := ident.ValidateTags(id, tags, cfg.TagNames()); err != nil {
		return nil, withLocation(err, p)
	}
	if err := ident.ValidateConstraints(id, constraints, cfg.ConstraintNames()); err != nil {
		return nil, withLocation(err, p)
	}

	n := need.New(id)
	n.DocName, n.LineNo = p.DocName, p.LineNo
	n.Type, n.TypeName, n.TypePrefix, n.TypeColor, n.TypeStyle = tp.Directive, tp.Title, tp.Prefix, tp.Color, tp.Style
	n.FullTitle = p.Title
	n.Title = ident.TrimTitle(p.Title, cfg.MaxTitleLength)
	n.Status = p.Status
	n.Tags = tags
	n.Constraints = constraints
	n.Content = p.Content
	n.Hide, n.Collapse = p.Hide, p.Collapse
	n.Style, n.Layout = p.Style, p.Layout
	n.SectionName, n.ParentNeed = p.SectionName, p.ParentNeed

	lts := cfg.LinkTypes()
	for _, lt := range lts {
		n.Links[lt.Option] = s.readList(id, p, lt.Option, p.Options[lt.Option])
		n.Back[lt.Option] = []string{}
	}
	if p.ParentNeed != "" {
		n.Links[registry.ParentNeedsOption], _ = need.AppendUnique(n.Links[registry.ParentNeedsOption], p.ParentNeed)
	}
	for _, lt := range lts {
		if !lt.Copy || lt.Option == registry.LinksOption {
			continue
		}
		for _, ref := range n.Links[lt.Option] {
			n.Links[registry.LinksOption], _ = need.AppendUnique(n.Links[registry.LinksOption], ref)
		}
	}
	for _, ex := range cfg.ExtraOptions {
		n.Extra[ex] = optionString(p.Options[ex])
	}
	for _, key := range need.SortedKeys(p.Options) {
		if _, isLink := cfg.LinkType(key); isLink || cfg.IsExtraOption(key) {
			continue
		}
		s.Reporter.Warn(diag.Warning{
			Kind: diag.KindParse, NeedID: id, DocName: p.DocName, Line: p.LineNo,
			Message: fmt.Sprintf("need %s: unknown option %q ignored", id, key),
		})
	}
	for _, part := range p.Parts {
		pt := need.NewPart(part.ID, part.Content)
		for _, lt := range lts {
			pt.Links[lt.Option] = []string{}
			pt.Back[lt.Option] = []string{}
		}
		n.AddPart(pt)
	}

	if err := st.Add(n); err != nil {
		return nil, err
	}
	return n, nil
}

// readList normalizes a list option and reports scruffy entries.
func (s *Session) readList(id string, p Params, field string, v any) []string {
	list, warns := links.ReadLinks(v)
	for _, w := range warns {
		s.Reporter.Warn(diag.Warning{
			Kind: diag.KindScruffy, NeedID: id, DocName: p.DocName, Line: p.LineNo,
			Message: fmt.Sprintf("scruffy %s definition in need %s: %s", field, id, w),
		})
	}
	return list
}

func withLocation(err error, p Params) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.At(p.DocName, p.LineNo)
	}
	return err
}

func optionString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = fmt.Sprint(e)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// AddExtend queues a needextend directive for post-processing.
func (s *Session) AddExtend(x extend.Extend) {
	s.extends = append(s.extends, x)
}

// AddFilter queues a needfilter directive for post-processing.
func (s *Session) AddFilter(f FilterDirective) {
	s.filters = append(s.filters, f)
}

// Filters returns the resolved needfilter results.
func (s *Session) Filters() []FilterResult {
	out := make([]FilterResult, len(s.results))
	copy(out, s.results)
	return out
}
