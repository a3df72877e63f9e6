package filter

import (
	"errors"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/expr"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/store"
)

// Fallback evaluates filter strings the built-in language rejects. It is
// only consulted when unsafe filters are allowed.
type Fallback func(src string, env expr.Env) (bool, error)

// Options tune one filter call.
type Options struct {
	SortBy string
	// Location is cited in the warning emitted for failing records.
	Location string
	Current  *need.Need
}

// Filter evaluates filter strings over needs.
type Filter struct {
	data        map[string]any
	allowUnsafe bool
	fallback    Fallback
	rep         *diag.Reporter
}

// New creates a Filter. data is exposed to every expression.
func New(data map[string]any, allowUnsafe bool, rep *diag.Reporter) *Filter {
	if rep == nil {
		rep = diag.NewReporter(nil)
	}
	return &Filter{data: data, allowUnsafe: allowUnsafe, rep: rep}
}

// SetFallback installs an evaluator for filter strings outside the built-in
// language.
func (f *Filter) SetFallback(fb Fallback) { f.fallback = fb }

type evaluator func(env expr.Env) (bool, error)

// prepare compiles src. With unsafe filters disallowed a string that does
// not compile rejects the whole filter.
func (f *Filter) prepare(src string) (evaluator, error) {
	prog, err := expr.Compile(src)
	if err == nil {
		return prog.EvalBool, nil
	}
	if !f.allowUnsafe {
		return nil, apperr.Newf(apperr.ErrFilterRejected, "", "filter %q rejected: %v", src, err)
	}
	if f.fallback != nil {
		fb := f.fallback
		return func(env expr.Env) (bool, error) { return fb(src, env) }, nil
	}
	return func(expr.Env) (bool, error) { return false, err }, nil
}

func (f *Filter) env(n *need.Need, current *need.Need) Context {
	return Context{Need: n, Data: f.data, Current: current}
}

// Needs returns the members of values for which src is truthy, in input
// order (stably sorted by opts.SortBy when set). A record whose evaluation
// fails is excluded and the failure reported once for the call. An empty
// filter matches everything.
func (f *Filter) Needs(values []*need.Need, src string, opts Options) ([]*need.Need, error) {
	out := make([]*need.Need, 0, len(values))
	if strings.TrimSpace(src) == "" {
		out = append(out, values...)
		sortBy(out, opts.SortBy)
		return out, nil
	}
	ev, err := f.prepare(src)
	if err != nil {
		return nil, err
	}
	var firstErr error
	var firstID string
	for _, n := range values {
		ok, err := ev(f.env(n, opts.Current))
		if err != nil {
			if firstErr == nil {
				firstErr, firstID = err, n.ID
			}
			continue
		}
		if ok {
			out = append(out, n)
		}
	}
	if firstErr != nil {
		f.report(src, firstID, opts.Location, firstErr)
	}
	sortBy(out, opts.SortBy)
	return out, nil
}

func (f *Filter) report(src, needID, location string, err error) {
	w := diag.Warning{
		Kind:    diag.KindFilter,
		NeedID:  needID,
		DocName: location,
		Message: "filter '" + src + "' not valid. Error: " + err.Error(),
	}
	f.rep.Warn(w)
}

// Single evaluates src for one record. Evaluation errors are returned, not
// reported.
func (f *Filter) Single(n *need.Need, src string) (bool, error) {
	return f.SingleWith(n, src, nil)
}

// SingleWith is Single with extra names bound in the context.
func (f *Filter) SingleWith(n *need.Need, src string, extra map[string]any) (bool, error) {
	ev, err := f.prepare(src)
	if err != nil {
		return false, err
	}
	ctx := f.env(n, n)
	ctx.Extra = extra
	return ev(ctx)
}

// Bitmap evaluates src over the store and returns the ordinals of matches,
// so selections can be intersected or unioned.
func (f *Filter) Bitmap(s *store.Store, src string, opts Options) (*roaring.Bitmap, error) {
	matched, err := f.Needs(s.Values(), src, opts)
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	for _, n := range matched {
		if o, ok := s.Ordinal(n.ID); ok {
			bm.Add(o)
		}
	}
	return bm, nil
}

// IsRejected reports whether err rejected a whole filter.
func IsRejected(err error) bool {
	return errors.Is(err, apperr.ErrFilterRejected)
}

func sortBy(list []*need.Need, field string) {
	if field == "" {
		return
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StringField(field) < list[j].StringField(field)
	})
}
