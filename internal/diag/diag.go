// Package diag accumulates build warnings so they can be surfaced at the end
// of a build without halting it.
package diag

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Warning kinds.
const (
	KindDeadLink   = "link"
	KindDuplicate  = "duplicate_id"
	KindFilter     = "filter"
	KindDynFunc    = "dynamic_function"
	KindVariant    = "variant"
	KindExtend     = "needextend"
	KindConstraint = "constraint"
	KindScruffy    = "scruffy_definition"
	KindImport     = "import"
	KindExternal   = "external"
	KindRegistry   = "warnings"
	KindParse      = "parse"
)

// Warning is one reported condition.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	NeedID  string `json:"need_id,omitempty"`
	DocName string `json:"docname,omitempty"`
	Line    int    `json:"lineno,omitempty"`
}

func (w Warning) String() string {
	var b strings.Builder
	b.WriteString(w.Message)
	if w.DocName != "" {
		if w.Line > 0 {
			fmt.Fprintf(&b, " [%s:%d]", w.DocName, w.Line)
		} else {
			fmt.Fprintf(&b, " [%s]", w.DocName)
		}
	}
	fmt.Fprintf(&b, " [needs.%s]", w.Kind)
	return b.String()
}

// Reporter logs warnings as they happen and keeps them for the build summary.
// Scan workers share one Reporter, so it is safe for concurrent use.
type Reporter struct {
	logger *slog.Logger

	mu       sync.Mutex
	warnings []Warning
	onWarn   func(Warning)
}

// NewReporter creates a Reporter logging through logger (slog.Default when nil).
func NewReporter(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{logger: logger}
}

// OnWarn registers a hook called for every warning (used for metrics).
func (r *Reporter) OnWarn(fn func(Warning)) {
	r.mu.Lock()
	r.onWarn = fn
	r.mu.Unlock()
}

// Warn records w.
func (r *Reporter) Warn(w Warning) {
	attrs := []any{slog.String("kind", w.Kind)}
	if w.NeedID != "" {
		attrs = append(attrs, slog.String("need_id", w.NeedID))
	}
	if w.DocName != "" {
		attrs = append(attrs, slog.String("docname", w.DocName))
	}
	if w.Line > 0 {
		attrs = append(attrs, slog.Int("lineno", w.Line))
	}
	r.logger.Warn(w.Message, attrs...)

	r.mu.Lock()
	r.warnings = append(r.warnings, w)
	hook := r.onWarn
	r.mu.Unlock()
	if hook != nil {
		hook(w)
	}
}

// Warnf records a warning with a formatted message.
func (r *Reporter) Warnf(kind, needID, format string, args ...any) {
	r.Warn(Warning{Kind: kind, NeedID: needID, Message: fmt.Sprintf(format, args...)})
}

// Warnings returns a copy of all warnings in report order.
func (r *Reporter) Warnings() []Warning {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Warning, len(r.warnings))
	copy(out, r.warnings)
	return out
}

// Count returns the number of recorded warnings.
func (r *Reporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.warnings)
}

// Summary returns warning counts per kind.
func (r *Reporter) Summary() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, w := range r.warnings {
		out[w.Kind]++
	}
	return out
}

// SummaryLine renders Summary as "kind=n, kind=n" in kind order.
func (r *Reporter) SummaryLine() string {
	sum := r.Summary()
	kinds := make([]string, 0, len(sum))
	for k := range sum {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, sum[k])
	}
	return strings.Join(parts, ", ")
}
