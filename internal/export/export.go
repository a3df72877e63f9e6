// Package export writes and reads the versioned needs.json document.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/starford/tiwaz/internal/need"
)

// Document is the needs.json root.
type Document struct {
	Created        string              `json:"created,omitempty"`
	CurrentVersion string              `json:"current_version"`
	Project        string              `json:"project"`
	Versions       map[string]*Version `json:"versions"`
}

// Version holds the needs and filter results of one project version.
type Version struct {
	Created       string                    `json:"created,omitempty"`
	Needs         map[string]map[string]any `json:"needs"`
	NeedsAmount   int                       `json:"needs_amount"`
	Filters       map[string]FilterRecord   `json:"filters"`
	FiltersAmount int                       `json:"filters_amount"`
}

// FilterRecord is an exported needfilter result.
type FilterRecord struct {
	ExportID string   `json:"export_id"`
	Filter   string   `json:"filter"`
	Status   []string `json:"status"`
	Tags     []string `json:"tags"`
	Types    []string `json:"types"`
	Result   []string `json:"result"`
	Amount   int      `json:"amount"`
}

// Builder assembles documents.
type Builder struct {
	Project string
	Version string
	// Reproducible drops the created timestamps.
	Reproducible bool
	Now          func() time.Time
}

func (b Builder) created() string {
	if b.Reproducible {
		return ""
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// Build creates a document with a single version holding needs and filters.
func (b Builder) Build(needs []*need.Need, filters []FilterRecord) *Document {
	ts := b.created()
	v := &Version{
		Created: ts,
		Needs:   make(map[string]map[string]any, len(needs)),
		Filters: make(map[string]FilterRecord, len(filters)),
	}
	for _, n := range needs {
		v.Needs[n.ID] = Record(n)
	}
	for _, f := range filters {
		f.Amount = len(f.Result)
		if f.Result == nil {
			f.Result = []string{}
		}
		v.Filters[f.ExportID] = f
	}
	v.NeedsAmount = len(v.Needs)
	v.FiltersAmount = len(v.Filters)
	return &Document{
		Created:        ts,
		CurrentVersion: b.Version,
		Project:        b.Project,
		Versions:       map[string]*Version{b.Version: v},
	}
}

// Record flattens n for export: content is written as description and
// parts as a map keyed by part id.
func Record(n *need.Need) map[string]any {
	m := n.Map()
	m["description"] = m["content"]
	delete(m, "content")
	parts := make(map[string]any, len(n.Parts))
	for _, p := range n.OrderedParts() {
		pm := map[string]any{"id": p.ID, "content": p.Content}
		for cat, l := range p.Links {
			pm[cat] = l
		}
		for cat, l := range p.Back {
			pm[cat+need.BackSuffix] = l
		}
		parts[p.ID] = pm
	}
	m["parts"] = parts
	return m
}

// KeepVersions copies the versions of prev that d does not define, so
// rebuilding one version keeps the history of the file.
func (d *Document) KeepVersions(prev *Document) {
	if prev == nil {
		return
	}
	for name, v := range prev.Versions {
		if _, ok := d.Versions[name]; !ok {
			d.Versions[name] = v
		}
	}
}

// Write encodes d as indented JSON. Map keys are sorted, so equal documents
// produce equal bytes.
func Write(w io.Writer, d *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("export: encode: %w", err)
	}
	return nil
}

// Marshal is Write into a byte slice.
func Marshal(d *Document) ([]byte, error) {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: encode: %w", err)
	}
	return append(b, '\n'), nil
}
