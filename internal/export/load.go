package export

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/starford/tiwaz/internal/apperr"
)

//go:embed needs.schema.json
var schemaJSON string

const schemaURL = "https://tiwaz.dev/schemas/needs.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("export: schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Load decodes a needs.json document. Malformed JSON is fatal; schema
// violations and mistyped values are returned as warnings and the rest of
// the document is still read.
func Load(r io.Reader) (*Document, []string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("export: read: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, nil, apperr.Newf(apperr.ErrMalformedExport, "", "needs.json is not valid JSON: %v", err)
	}

	var warns []string
	s, err := compiled()
	if err != nil {
		return nil, nil, err
	}
	if err := s.Validate(tree); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			warns = append(warns, flatten(ve)...)
		} else {
			warns = append(warns, err.Error())
		}
	}

	root, ok := tree.(map[string]any)
	if !ok {
		return nil, warns, apperr.New(apperr.ErrMalformedExport, "", "needs.json root is not an object")
	}
	doc := &Document{
		Created:        str(root["created"]),
		CurrentVersion: str(root["current_version"]),
		Project:        str(root["project"]),
		Versions:       map[string]*Version{},
	}
	versions, _ := root["versions"].(map[string]any)
	for name, rv := range versions {
		vm, ok := rv.(map[string]any)
		if !ok {
			warns = append(warns, fmt.Sprintf("version %s is not an object", name))
			continue
		}
		doc.Versions[name] = readVersion(name, vm, &warns)
	}
	return doc, warns, nil
}

func readVersion(name string, vm map[string]any, warns *[]string) *Version {
	v := &Version{
		Created: str(vm["created"]),
		Needs:   map[string]map[string]any{},
		Filters: map[string]FilterRecord{},
	}
	needs, _ := vm["needs"].(map[string]any)
	for id, rn := range needs {
		nm, ok := rn.(map[string]any)
		if !ok {
			*warns = append(*warns, fmt.Sprintf("version %s: need %s is not an object", name, id))
			continue
		}
		v.Needs[id] = plain(nm).(map[string]any)
	}
	filters, _ := vm["filters"].(map[string]any)
	for id, rf := range filters {
		b, _ := json.Marshal(rf)
		var f FilterRecord
		if err := json.Unmarshal(b, &f); err != nil {
			*warns = append(*warns, fmt.Sprintf("version %s: filter %s: %v", name, id, err))
			continue
		}
		v.Filters[id] = f
	}
	v.NeedsAmount = len(v.Needs)
	v.FiltersAmount = len(v.Filters)
	return v
}

// plain converts json.Number values to int64 or float64.
func plain(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = plain(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = plain(e)
		}
		return t
	}
	return v
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func flatten(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("needs.json %s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flatten(c)...)
	}
	sort.Strings(out)
	return out
}
