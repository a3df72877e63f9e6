package export

import (
	"encoding/json"
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// Generic returns d as plain maps and slices.
func Generic(d *Document) (any, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("export: encode: %w", err)
	}
	var tree any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, fmt.Errorf("export: decode: %w", err)
	}
	return tree, nil
}

// Select evaluates a JSONPath selector against d, for example
// "$.versions.*.needs[?(@.status == 'open')].id".
func Select(d *Document, selector string) ([]any, error) {
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}
	tree, err := Generic(d)
	if err != nil {
		return nil, err
	}
	return x.Get(tree), nil
}
