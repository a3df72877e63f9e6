// Package registry holds the needs configuration surface: need types, extra
// fields, link categories, allow-lists, id generation parameters, variants
// and constraint rule sets. A Config is owned by a single build.
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Implicit link categories that always exist.
const (
	LinksOption       = "links"
	ParentNeedsOption = "parent_needs"
)

// Constraint failure reactions.
const (
	OnFailWarn  = "warn"
	OnFailBreak = "break"
)

// Defaults for id generation.
const (
	DefaultIDLength = 5
	DefaultIDRegex  = `^[A-Z0-9_]{5,}`
)

// Config is the needs configuration consumed by the core.
type Config struct {
	Project      string `yaml:"project" toml:"project"`
	Version      string `yaml:"version" toml:"version"`
	Reproducible bool   `yaml:"reproducible" toml:"reproducible"`

	Types        []TypeConfig     `yaml:"types" toml:"types"`
	ExtraOptions []string         `yaml:"extra_options" toml:"extra_options"`
	ExtraLinks   []LinkTypeConfig `yaml:"extra_links" toml:"extra_links"`

	Statuses []AllowedValue `yaml:"statuses" toml:"statuses"`
	Tags     []AllowedValue `yaml:"tags" toml:"tags"`

	Constraints             map[string]ConstraintConfig `yaml:"constraints" toml:"constraints"`
	ConstraintFailedOptions map[string]FailurePolicy    `yaml:"constraint_failed_options" toml:"constraint_failed_options"`

	IDLength       int    `yaml:"id_length" toml:"id_length"`
	IDRegex        string `yaml:"id_regex" toml:"id_regex"`
	IDRequired     bool   `yaml:"id_required" toml:"id_required"`
	IDFromTitle    bool   `yaml:"id_from_title" toml:"id_from_title"`
	MaxTitleLength int    `yaml:"max_title_length" toml:"max_title_length"`

	Variants       map[string]string `yaml:"variants" toml:"variants"`
	VariantOptions []string          `yaml:"variant_options" toml:"variant_options"`

	// Warnings maps a warning name to a filter; matching needs raise it.
	Warnings   map[string]string `yaml:"warnings" toml:"warnings"`
	FilterData map[string]any    `yaml:"filter_data" toml:"filter_data"`

	AllowUnsafeFilters bool `yaml:"allow_unsafe_filters" toml:"allow_unsafe_filters"`
	ExtendStrict       bool `yaml:"extend_strict" toml:"extend_strict"`
	FailOnWarnings     bool `yaml:"fail_on_warnings" toml:"fail_on_warnings"`

	ExternalNeeds []ExternalSource `yaml:"external_needs" toml:"external_needs"`
	Imports       []ImportSource   `yaml:"imports" toml:"imports"`
}

// TypeConfig declares one need type.
type TypeConfig struct {
	Directive string `yaml:"directive" toml:"directive"`
	Title     string `yaml:"title" toml:"title"`
	Prefix    string `yaml:"prefix" toml:"prefix"`
	Color     string `yaml:"color" toml:"color"`
	Style     string `yaml:"style" toml:"style"`
}

// LinkTypeConfig declares a link category.
type LinkTypeConfig struct {
	Option         string `yaml:"option" toml:"option"`
	Incoming       string `yaml:"incoming" toml:"incoming"`
	Outgoing       string `yaml:"outgoing" toml:"outgoing"`
	Copy           bool   `yaml:"copy" toml:"copy"`
	AllowDeadLinks bool   `yaml:"allow_dead_links" toml:"allow_dead_links"`
	Style          string `yaml:"style" toml:"style"`
}

// BackOption is the field name holding the incoming list.
func (l LinkTypeConfig) BackOption() string { return l.Option + "_back" }

// AllowedValue is an allow-list entry for statuses and tags.
type AllowedValue struct {
	Name        string `yaml:"name" toml:"name"`
	Description string `yaml:"description" toml:"description"`
}

// ConstraintConfig is a named rule set.
type ConstraintConfig struct {
	Checks   map[string]string `yaml:"checks" toml:"checks"`
	Severity string            `yaml:"severity" toml:"severity"`
}

// CheckNames returns the check names in a stable order.
func (c ConstraintConfig) CheckNames() []string {
	names := make([]string, 0, len(c.Checks))
	for n := range c.Checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FailurePolicy is the reaction configured for a severity.
type FailurePolicy struct {
	OnFail     []string `yaml:"on_fail" toml:"on_fail"`
	Style      []string `yaml:"style" toml:"style"`
	ForceStyle bool     `yaml:"force_style" toml:"force_style"`
}

// Has reports whether reaction is part of OnFail.
func (p FailurePolicy) Has(reaction string) bool {
	for _, r := range p.OnFail {
		if r == reaction {
			return true
		}
	}
	return false
}

// ExternalSource describes a remote or local needs.json to mount.
type ExternalSource struct {
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	JSONURL   string `yaml:"json_url" toml:"json_url"`
	JSONPath  string `yaml:"json_path" toml:"json_path"`
	IDPrefix  string `yaml:"id_prefix" toml:"id_prefix"`
	TargetURL string `yaml:"target_url" toml:"target_url"`
	Version   string `yaml:"version" toml:"version"`
}

// Validate checks that exactly one of json_url/json_path is set.
func (s ExternalSource) Validate() error {
	if (s.JSONURL == "") == (s.JSONPath == "") {
		return errors.New("exactly one of json_url or json_path must be set")
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.BaseURL, validation.Required),
	)
}

// ImportSource describes a needs.json imported as regular needs.
type ImportSource struct {
	Path     string   `yaml:"path" toml:"path"`
	Version  string   `yaml:"version" toml:"version"`
	IDPrefix string   `yaml:"id_prefix" toml:"id_prefix"`
	Tags     []string `yaml:"tags" toml:"tags"`
	Filter   string   `yaml:"filter" toml:"filter"`
	Hide     bool     `yaml:"hide" toml:"hide"`
}

// Validate validates the import source.
func (s ImportSource) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Path, validation.Required),
	)
}

// Validate validates the configuration. Errors here abort the build.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.IDLength, validation.Required, validation.Min(1)),
		validation.Field(&c.IDRegex, validation.Required, validation.By(compiles)),
		validation.Field(&c.Types, validation.Required, validation.By(uniqueDirectives)),
		validation.Field(&c.ExtraLinks, validation.By(uniqueLinkOptions)),
		validation.Field(&c.ExternalNeeds),
		validation.Field(&c.Imports),
	); err != nil {
		return err
	}
	for name, cons := range c.Constraints {
		if cons.Severity == "" {
			continue // reported per need by the constraint checker
		}
		if _, ok := c.ConstraintFailedOptions[cons.Severity]; !ok {
			return fmt.Errorf("constraints: %s: severity %q not declared in constraint_failed_options", name, cons.Severity)
		}
	}
	return nil
}

// Validate validates a type declaration.
func (t TypeConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Directive, validation.Required),
	)
}

// Validate validates a link category declaration.
func (l LinkTypeConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Option, validation.Required, validation.Match(regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`))),
	)
}

func compiles(value any) error {
	s, _ := value.(string)
	if _, err := regexp.Compile(s); err != nil {
		return fmt.Errorf("does not compile: %w", err)
	}
	return nil
}

func uniqueDirectives(value any) error {
	types, _ := value.([]TypeConfig)
	seen := make(map[string]struct{}, len(types))
	for _, t := range types {
		if _, dup := seen[t.Directive]; dup {
			return fmt.Errorf("duplicate type directive %q", t.Directive)
		}
		seen[t.Directive] = struct{}{}
	}
	return nil
}

func uniqueLinkOptions(value any) error {
	links, _ := value.([]LinkTypeConfig)
	seen := make(map[string]struct{}, len(links))
	for _, l := range links {
		if _, dup := seen[l.Option]; dup {
			return fmt.Errorf("duplicate link option %q", l.Option)
		}
		seen[l.Option] = struct{}{}
	}
	return nil
}

// LinkTypes returns every link category: the implicit links and
// parent_needs categories first (unless redeclared) followed by extra_links.
func (c *Config) LinkTypes() []LinkTypeConfig {
	declared := make(map[string]bool, len(c.ExtraLinks))
	for _, l := range c.ExtraLinks {
		declared[l.Option] = true
	}
	var out []LinkTypeConfig
	if !declared[LinksOption] {
		out = append(out, LinkTypeConfig{Option: LinksOption, Incoming: "links incoming", Outgoing: "links outgoing"})
	}
	if !declared[ParentNeedsOption] {
		out = append(out, LinkTypeConfig{Option: ParentNeedsOption, Incoming: "child needs", Outgoing: "parent needs"})
	}
	return append(out, c.ExtraLinks...)
}

// LinkType looks up a link category by option name.
func (c *Config) LinkType(option string) (LinkTypeConfig, bool) {
	for _, l := range c.LinkTypes() {
		if l.Option == option {
			return l, true
		}
	}
	return LinkTypeConfig{}, false
}

// LinkOptions returns the option names of all link categories.
func (c *Config) LinkOptions() []string {
	lts := c.LinkTypes()
	out := make([]string, len(lts))
	for i, l := range lts {
		out[i] = l.Option
	}
	return out
}

// IsExtraOption reports whether name is a declared extra field.
func (c *Config) IsExtraOption(name string) bool {
	for _, o := range c.ExtraOptions {
		if o == name {
			return true
		}
	}
	return false
}

// IsVariantOption reports whether name undergoes variant resolution.
func (c *Config) IsVariantOption(name string) bool {
	for _, o := range c.VariantOptions {
		if o == name {
			return true
		}
	}
	return false
}

// StatusNames returns the configured status allow-list.
func (c *Config) StatusNames() []string { return names(c.Statuses) }

// TagNames returns the configured tag allow-list.
func (c *Config) TagNames() []string { return names(c.Tags) }

// ConstraintNames returns the declared rule set names, sorted.
func (c *Config) ConstraintNames() []string {
	out := make([]string, 0, len(c.Constraints))
	for n := range c.Constraints {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func names(vals []AllowedValue) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = v.Name
	}
	return out
}

// NewDefault returns a configuration with the default type table and id
// parameters.
func NewDefault() *Config {
	return &Config{
		Project: "tiwaz",
		Version: "1.0",
		Types: []TypeConfig{
			{Directive: "req", Title: "Requirement", Prefix: "R_", Color: "#BFD8D2", Style: "node"},
			{Directive: "spec", Title: "Specification", Prefix: "S_", Color: "#FEDCD2", Style: "node"},
			{Directive: "impl", Title: "Implementation", Prefix: "I_", Color: "#DF744A", Style: "node"},
			{Directive: "test", Title: "Test Case", Prefix: "T_", Color: "#DCB239", Style: "node"},
		},
		IDLength:       DefaultIDLength,
		IDRegex:        DefaultIDRegex,
		MaxTitleLength: -1,

		Constraints:             map[string]ConstraintConfig{},
		ConstraintFailedOptions: map[string]FailurePolicy{},
	}
}
