// Package constraint evaluates the named rule sets a need declares and
// applies the configured reaction to failed checks.
package constraint

import (
	"fmt"
	"strings"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/registry"
	"github.com/starford/tiwaz/internal/store"
)

// Checker runs constraints.
type Checker struct {
	Constraints map[string]registry.ConstraintConfig
	Policies    map[string]registry.FailurePolicy
	Filter      *filter.Filter
	Reporter    *diag.Reporter
}

// New builds a Checker from cfg.
func New(cfg *registry.Config, f *filter.Filter, rep *diag.Reporter) *Checker {
	return &Checker{Constraints: cfg.Constraints, Policies: cfg.ConstraintFailedOptions, Filter: f, Reporter: rep}
}

// CheckAll checks every need and returns the first build-aborting error.
func (c *Checker) CheckAll(s *store.Store) error {
	for _, n := range s.Values() {
		if err := c.Check(n); err != nil {
			return err
		}
	}
	return nil
}

// Check evaluates the constraints of n, records per-check results and sets
// ConstraintsPassed. It stays nil when n declares no constraints.
func (c *Checker) Check(n *need.Need) error {
	if len(n.Constraints) == 0 {
		return nil
	}
	passed := true
	for _, name := range n.Constraints {
		rules, ok := c.Constraints[name]
		if !ok {
			return apperr.Newf(apperr.ErrConstraintNotAllowed, n.ID, "constraint %s of need id %s is not declared", name, n.ID).At(n.DocName, n.LineNo)
		}
		if rules.Severity == "" {
			return apperr.Newf(apperr.ErrConstraintFailed, n.ID, "'severity' key not set for constraint %s", name)
		}
		results := n.ConstraintsResults[name]
		if results == nil {
			results = map[string]bool{}
			n.ConstraintsResults[name] = results
		}
		for _, check := range rules.CheckNames() {
			expr := rules.Checks[check]
			ok, err := c.Filter.Single(n, expr)
			if err != nil {
				c.Reporter.Warn(diag.Warning{
					Kind: diag.KindConstraint, NeedID: n.ID, DocName: n.DocName, Line: n.LineNo,
					Message: fmt.Sprintf("constraint %s check %s could not be evaluated: %v", name, check, err),
				})
			}
			results[check] = ok && err == nil
			if results[check] {
				continue
			}
			passed = false
			if err := c.fail(n, expr, rules.Severity); err != nil {
				pf := false
				n.ConstraintsPassed = &pf
				return err
			}
		}
	}
	n.ConstraintsPassed = &passed
	return nil
}

func (c *Checker) fail(n *need.Need, expr, severity string) error {
	policy, ok := c.Policies[severity]
	if !ok {
		return apperr.Newf(apperr.ErrConstraintFailed, n.ID, "constraint_failed_options has no entry for severity %s", severity)
	}
	if policy.Has(registry.OnFailWarn) {
		c.Reporter.Warn(diag.Warning{
			Kind: diag.KindConstraint, NeedID: n.ID, DocName: n.DocName, Line: n.LineNo,
			Message: fmt.Sprintf("Constraint %s for need %s FAILED! severity: %s", expr, n.ID, severity),
		})
	}
	if policy.Has(registry.OnFailBreak) {
		return apperr.Newf(apperr.ErrConstraintFailed, n.ID, "FAILED a breaking constraint: >> %s << for need %s FAILED! severity: %s", expr, n.ID, severity).At(n.DocName, n.LineNo)
	}
	if len(policy.Style) == 0 {
		return nil
	}
	styles := strings.Join(policy.Style, ", ")
	switch {
	case policy.ForceStyle || n.Style == "":
		n.Style = styles
	default:
		n.Style = n.Style + ", " + styles
	}
	return nil
}
