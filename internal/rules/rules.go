// Package rules evaluates operator-defined watch expressions against
// per-station fusion snapshots.
//
// Watch rules supplement the built-in fusion rules: operators declare named
// boolean expressions in configuration (for example
// `Score >= 0.5 && QueueCustomers >= 4`), and every rule that fires after a
// recomputation is recorded in the audit trail. Expressions are compiled
// once at startup; a rule that fails to compile rejects the configuration
// rather than being silently skipped.
package rules

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Rule is one named watch expression, as declared in configuration.
type Rule struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// Snapshot is the expression environment: a flattened view of one station's
// state right after a fusion pass.
type Snapshot struct {
	Station        string
	Score          float64
	Reasons        []string
	POSCount       int
	RFIDCount      int
	VisionCount    int
	QueueCustomers int
	QueueDwell     float64
}

type compiledRule struct {
	name    string
	program *vm.Program
}

// Set holds compiled watch rules.
type Set struct {
	rules []compiledRule
	log   *slog.Logger
}

// Compile builds a rule set from declarations. Every expression must
// compile to a boolean.
func Compile(decls []Rule) (*Set, error) {
	s := &Set{log: slog.Default()}
	for _, d := range decls {
		if d.Name == "" {
			return nil, fmt.Errorf("watch rule with empty name")
		}
		if d.Expr == "" {
			return nil, fmt.Errorf("watch rule %q: empty expression", d.Name)
		}
		program, err := expr.Compile(d.Expr, expr.Env(Snapshot{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("watch rule %q: %w", d.Name, err)
		}
		s.rules = append(s.rules, compiledRule{name: d.Name, program: program})
	}
	return s, nil
}

// Len returns the number of compiled rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Evaluate runs every rule against the snapshot and returns the names of
// the rules that fired, in declaration order. Runtime evaluation errors are
// logged and treated as "did not fire".
func (s *Set) Evaluate(snap Snapshot) []string {
	if s == nil || len(s.rules) == 0 {
		return nil
	}
	var fired []string
	for _, r := range s.rules {
		out, err := expr.Run(r.program, snap)
		if err != nil {
			s.log.Warn("rules: evaluation failed, skipping", "rule", r.name, "error", err)
			continue
		}
		if ok, _ := out.(bool); ok {
			fired = append(fired, r.name)
		}
	}
	return fired
}
