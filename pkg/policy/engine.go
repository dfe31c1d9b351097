package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/insta/pkg/target"
)

// Engine evaluates Rego policies before documents are written. It satisfies
// engine.Authorizer.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine holding the builtin policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, p := range GetBuiltinPolicies() {
		if err := e.AddPolicy(context.Background(), p); err != nil {
			return nil, fmt.Errorf("failed to load built-in policy %s: %w", p.Name, err)
		}
	}

	return e, nil
}

// AddPolicy compiles p and adds it, replacing any policy with the same name.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	cp, err := compile(ctx, p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.policies[p.Name] = cp
	e.mu.Unlock()

	e.logger.Debug().Str("policy", p.Name).Msg("Policy compiled successfully")
	return nil
}

// LoadDir loads every .rego and .json policy under dir and returns how many
// were added.
func (e *Engine) LoadDir(ctx context.Context, dir string) (int, error) {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, []string{dir})
	if err != nil {
		return 0, err
	}
	if err := e.Replace(ctx, policies); err != nil {
		return 0, err
	}
	return len(policies), nil
}

// Replace swaps every non-builtin policy for policies. Nothing changes if any
// of them fails to compile.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for _, p := range policies {
		cp, err := compile(ctx, p)
		if err != nil {
			return err
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().Int("count", len(compiled)).Msg("Policies replaced")
	return nil
}

// Authorize evaluates every enabled policy against in.
func (e *Engine) Authorize(ctx context.Context, in Input) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}

	for _, name := range e.names() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		violations, err := evaluate(ctx, cp, in)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		result.Evaluated++

		for _, v := range violations {
			if v.Severity.Blocks() {
				result.Allowed = false
			}
			result.Violations = append(result.Violations, v)
		}
	}

	e.logger.Debug().
		Str("target", in.Target).
		Str("operation", in.Operation).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Msg("Policies evaluated")

	return result, nil
}

// AuthorizeWrite returns a *DeniedError when a blocking policy forbids
// writing t. Warnings are logged and allowed.
func (e *Engine) AuthorizeWrite(ctx context.Context, t target.Target) error {
	result, err := e.Authorize(ctx, InputFor(OperationWrite, t))
	if err != nil {
		return err
	}

	for _, v := range result.Violations {
		if !v.Severity.Blocks() {
			e.logger.Warn().Str("policy", v.Policy).Str("target", t.String()).Msg(v.Message)
		}
	}

	if !result.Allowed {
		return &DeniedError{Target: t.String(), Violations: result.Blocking()}
	}
	return nil
}

// GetPolicy retrieves a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.names() {
		policies = append(policies, e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled

	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// names returns policy names in evaluation order. Callers hold e.mu.
func (e *Engine) names() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy %s: %w", p.Name, err)
	}

	return &compiledPolicy{policy: p, query: query, compiled: time.Now()}, nil
}

func evaluate(ctx context.Context, cp *compiledPolicy, in Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	return violations, nil
}

func createViolation(p Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if path, ok := v["path"].(string); ok {
			violation.Path = path
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}
