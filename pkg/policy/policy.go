// Package policy evaluates operator-defined gate clauses written in CEL.
// Clauses extend the built-in risk gate: a deployment declares boolean
// expressions over an intent and its assessment, and every clause must hold
// for the gate to allow. Evaluation is fail-closed and deterministic; the
// decision time is an explicit input, never the wall clock.
package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/tillerlabs/tiller/pkg/risk"
)

// Clause is one operator-defined gate constraint.
type Clause struct {
	ID   string `json:"id"`
	Expr string `json:"expr"`
}

// Input carries the values clauses may reference.
type Input struct {
	Intent     string
	Context    map[string]any
	Assessment risk.Assessment
	Now        time.Time
}

// Reason codes carried on a Verdict.
const (
	ReasonOK           = "policy_ok"
	ReasonClauseDenied = "clause_denied"
	ReasonClauseError  = "clause_error"
)

// Verdict is the outcome of evaluating a clause set. When Allowed is false,
// ClauseID names the clause that decided.
type Verdict struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason"`
	ClauseID string `json:"clause_id,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Evaluator compiles clauses against a fixed environment and caches the
// compiled programs per expression.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator builds the clause environment. Clauses see:
//
//	intent   string          the proposed intent name
//	context  map             the caller-supplied intent context
//	risk     map             score, level, reason, budget_cents
//	now      int             decision time, unix seconds
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("intent", cel.StringType),
		cel.Variable("context", cel.DynType),
		cel.Variable("risk", cel.DynType),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: environment: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

// Check compiles expr without evaluating it. Profile loaders call it so a
// broken clause fails at startup, not at gate time.
func (e *Evaluator) Check(expr string) error {
	_, err := e.program(expr)
	return err
}

// Evaluate runs every clause against in. All clauses must hold; the first
// clause that denies or errors decides the verdict, and errors deny.
func (e *Evaluator) Evaluate(clauses []Clause, in Input) Verdict {
	for _, c := range clauses {
		ok, err := e.evaluateExpr(c.Expr, in)
		if err != nil {
			return Verdict{Reason: ReasonClauseError, ClauseID: c.ID, Detail: err.Error()}
		}
		if !ok {
			return Verdict{Reason: ReasonClauseDenied, ClauseID: c.ID}
		}
	}
	return Verdict{Allowed: true, Reason: ReasonOK}
}

func (e *Evaluator) evaluateExpr(expr string, in Input) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	ctx := in.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	activation := map[string]any{
		"intent":  in.Intent,
		"context": ctx,
		"risk": map[string]any{
			"score":        in.Assessment.Score,
			"level":        string(in.Assessment.Level),
			"reason":       in.Assessment.Reason,
			"budget_cents": in.Assessment.BudgetCents,
		},
		"now": in.Now.Unix(),
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("policy: eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: clause result is %T, want bool", out.Value())
	}
	return val, nil
}

// program returns the compiled program for expr, compiling at most once per
// expression. Double-checked so concurrent gates share the cache.
func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expr]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: program: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}
