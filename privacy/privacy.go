package privacy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/strata/orm"
)

// Policy decision sentinel errors.
//
// Rules return them, possibly wrapped, to tell how the evaluation
// proceeds. Use errors.Is to check for them:
//
//	if errors.Is(err, privacy.Deny) { ... }
var (
	// Allow terminates the evaluation and permits the mutation.
	Allow = errors.New("strata/privacy: allow rule")

	// Deny terminates the evaluation and rejects the mutation.
	Deny = errors.New("strata/privacy: deny rule")

	// Skip continues the evaluation with the next rule.
	Skip = errors.New("strata/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Op is the operation a flush applies to an object.
type Op uint8

// Mutation operations.
const (
	OpCreate Op = 1 << iota
	OpUpdate
	OpDelete

	OpAll = OpCreate | OpUpdate | OpDelete
)

// Is reports if o matches one of the operations of op.
func (o Op) Is(op Op) bool { return o&op != 0 }

// String returns the name of the operation.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Mutation is the pending change of one object.
type Mutation struct {
	Op     Op
	Object *orm.Object
}

// Type returns the mapper name of the object.
func (m Mutation) Type() string { return m.Object.Mapper().Name() }

// Field returns the current value of a column attribute. Attributes that
// are unknown or not loaded report false.
func (m Mutation) Field(key string) (any, bool) {
	v, err := m.Object.Get(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// String returns the operation and the object.
func (m Mutation) String() string {
	return fmt.Sprintf("%s %s", m.Op, m.Object)
}

// Mutations returns the changes a flush of s would apply, in the order
// created, updated, deleted.
func Mutations(s *orm.Session) []Mutation {
	var ms []Mutation
	for _, o := range s.New() {
		ms = append(ms, Mutation{Op: OpCreate, Object: o})
	}
	deleted := s.Deleted()
	for _, o := range s.Dirty() {
		if !slices.Contains(deleted, o) {
			ms = append(ms, Mutation{Op: OpUpdate, Object: o})
		}
	}
	for _, o := range deleted {
		ms = append(ms, Mutation{Op: OpDelete, Object: o})
	}
	return ms
}

// MutationRule decides whether a mutation is allowed.
type MutationRule interface {
	EvalMutation(context.Context, Mutation) error
}

// MutationRuleFunc type is an adapter which allows the use of ordinary
// functions as mutation rules.
type MutationRuleFunc func(context.Context, Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m Mutation) error {
	return f(ctx, m)
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() MutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() MutationRule {
	return fixedDecision{Deny}
}

// ContextRule creates a rule from a function of the context. Returning
// nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, _ Mutation) error {
		return eval(ctx)
	})
}

// OnOperation evaluates the given rule only on the given operations.
func OnOperation(rule MutationRule, op Op) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		if m.Op.Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// OnMapper evaluates the given rule only on objects of the named mappers.
func OnMapper(rule MutationRule, mappers ...string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		if slices.Contains(mappers, m.Type()) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// DenyOperationRule returns a rule denying the given operations.
func DenyOperationRule(op Op) MutationRule {
	rule := MutationRuleFunc(func(_ context.Context, m Mutation) error {
		return Denyf("strata/privacy: operation %s is not allowed", m.Op)
	})
	return OnOperation(rule, op)
}

// AllowOperationRule returns a rule allowing the given operations.
func AllowOperationRule(op Op) MutationRule {
	rule := MutationRuleFunc(func(context.Context, Mutation) error {
		return Allow
	})
	return OnOperation(rule, op)
}

// Policy combines rules. It is itself a rule: its decision is the first
// decision other than Skip, or Skip.
type Policy []MutationRule

// EvalMutation evaluates the rules of the policy in order.
func (p Policy) EvalMutation(ctx context.Context, m Mutation) error {
	for _, rule := range p {
		switch decision := rule.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return Skip
}

// Eval evaluates a rule against a mutation. It returns nil when the
// mutation is allowed, by an Allow decision or because every rule
// skipped, and the decision error otherwise. A decision attached to the
// context takes precedence.
func Eval(ctx context.Context, rule MutationRule, m Mutation) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	switch decision := rule.EvalMutation(ctx, m); {
	case decision == nil || errors.Is(decision, Skip) || errors.Is(decision, Allow):
		return nil
	default:
		return decision
	}
}

// FlushHook returns a session hook evaluating rule against every mutation
// of the flush. The first rejected mutation fails the flush before any
// statement is executed.
func FlushHook(rule MutationRule) orm.FlushHook {
	return func(ctx context.Context, s *orm.Session) error {
		for _, m := range Mutations(s) {
			if err := Eval(ctx, rule, m); err != nil {
				return fmt.Errorf("strata/privacy: %s: %w", m, err)
			}
		}
		return nil
	}
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attached to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context. An
// Allow decision is returned as nil.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalMutation(context.Context, Mutation) error {
	return f.decision
}
