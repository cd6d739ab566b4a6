// Package privacy evaluates authorization rules against the changes of a
// session before they are flushed.
//
// A Policy is a list of rules. Each rule returns Allow, Deny or Skip for
// a Mutation, the insert, update or delete of one object. Rules are
// evaluated in order until one returns a decision other than Skip; a
// policy whose rules all skip allows the mutation.
//
//	policy := privacy.Policy{
//		privacy.DenyIfNoViewer(),
//		privacy.HasRole("admin"),
//		privacy.OnMapper(privacy.TenantRule("tenant_id"), "Project"),
//		privacy.DenyOperationRule(privacy.OpDelete),
//	}
//	s := engine.NewSession()
//	s.BeforeFlush(privacy.FlushHook(policy))
//
// The hook runs before the flush plan is built: it sees the objects added
// to the session (including those reached by save-update cascades), the
// modified persistent objects and the objects passed to Delete. Children
// deleted by a delete cascade are not evaluated.
//
// A decision attached to the context with DecisionContext overrides every
// rule, e.g. for system tasks:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
package privacy
