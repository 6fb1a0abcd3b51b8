package formsrv

import (
	"context"
	"strings"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/form"
	"github.com/Abraxas-365/passport/pkg/kernel"
)

// DefaultMaxDepth bounds resolution so malformed or cyclic graphs terminate.
const DefaultMaxDepth = 10

// ResultKind discriminates what a resolution produced.
type ResultKind int

const (
	// ResultStep halts at a STEP node to display.
	ResultStep ResultKind = iota
	// ResultRedirect halts to send the user to an external destination.
	ResultRedirect
	// ResultEnd reached $ending.
	ResultEnd
)

// Result is the outcome of one resolution pass. A nil *Result (with nil
// error) means "no further step": the caller falls through to completion.
type Result struct {
	Kind       ResultKind
	StepNodeID string
	Redirect   *form.RedirectConfig

	// ResumeNodeID is where resolution continues after a redirect halt, so
	// resuming does not re-trigger the redirect.
	ResumeNodeID string

	// Updates are the user-attribute changes accumulated along the way.
	// They are pending: the caller applies them, never the resolver.
	Updates PendingUpdates
}

// Resolver interprets a form node graph.
type Resolver struct {
	flows    form.FlowRepository
	maxDepth int
}

// NewResolver creates a resolver fetching referenced flows from flows.
func NewResolver(flows form.FlowRepository) *Resolver {
	return &Resolver{flows: flows, maxDepth: DefaultMaxDepth}
}

// Resolve walks the graph from startID until it halts, ends, or exhausts
// the depth bound.
func (r *Resolver) Resolve(ctx context.Context, tenantID kernel.TenantID, nodes map[string]*form.Node, startID string, rctx *Context) (*Result, error) {
	updates := PendingUpdates{}
	currentID := startID

	for i := 0; i < r.maxDepth; i++ {
		if currentID == form.EndingNodeID {
			return &Result{Kind: ResultEnd, Updates: updates}, nil
		}
		if currentID == "" {
			return &Result{Kind: ResultEnd, Updates: updates}, nil
		}

		node, ok := nodes[currentID]
		if !ok {
			return nil, idp.ErrNodeNotFound().WithDetail("node_id", currentID)
		}

		switch node.Type {
		case form.NodeStep:
			return &Result{Kind: ResultStep, StepNodeID: node.ID, Updates: updates}, nil

		case form.NodeAction:
			if node.ActionType == form.ActionTypeRedirect && node.Redirect != nil {
				return &Result{
					Kind:         ResultRedirect,
					Redirect:     node.Redirect,
					ResumeNodeID: node.NextNodeID,
					Updates:      updates,
				}, nil
			}
			// Non-redirect actions advance.
			currentID = node.NextNodeID

		case form.NodeRouter:
			next := evalRouter(node, rctx)
			if next == "" {
				// No matching rule and no fallback: resolution fails.
				return nil, nil
			}
			currentID = next

		case form.NodeFlow:
			halt, err := r.runFlow(ctx, tenantID, node, rctx, updates)
			if err != nil {
				return nil, err
			}
			if halt != nil {
				halt.Updates = updates
				if halt.Kind == ResultRedirect && halt.ResumeNodeID == "" {
					halt.ResumeNodeID = node.NextNodeID
				}
				return halt, nil
			}
			if node.NextNodeID == "" {
				return &Result{Kind: ResultEnd, Updates: updates}, nil
			}
			currentID = node.NextNodeID

		default:
			return nil, idp.ErrNodeNotFound().
				WithDetail("node_id", currentID).
				WithDetail("node_type", string(node.Type))
		}
	}

	// Depth exhausted: treat as "no further step" rather than erroring, so a
	// cyclic graph degrades to completion instead of a stuck login.
	return nil, nil
}

// runFlow executes a flow's action list in order. A REDIRECT_USER action
// short-circuits; UPDATE_USER actions only accumulate pending updates.
func (r *Resolver) runFlow(ctx context.Context, tenantID kernel.TenantID, node *form.Node, rctx *Context, updates PendingUpdates) (*Result, error) {
	fl, err := r.flows.Get(ctx, tenantID, node.FlowID)
	if err != nil {
		return nil, errx.Wrap(err, "failed to fetch flow", errx.TypeInternal).
			WithDetail("flow_id", node.FlowID)
	}

	for _, action := range fl.Actions {
		switch action.Type {
		case form.FlowActionRedirectUser:
			if action.Redirect != nil {
				return &Result{Kind: ResultRedirect, Redirect: action.Redirect}, nil
			}

		case form.FlowActionUpdateUser:
			userID := rctx.Resolve(action.UserID)
			if userID == "" {
				continue
			}
			changes := make(map[string]interface{}, len(action.Changes))
			for key, value := range action.Changes {
				changes[key] = rctx.Resolve(value)
			}
			updates.Add(userID, changes)
		}
	}
	return nil, nil
}

// evalRouter evaluates a router's rules in array order; first match wins,
// then the fallback.
func evalRouter(node *form.Node, rctx *Context) string {
	for _, rule := range node.Rules {
		if evalCondition(rule.Condition, rctx) {
			return rule.NextNodeID
		}
	}
	return node.FallbackNodeID
}

// evalCondition evaluates one predicate. The legacy uppercase ENDS_WITH form
// with a nested operand pair is kept for compatibility: it matches
// case-insensitively, unlike the documented lowercase operator. Behavior
// beyond these forms is undefined and evaluates to false.
func evalCondition(c form.Condition, rctx *Context) bool {
	if c.Operator == "ENDS_WITH" && len(c.Operands) == 2 {
		field := rctx.Resolve(c.Operands[0].Field)
		value := c.Operands[1].Value
		return strings.HasSuffix(strings.ToLower(field), strings.ToLower(value))
	}

	if strings.EqualFold(c.Operator, "and") || (c.Operator == "" && len(c.Operands) > 0) {
		if len(c.Operands) == 0 {
			return false
		}
		for _, operand := range c.Operands {
			if !evalCondition(operand, rctx) {
				return false
			}
		}
		return true
	}

	resolved, exists := rctx.Lookup(c.Field)

	switch c.Operator {
	case "equals":
		return resolved == c.Value
	case "not_equals":
		return resolved != c.Value
	case "exists":
		return exists
	case "not_exists":
		return !exists
	case "starts_with":
		return strings.HasPrefix(resolved, c.Value)
	case "ends_with":
		return strings.HasSuffix(resolved, c.Value)
	case "contains":
		return strings.Contains(resolved, c.Value)
	case "not_contains":
		return !strings.Contains(resolved, c.Value)
	default:
		return false
	}
}
