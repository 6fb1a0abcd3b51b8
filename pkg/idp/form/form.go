package form

// EndingNodeID is the sentinel id denoting graph termination.
const EndingNodeID = "$ending"

// NodeType discriminates the node kinds of a form graph.
type NodeType string

const (
	NodeStep   NodeType = "STEP"
	NodeRouter NodeType = "ROUTER"
	NodeAction NodeType = "ACTION"
	NodeFlow   NodeType = "FLOW"
)

// ActionTypeRedirect halts resolution and sends the user elsewhere; all
// other action types advance to the next node.
const ActionTypeRedirect = "REDIRECT"

// Flow action types.
const (
	FlowActionRedirectUser = "REDIRECT_USER"
	FlowActionUpdateUser   = "UPDATE_USER"
)

// Redirect destinations.
const (
	RedirectChangeEmail = "change-email"
	RedirectAccount     = "account"
	RedirectCustom      = "custom"
)

// Form is a node graph rendered to the user after login.
type Form struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	StartNodeID string           `json:"start_node_id"`
	Nodes       map[string]*Node `json:"nodes"`
}

// Node is one vertex of the graph. The populated fields depend on Type.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`

	// NextNodeID advances non-halting ACTION nodes and FLOW nodes.
	NextNodeID string `json:"next_node,omitempty"`

	// ACTION
	ActionType string          `json:"action_type,omitempty"`
	Redirect   *RedirectConfig `json:"redirect,omitempty"`

	// ROUTER
	Rules          []RouterRule `json:"rules,omitempty"`
	FallbackNodeID string       `json:"fallback,omitempty"`

	// FLOW
	FlowID string `json:"flow_id,omitempty"`
}

// RedirectConfig names where a REDIRECT action or REDIRECT_USER flow action
// sends the user.
type RedirectConfig struct {
	Target    string `json:"target"`
	CustomURL string `json:"custom_url,omitempty"`
}

// RouterRule is one ordered branch of a ROUTER node. First match wins.
type RouterRule struct {
	ID         string    `json:"id,omitempty"`
	Condition  Condition `json:"condition"`
	NextNodeID string    `json:"next_node"`
}

// Condition is a predicate over template-resolved fields. It is either a
// single predicate (Operator+Field+Value), an "and" combination (Operands),
// or the legacy nested-operand ENDS_WITH form kept for compatibility.
type Condition struct {
	Operator string      `json:"operator,omitempty"`
	Field    string      `json:"field,omitempty"`
	Value    string      `json:"value,omitempty"`
	Operands []Condition `json:"operands,omitempty"`
}

// Flow is a reusable action sequence referenced by FLOW nodes.
type Flow struct {
	ID      string       `json:"id"`
	Name    string       `json:"name,omitempty"`
	Actions []FlowAction `json:"actions"`
}

// FlowAction is one side-effecting step of a flow.
type FlowAction struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`

	// REDIRECT_USER
	Redirect *RedirectConfig `json:"redirect,omitempty"`

	// UPDATE_USER: UserID and change values are template expressions
	// resolved against the pipeline context.
	UserID  string            `json:"user_id,omitempty"`
	Changes map[string]string `json:"changes,omitempty"`
}

// Hook is a post-login extension point configured on a tenant.
type Hook struct {
	ID        string `json:"id"`
	TriggerID string `json:"trigger_id"`
	Enabled   bool   `json:"enabled"`
	FormID    string `json:"form_id,omitempty"`
}

// TriggerPostUserLogin is the hook trigger the pipeline evaluates after a
// credential is verified.
const TriggerPostUserLogin = "post-user-login"
