package formsrv

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Abraxas-365/passport/pkg/idp/user"
)

// The template language is deliberately tiny: three reference prefixes over
// dot-paths, nothing else. Anything we do not recognize stays a literal.
type refKind int

const (
	refLiteral refKind = iota
	refContextUser
	refUser
	refForm
)

type ref struct {
	kind refKind
	path string // dot-path for user refs, key for form refs, raw for literals
}

// parseRef classifies one expression into the closed reference set.
func parseRef(expr string) ref {
	trimmed := strings.TrimSpace(expr)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return ref{kind: refLiteral, path: expr}
	}
	inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])

	switch {
	case strings.HasPrefix(inner, "context.user."):
		return ref{kind: refContextUser, path: strings.TrimPrefix(inner, "context.user.")}
	case strings.HasPrefix(inner, "user."):
		return ref{kind: refUser, path: strings.TrimPrefix(inner, "user.")}
	case strings.HasPrefix(inner, "$form."):
		return ref{kind: refForm, path: strings.TrimPrefix(inner, "$form.")}
	default:
		// Unknown template forms are undefined behavior; leave them as-is.
		return ref{kind: refLiteral, path: expr}
	}
}

// Context is the typed data a form resolution runs against.
type Context struct {
	User     *user.User
	FormData map[string]string

	userDoc map[string]interface{}
}

// NewContext builds a resolution context. The user record is flattened once
// into a document so dot-paths reach nested metadata uniformly.
func NewContext(u *user.User, formData map[string]string) *Context {
	c := &Context{User: u, FormData: formData}
	if u != nil {
		if raw, err := json.Marshal(u); err == nil {
			_ = json.Unmarshal(raw, &c.userDoc)
		}
	}
	return c
}

// Resolve evaluates an expression to its string value. Missing references
// resolve to the empty string.
func (c *Context) Resolve(expr string) string {
	v, _ := c.Lookup(expr)
	return v
}

// Lookup evaluates an expression and reports whether the reference exists.
func (c *Context) Lookup(expr string) (string, bool) {
	r := parseRef(expr)
	switch r.kind {
	case refContextUser, refUser:
		return lookupPath(c.userDoc, r.path)
	case refForm:
		v, ok := c.FormData[r.path]
		return v, ok
	default:
		return r.path, true
	}
}

// lookupPath walks a dot-path through nested maps.
func lookupPath(doc map[string]interface{}, path string) (string, bool) {
	if doc == nil {
		return "", false
	}
	parts := strings.Split(path, ".")
	var current interface{} = doc
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = m[part]
		if !ok {
			return "", false
		}
	}
	if current == nil {
		return "", false
	}
	switch v := current.(type) {
	case string:
		return v, true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
