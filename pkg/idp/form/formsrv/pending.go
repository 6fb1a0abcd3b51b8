package formsrv

import "strings"

// PendingUpdates accumulates user-attribute changes produced during a
// resolution. Updates targeting the same user merge into one map, later
// values winning per key, so a batch never overwrites earlier changes with a
// stale pre-update snapshot.
type PendingUpdates map[string]map[string]interface{}

// Add merges a change set for one user, rewriting key prefixes:
// "user_metadata.<k>" and legacy "metadata.<k>" nest under user_metadata,
// "address.<k>" nests under address, anything else is a top-level field.
func (p PendingUpdates) Add(userID string, changes map[string]interface{}) {
	if len(changes) == 0 {
		return
	}
	target := p[userID]
	if target == nil {
		target = make(map[string]interface{})
		p[userID] = target
	}

	for key, value := range changes {
		switch {
		case strings.HasPrefix(key, "user_metadata."):
			nest(target, "user_metadata", strings.TrimPrefix(key, "user_metadata."), value)
		case strings.HasPrefix(key, "metadata."):
			nest(target, "user_metadata", strings.TrimPrefix(key, "metadata."), value)
		case strings.HasPrefix(key, "address."):
			nest(target, "address", strings.TrimPrefix(key, "address."), value)
		default:
			target[key] = value
		}
	}
}

// Merge folds another batch into this one under the same later-wins rule.
func (p PendingUpdates) Merge(other PendingUpdates) {
	for userID, changes := range other {
		flat := make(map[string]interface{}, len(changes))
		for k, v := range changes {
			if nested, ok := v.(map[string]interface{}); ok && (k == "user_metadata" || k == "address") {
				for nk, nv := range nested {
					flat[k+"."+nk] = nv
				}
				continue
			}
			flat[k] = v
		}
		p.Add(userID, flat)
	}
}

func nest(target map[string]interface{}, group, key string, value interface{}) {
	nested, ok := target[group].(map[string]interface{})
	if !ok {
		nested = make(map[string]interface{})
		target[group] = nested
	}
	nested[key] = value
}
