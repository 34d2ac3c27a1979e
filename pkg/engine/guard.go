package engine

import "fmt"

// Action is the IdempotencyGuard's decision for a non-repeatable apply.
type Action string

const (
	// ActionCreate means the resource is absent and should be created.
	ActionCreate Action = "create"

	// ActionSkip means the backend resource exists and this tool holds its
	// credential record: already provisioned, nothing to do.
	ActionSkip Action = "skip"

	// ActionConflict means the backend resource exists but no credential
	// record does. Never silently adopted; requires manual remediation.
	ActionConflict Action = "conflict"
)

// Guard decides whether a non-repeatable apply should run. It is consulted
// before every step whose apply cannot safely be repeated (database or user
// creation); naturally idempotent steps bypass it and simply re-apply.
type Guard struct {
	// RemediationFor renders the literal operator remediation for a
	// conflicting resource key. Required; the conflict error must tell the
	// operator exactly what to run rather than guessing.
	RemediationFor func(key string) string
}

// Resolve maps observed backend and record state to an action. The stale
// record case (record without backend resource) resolves to create; the
// caller must overwrite the stale record only after the new resource was
// successfully created.
func (g *Guard) Resolve(key string, existsInBackend, hasRecord bool) (Action, error) {
	switch {
	case !existsInBackend && !hasRecord:
		return ActionCreate, nil
	case existsInBackend && hasRecord:
		return ActionSkip, nil
	case existsInBackend && !hasRecord:
		remediation := ""
		if g.RemediationFor != nil {
			remediation = g.RemediationFor(key)
		}
		return ActionConflict, NewUnrecoverableStateError(
			fmt.Sprintf("resource %q exists in the backend but has no credential record; refusing to adopt it", key),
			remediation,
		).WithResource(key)
	default:
		// Stale record: the backend resource is gone but the record remains.
		return ActionCreate, nil
	}
}
