// Package tenancy scopes API requests to a project and to the calling
// principal. Project ids come from the {projectID} route parameter; the
// principal comes from the X-User-Principal and X-User-Role headers set by
// the fronting proxy.
package tenancy

const (
	// PrincipalHeader carries the caller's identity.
	PrincipalHeader = "X-User-Principal"
	// RoleHeader carries the caller's role.
	RoleHeader = "X-User-Role"
	// ProjectParam is the chi route parameter holding the project id.
	ProjectParam = "projectID"
	// DefaultActor is recorded when no principal header is present.
	DefaultActor = "system"
)

// maxPrincipalLen bounds header-supplied identities before they reach the
// audit trail and job records.
const maxPrincipalLen = 255
