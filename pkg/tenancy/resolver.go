package tenancy

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/project"
)

// ProjectLookup is the slice of the project store the resolver needs.
type ProjectLookup interface {
	GetProject(ctx context.Context, id string) (*project.Project, error)
}

// ResolvePrincipal reads the caller identity from the request headers.
// Missing headers yield DefaultActor with an empty role.
func ResolvePrincipal(r *http.Request) (Scope, error) {
	actor := strings.TrimSpace(r.Header.Get(PrincipalHeader))
	role := strings.TrimSpace(r.Header.Get(RoleHeader))
	if len(actor) > maxPrincipalLen {
		return Scope{}, errs.InvalidArgument("%s exceeds maximum length of %d characters", PrincipalHeader, maxPrincipalLen)
	}
	if actor == "" {
		actor = DefaultActor
	}
	return Scope{Actor: actor, Role: role}, nil
}

// ProjectResolver resolves the {projectID} route parameter against the
// project store.
type ProjectResolver struct {
	Projects ProjectLookup
}

// Resolve returns the project id when the project exists. Unknown projects
// are NotFound.
func (p ProjectResolver) Resolve(r *http.Request) (string, error) {
	id := chi.URLParam(r, ProjectParam)
	if id == "" {
		return "", errs.InvalidArgument("missing %s route parameter", ProjectParam)
	}
	proj, err := p.Projects.GetProject(r.Context(), id)
	if err != nil {
		return "", errs.Internal("resolve project", fmt.Errorf("get project %s: %w", id, err))
	}
	if proj == nil {
		return "", errs.NotFound("project", id)
	}
	return proj.ID, nil
}
