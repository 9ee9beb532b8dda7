package audit

import (
	"net/http"
	"strings"
)

// APIPrefix is the path prefix of the audited API.
const APIPrefix = "/api/v1"

// pathInfo is what the middleware learns from a request path.
type pathInfo struct {
	ProjectID    string
	ResourceType string
	ResourceIDs  []string
	Action       string
}

// projectResources are the collections nested under /projects/{projectID}.
var projectResources = map[string]bool{
	"modules":         true,
	"app-versions":    true,
	"tags":            true,
	"prds":            true,
	"testcases":       true,
	"search":          true,
	"impact-analysis": true,
	"index":           true,
	"statistics":      true,
}

// parsePath extracts project, resource and action from an API path such as
// /api/v1/projects/{pid}/prds/{id}/publish.
func parsePath(method, path string) pathInfo {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, APIPrefix), "/"), "/")
	var info pathInfo
	if len(parts) == 0 || parts[0] == "" {
		info.Action = methodVerb(method)
		return info
	}

	info.ResourceType = parts[0]
	rest := parts[1:]
	if parts[0] == "projects" && len(rest) > 0 {
		info.ProjectID = rest[0]
		rest = rest[1:]
		switch {
		case len(rest) == 0:
			info.ResourceIDs = []string{info.ProjectID}
		case rest[0] == "index:rebuild":
			info.ResourceType = "index"
			info.Action = "rebuild"
			return info
		case rest[0] == "index" && len(rest) > 1 && rest[1] == "jobs":
			info.ResourceType = "jobs"
			rest = rest[2:]
		case projectResources[rest[0]]:
			info.ResourceType = rest[0]
			rest = rest[1:]
		}
	}

	for i, seg := range rest {
		if i == 0 && !isActionSegment(seg) {
			if c := strings.Index(seg, ":"); c > 0 {
				info.ResourceIDs = append(info.ResourceIDs, seg[:c])
				info.Action = seg[c+1:]
				continue
			}
			info.ResourceIDs = append(info.ResourceIDs, seg)
			continue
		}
		if info.Action == "" {
			info.Action = actionVerb(method, seg)
		} else {
			info.ResourceIDs = append(info.ResourceIDs, seg)
		}
	}
	if info.Action == "" {
		info.Action = methodVerb(method)
	}
	return info
}

// isActionSegment reports whether a path segment directly after a
// collection names an action rather than an id.
func isActionSegment(seg string) bool {
	switch seg {
	case "batch-delete", "reorder", "tree":
		return true
	}
	return false
}

// actionVerb names the action for a trailing sub-resource segment.
func actionVerb(method, seg string) string {
	switch seg {
	case "publish", "archive", "reorder", "batch-delete":
		return seg
	case "tags":
		if method == http.MethodDelete {
			return "detach-tag"
		}
		return "attach-tag"
	case "steps":
		return "delete-step"
	}
	if i := strings.Index(seg, ":"); i > 0 {
		return seg[i+1:]
	}
	return methodVerb(method)
}

func methodVerb(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut:
		return "update"
	case http.MethodPatch:
		return "patch"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// isAudited reports whether the request changes state. Search and impact
// analysis are POSTs that only read.
func isAudited(method, path string) bool {
	if isHealthEndpoint(path) || !strings.HasPrefix(path, APIPrefix+"/") {
		return false
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return false
	}
	return !strings.HasSuffix(path, "/search") && !strings.HasSuffix(path, "/impact-analysis")
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz", "/metrics":
		return true
	}
	return false
}
