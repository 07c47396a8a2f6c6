package auth

import (
	"net/http"
	"strings"
)

// Policy determines the allowed roles per request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// AllowedRoles resolves the role set allowed to perform the request. An
// empty set with ok=true means any authenticated market party.
func (p Policy) AllowedRoles(r *http.Request) ([]Role, bool) {
	if r == nil {
		return nil, false
	}
	path := r.URL.Path
	method := r.Method

	switch {
	case path == "/v1/formulas":
		if method == http.MethodPost {
			return []Role{RoleMSB, RoleHubOperator}, true
		}
		return nil, true
	case strings.HasSuffix(path, "/decision") && strings.HasPrefix(path, "/v1/formulas/"):
		return []Role{RoleNB, RoleUNB}, true
	case strings.HasPrefix(path, "/v1/formulas/"):
		switch method {
		case http.MethodPut, http.MethodDelete:
			return []Role{RoleHubOperator}, true
		}
		return nil, true
	case strings.HasPrefix(path, "/v1/submissions"):
		return nil, true
	case path == "/v1/time-series":
		if method == http.MethodPost {
			return []Role{RoleMSB, RoleNB, RoleUNB, RoleHubOperator}, true
		}
		return nil, true
	case strings.HasPrefix(path, "/v1/time-series/"):
		return nil, true
	case strings.HasPrefix(path, "/v1/calculations"):
		return nil, true
	case strings.HasPrefix(path, "/v1/exports/"):
		return []Role{RoleHubOperator}, true
	}

	if strings.HasPrefix(path, "/v1/") {
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return nil, true
		}
		return []Role{RoleHubOperator}, true
	}
	return nil, false
}
