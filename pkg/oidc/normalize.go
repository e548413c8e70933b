package oidc

import (
	"sort"
	"strings"
)

// Normalized is the provider-independent identity shape extracted from a
// verified claim set.
type Normalized struct {
	Subject string
	Email   string
	Name    string
	Scopes  []string
	Roles   []string
}

// Normalizer flattens provider-specific claim layouts into a Normalized
// identity. ClientID is used to look up client-scoped role claims
// (Keycloak's resource_access layout).
type Normalizer struct {
	ClientID string
}

// Normalize extracts the canonical identity fields from a raw claim map.
// It is total: missing or malformed claims yield empty fields, never an
// error. Scopes and roles are collected from every known layout, deduped
// and sorted.
func (n *Normalizer) Normalize(claims map[string]any) Normalized {
	out := Normalized{}
	if claims == nil {
		return out
	}

	out.Subject, _ = claims["sub"].(string)
	out.Email, _ = claims["email"].(string)
	out.Name, _ = claims["name"].(string)

	// Fall back to the email local-part when no display name is present.
	if out.Name == "" && out.Email != "" {
		if at := strings.Index(out.Email, "@"); at > 0 {
			out.Name = out.Email[:at]
		}
	}

	out.Scopes = collectScopes(claims)
	out.Roles = n.collectRoles(claims)
	return out
}

// collectScopes unions the scope layouts providers emit: a space-joined
// "scope" string, an "scp" claim (string or array), or a "scopes" array.
func collectScopes(claims map[string]any) []string {
	seen := make(map[string]struct{})

	if s, ok := claims["scope"].(string); ok {
		for _, scope := range strings.Fields(s) {
			seen[scope] = struct{}{}
		}
	}

	switch scp := claims["scp"].(type) {
	case string:
		for _, scope := range strings.Fields(scp) {
			seen[scope] = struct{}{}
		}
	case []any:
		addStrings(seen, scp)
	}

	if arr, ok := claims["scopes"].([]any); ok {
		addStrings(seen, arr)
	}

	return sortedKeys(seen)
}

// collectRoles unions role claims across the layouts of common providers:
// flat "roles"/"groups"/"authorities" arrays, Auth0's app_metadata.roles,
// and Keycloak's realm_access.roles plus resource_access.<client>.roles.
func (n *Normalizer) collectRoles(claims map[string]any) []string {
	seen := make(map[string]struct{})

	for _, key := range []string{"roles", "groups", "authorities"} {
		if arr, ok := claims[key].([]any); ok {
			addStrings(seen, arr)
		}
	}

	if meta, ok := claims["app_metadata"].(map[string]any); ok {
		if arr, ok := meta["roles"].([]any); ok {
			addStrings(seen, arr)
		}
	}

	if realm, ok := claims["realm_access"].(map[string]any); ok {
		if arr, ok := realm["roles"].([]any); ok {
			addStrings(seen, arr)
		}
	}

	if n.ClientID != "" {
		if resources, ok := claims["resource_access"].(map[string]any); ok {
			if client, ok := resources[n.ClientID].(map[string]any); ok {
				if arr, ok := client["roles"].([]any); ok {
					addStrings(seen, arr)
				}
			}
		}
	}

	return sortedKeys(seen)
}

func addStrings(seen map[string]struct{}, items []any) {
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			seen[s] = struct{}{}
		}
	}
}

func sortedKeys(seen map[string]struct{}) []string {
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
