package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxDiscoveryResponseSize caps discovery and JWKS response bodies (1 MB)
// to prevent resource exhaustion from a misbehaving provider.
const maxDiscoveryResponseSize = 1 << 20

// discoveryDocument represents the relevant fields from an OIDC provider's
// .well-known/openid-configuration document.
type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

// fetchDiscovery fetches the OIDC discovery document from the provider's
// .well-known/openid-configuration endpoint and returns the parsed
// response. The response body is limited to 1 MB.
func fetchDiscovery(ctx context.Context, issuerURL string, client HTTPClient) (*discoveryDocument, error) {
	discoveryURL := strings.TrimRight(issuerURL, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to create discovery request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidc: discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oidc: discovery endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryResponseSize))
	if err != nil {
		return nil, fmt.Errorf("oidc: failed to read discovery response: %w", err)
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("oidc: failed to parse discovery JSON: %w", err)
	}

	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("oidc: discovery document missing jwks_uri")
	}

	return &doc, nil
}
