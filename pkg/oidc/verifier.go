package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// maxTokenSize is the maximum accepted size of a raw ID token (8 KB).
const maxTokenSize = 8192

// IDClaims holds the verified claims of an ID token. Raw carries the full
// claim map for downstream normalization.
type IDClaims struct {
	Subject   string
	Issuer    string
	Email     string
	Name      string
	Nonce     string
	Audiences []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Raw       map[string]any
}

// VerifyParams carries the per-provider expectations a token is checked
// against.
type VerifyParams struct {
	// Issuer is the exact expected iss value.
	Issuer string

	// Audiences is the acceptable aud set. The token passes if any of its
	// audiences matches any expected value.
	Audiences []string

	// AllowedAlgorithms is the signature algorithm allow-list.
	AllowedAlgorithms []string

	// ClockSkew is the tolerance for time-based claims. Zero means 60s.
	ClockSkew time.Duration

	// Nonce, when non-empty, must match the token's nonce claim exactly.
	Nonce string
}

// Verifier validates ID token signatures and claims against a provider's
// expectations. Each check failure maps to a distinct error code so
// callers can log precise failure reasons without inspecting messages.
type Verifier struct {
	keys *KeyCache
	now  func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides the verifier clock. Used in tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier backed by the given key cache.
func NewVerifier(keys *KeyCache, opts ...VerifierOption) *Verifier {
	v := &Verifier{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates the raw ID token and returns its claims. Checks run in
// a fixed order: size, header algorithm against the allow-list, key
// resolution, signature, issuer, audience, time-based claims with skew,
// and finally nonce. The first failing check aborts verification.
func (v *Verifier) Verify(ctx context.Context, rawToken string, params VerifyParams) (*IDClaims, error) {
	if rawToken == "" {
		return nil, acerr.New(acerr.CodeAuthenticationInvalid, "ID token is empty")
	}
	if len(rawToken) > maxTokenSize {
		return nil, acerr.New(acerr.CodeAuthenticationInvalid,
			fmt.Sprintf("ID token exceeds maximum size of %d bytes", maxTokenSize))
	}

	skew := params.ClockSkew
	if skew <= 0 {
		skew = 60 * time.Second
	}

	// Inspect the header without trusting the payload. The algorithm must
	// be on the allow-list before any key material is touched; "none" is
	// never accepted.
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return nil, acerr.Wrap(err, acerr.CodeAuthenticationInvalid, "ID token is malformed")
	}

	alg, _ := unverified.Header["alg"].(string)
	if !algorithmAllowed(alg, params.AllowedAlgorithms) {
		return nil, acerr.New(acerr.CodeAlgorithmNotAllowed,
			fmt.Sprintf("token algorithm %q is not in the allow-list", alg))
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, acerr.New(acerr.CodeSignatureInvalid, "token header missing kid")
	}

	key, err := v.keys.GetKey(ctx, params.Issuer, kid)
	if err != nil {
		if acerr.HasCode(err, acerr.CodeJWKSUnavailable) {
			return nil, err
		}
		return nil, acerr.Wrap(err, acerr.CodeSignatureInvalid,
			fmt.Sprintf("no verification key for kid %q", kid))
	}

	// Signature check only. Claims are validated manually below so each
	// failure surfaces under its own code.
	verified, err := jwt.NewParser(
		jwt.WithValidMethods(params.AllowedAlgorithms),
		jwt.WithoutClaimsValidation(),
	).Parse(rawToken, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil || !verified.Valid {
		return nil, acerr.Wrap(err, acerr.CodeSignatureInvalid, "token signature verification failed")
	}

	claims, ok := verified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, acerr.New(acerr.CodeAuthenticationInvalid, "token claims are not a JSON object")
	}

	iss, _ := claims["iss"].(string)
	if iss != params.Issuer {
		return nil, acerr.New(acerr.CodeIssuerMismatch,
			fmt.Sprintf("token issuer %q does not match expected issuer", iss))
	}

	audiences := extractAudiences(claims["aud"])
	if !audienceMatches(audiences, params.Audiences) {
		return nil, acerr.New(acerr.CodeAudienceMismatch, "token audience does not match any expected audience")
	}

	now := v.now()

	exp, err := numericDate(claims["exp"])
	if err != nil {
		return nil, acerr.New(acerr.CodeTokenExpired, "token has no valid exp claim")
	}
	if !exp.After(now.Add(-skew)) {
		return nil, acerr.New(acerr.CodeTokenExpired, "token has expired")
	}

	if nbfRaw, present := claims["nbf"]; present {
		nbf, err := numericDate(nbfRaw)
		if err != nil || nbf.After(now.Add(skew)) {
			return nil, acerr.New(acerr.CodeTokenExpired, "token is not yet valid")
		}
	}

	var issuedAt time.Time
	if iatRaw, present := claims["iat"]; present {
		iat, err := numericDate(iatRaw)
		if err != nil || iat.After(now.Add(skew)) {
			return nil, acerr.New(acerr.CodeTokenExpired, "token issued-at time is in the future")
		}
		issuedAt = iat
	}

	nonce, _ := claims["nonce"].(string)
	if params.Nonce != "" && nonce != params.Nonce {
		return nil, acerr.New(acerr.CodeNonceMismatch, "token nonce does not match the expected value")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, acerr.New(acerr.CodeAuthenticationInvalid, "token has no sub claim")
	}

	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return &IDClaims{
		Subject:   sub,
		Issuer:    iss,
		Email:     email,
		Name:      name,
		Nonce:     nonce,
		Audiences: audiences,
		ExpiresAt: exp,
		IssuedAt:  issuedAt,
		Raw:       map[string]any(claims),
	}, nil
}

func algorithmAllowed(alg string, allowed []string) bool {
	if alg == "" || alg == "none" {
		return false
	}
	for _, a := range allowed {
		if a == alg {
			return true
		}
	}
	return false
}

// extractAudiences handles both string and array forms of the aud claim.
func extractAudiences(raw any) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func audienceMatches(tokenAud, expected []string) bool {
	for _, have := range tokenAud {
		for _, want := range expected {
			if have == want {
				return true
			}
		}
	}
	return false
}

// numericDate converts a JSON numeric date claim to a time.Time.
func numericDate(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(int64(f), 0), nil
	}
	return time.Time{}, fmt.Errorf("oidc: claim is not a numeric date")
}
