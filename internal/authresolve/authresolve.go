// Package authresolve implements the Auth Resolver spec.md §4.9
// describes: the exact four-case outbound-credential decision table,
// keyed on the incoming auth shape and whether the target model accepts
// OAuth.
package authresolve

import "strings"

// oauthTokenPrefix recognizes a RelayPlane/"Max" OAuth token, grounded
// on the teacher's API-key-shape sniffing in middleware.APIKeyAuth.
const oauthTokenPrefix = "sk-ant-oat-"

// IsOAuthToken reports whether token has the recognized OAuth/"Max"
// shape rather than a provider-native API key shape.
func IsOAuthToken(token string) bool {
	return strings.HasPrefix(token, oauthTokenPrefix)
}

// Outcome is the Auth Resolver's verdict.
type Outcome string

const (
	OutcomePassthrough       Outcome = "passthrough"       // forward the incoming credential unchanged
	OutcomeBearerFromOAuth   Outcome = "bearer_from_oauth" // forward the OAuth token as Authorization: Bearer
	OutcomeEnvAPIKey         Outcome = "env_api_key"       // substitute the configured provider env key
	OutcomeUnauthorized      Outcome = "unauthorized"       // 401: OAuth token but no env key configured for a non-OAuth model
	OutcomeMissingCredential Outcome = "missing_credential" // 401: no Authorization/x-api-key/x-goog-api-key/?key= at all
)

// Decision carries the resolved outbound credential alongside Outcome.
type Decision struct {
	Outcome     Outcome
	Credential  string // the value to place on the outbound request; empty for OutcomeUnauthorized and OutcomeMissingCredential
	Explanation string // populated only for OutcomeUnauthorized and OutcomeMissingCredential
}

// Resolve implements the auth-selection short-circuit ahead of the
// four-case decision table:
//
//	no credential supplied at all                      -> 401
//	incoming API key, any model                        -> pass through
//	OAuth token, OAuth-supporting model                 -> pass through as Bearer
//	OAuth token, non-OAuth model, env key configured    -> use the env key
//	OAuth token, non-OAuth model, no env key            -> 401
func Resolve(incomingCredential string, modelSupportsOAuth bool, configuredEnvAPIKey string) Decision {
	if incomingCredential == "" {
		return Decision{
			Outcome:     OutcomeMissingCredential,
			Explanation: "no Authorization, x-api-key, x-goog-api-key, or key credential was supplied",
		}
	}

	if !IsOAuthToken(incomingCredential) {
		return Decision{Outcome: OutcomePassthrough, Credential: incomingCredential}
	}

	if modelSupportsOAuth {
		return Decision{Outcome: OutcomeBearerFromOAuth, Credential: incomingCredential}
	}

	if configuredEnvAPIKey != "" {
		return Decision{Outcome: OutcomeEnvAPIKey, Credential: configuredEnvAPIKey}
	}

	return Decision{
		Outcome:     OutcomeUnauthorized,
		Explanation: "target model does not support OAuth credentials and no provider API key is configured",
	}
}
