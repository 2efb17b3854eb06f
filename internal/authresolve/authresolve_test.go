package authresolve

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPIKeyAlwaysPassesThrough(t *testing.T) {
	d := Resolve("sk-ant-api03-abc123", true, "")
	require.Equal(t, OutcomePassthrough, d.Outcome)
	require.Equal(t, "sk-ant-api03-abc123", d.Credential)
}

func TestAPIKeyPassesThroughEvenWithoutOAuthSupport(t *testing.T) {
	d := Resolve("sk-ant-api03-abc123", false, "")
	require.Equal(t, OutcomePassthrough, d.Outcome)
}

func TestOAuthTokenToOAuthModelBecomesBearer(t *testing.T) {
	d := Resolve("sk-ant-oat-xyz789", true, "")
	require.Equal(t, OutcomeBearerFromOAuth, d.Outcome)
	require.Equal(t, "sk-ant-oat-xyz789", d.Credential)
}

func TestOAuthTokenToNonOAuthModelWithEnvKeyConfigured(t *testing.T) {
	d := Resolve("sk-ant-oat-xyz789", false, "env-configured-key")
	require.Equal(t, OutcomeEnvAPIKey, d.Outcome)
	require.Equal(t, "env-configured-key", d.Credential)
}

// Auth: OAuth + Haiku — spec.md §8 scenario 6.
func TestOAuthTokenToNonOAuthModelWithoutEnvKeyIsUnauthorized(t *testing.T) {
	d := Resolve("sk-ant-oat-xyz789", false, "")
	require.Equal(t, OutcomeUnauthorized, d.Outcome)
	require.Empty(t, d.Credential)
	require.NotEmpty(t, d.Explanation)
}

func TestNoCredentialSuppliedIsUnauthorized(t *testing.T) {
	d := Resolve("", true, "env-configured-key")
	require.Equal(t, OutcomeMissingCredential, d.Outcome)
	require.Empty(t, d.Credential)
	require.NotEmpty(t, d.Explanation)
}

func TestIsOAuthTokenRecognizesShape(t *testing.T) {
	require.True(t, IsOAuthToken("sk-ant-oat-abc"))
	require.False(t, IsOAuthToken("sk-ant-api03-abc"))
	require.False(t, IsOAuthToken(""))
}

func TestResolveIsPureFunction(t *testing.T) {
	d1 := Resolve("sk-ant-oat-x", false, "k")
	d2 := Resolve("sk-ant-oat-x", false, "k")
	require.Equal(t, d1, d2)
}
