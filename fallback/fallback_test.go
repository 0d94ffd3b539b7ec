package fallback

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_PreservesCorrelationIDAndUsesDefaultText(t *testing.T) {
	t.Parallel()
	env := New(TriggerRouterUnavailable, "router unreachable", "corr_abcd1234", "")
	require.Equal(t, "corr_abcd1234", env.CorrelationID)
	require.Equal(t, DefaultResponseText, env.Response)
	require.True(t, env.FallbackUsed)
	require.Equal(t, "fallback", env.Model)
	require.Equal(t, ContractVersion, env.FallbackContractVer)
}

func TestNew_HonorsCallerSuppliedText(t *testing.T) {
	t.Parallel()
	env := New(TriggerRouterError, "500 from router", "corr_xyz12345", "custom message")
	require.Equal(t, "custom message", env.Response)
	require.Equal(t, TriggerRouterError, env.FallbackTrigger)
}
