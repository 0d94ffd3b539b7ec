package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "gateway_version": "1.0.0",
  "auth": {"issuer": "turngate", "audience": "clients", "bypass": false},
  "backends": {
    "model_router": {"base_url": "http://model-router.internal", "timeout_ms": 20000, "bearer_token": "dev-token"},
    "memory_engine": {"base_url": "http://memory-engine.internal", "timeout_ms": 500}
  },
  "rate_limit": {"rate_per_second": 10, "burst": 20},
  "session_limits": {"max_concurrent_sessions": 10000, "max_sessions_per_user": 50, "default_ttl_seconds": 1800},
  "budget": {
    "text_chars": {"ceiling": 8000, "strategy": "SENTENCE_BOUNDARY"}
  },
  "tool_allow_list_path": "/etc/turngate/tools.yaml"
}`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway-config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ValidConfigParsesAllSections(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "1.0.0", cfg.GatewayVersion)
	require.Equal(t, "turngate", cfg.Auth.Issuer)
	require.Equal(t, "http://model-router.internal", cfg.Backends["model_router"].BaseURL)
	require.Equal(t, 20, cfg.RateLimit.Burst)
}

func TestLoad_MissingRequiredFieldFailsSchemaValidation(t *testing.T) {
	path := writeTempConfig(t, `{"auth": {}}`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MalformedJSONFails(t *testing.T) {
	path := writeTempConfig(t, `{not json`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverlayOverridesRateLimitBurst(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	t.Setenv("GATEWAY_CFG_RATE_LIMIT__BURST", "99")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 99, cfg.RateLimit.Burst)
}

func TestClientConfig_StaticBearerWhenNoOAuth2(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	clientCfg, ok := cfg.ClientConfig("model_router")
	require.True(t, ok)
	require.Equal(t, "dev-token", clientCfg.BearerToken)
	require.Nil(t, clientCfg.OAuth2)
}

func TestClientConfig_UnknownBackendReturnsFalse(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	_, ok := cfg.ClientConfig("nonexistent")
	require.False(t, ok)
}

func TestBudgetConfig_FallsBackToDefaultsWhenEmpty(t *testing.T) {
	path := writeTempConfig(t, `{
		"gateway_version": "1.0.0",
		"backends": {"model_router": {"base_url": "http://x"}}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.BudgetConfig())
}

func TestHTTPAuthConfig_EnvVarOverridesConfiguredBypass(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Auth.Bypass)

	t.Setenv("GATEWAY_AUTH_BYPASS", "true")
	auth := cfg.HTTPAuthConfig(nil)
	require.True(t, auth.Bypass)
}
