// Package config loads, schema-validates, and env-overlays the gateway's
// signed JSON config file, grounded on
// original_source/services/shared/config_validator.py's
// SoniaConfig(load → validate → env-overlay → typed-section access)
// pattern, with schema validation realized via
// santhosh-tekuri/jsonschema/v6 the way the teacher validates tool
// payloads in registry/service.go.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sonia-labs/turngate/budget"
	"github.com/sonia-labs/turngate/clients"
	"github.com/sonia-labs/turngate/httpapi"
	"github.com/sonia-labs/turngate/ratelimit"
	"github.com/sonia-labs/turngate/session"
)

// BackendConfig is one backend's raw JSON config section.
type BackendConfig struct {
	BaseURL            string   `json:"base_url"`
	TimeoutMs          int      `json:"timeout_ms"`
	BearerToken        string   `json:"bearer_token"`
	OAuth2TokenURL     string   `json:"oauth2_token_url"`
	OAuth2ClientID     string   `json:"oauth2_client_id"`
	OAuth2ClientSecret string   `json:"oauth2_client_secret"`
	OAuth2Scopes       []string `json:"oauth2_scopes"`
}

// BudgetLimit is one dimension's raw JSON config section.
type BudgetLimit struct {
	Ceiling  int    `json:"ceiling"`
	Strategy string `json:"strategy"`
}

// RateLimitConfig is the raw JSON rate-limit config section.
type RateLimitConfig struct {
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
}

// SessionLimitsConfig is the raw JSON session-limits config section.
type SessionLimitsConfig struct {
	MaxConcurrentSessions int `json:"max_concurrent_sessions"`
	MaxSessionsPerUser    int `json:"max_sessions_per_user"`
	DefaultTTLSeconds     int `json:"default_ttl_seconds"`
}

// AuthConfig is the raw JSON auth config section.
type AuthConfig struct {
	Issuer   string `json:"issuer"`
	Audience string `json:"audience"`
	Bypass   bool   `json:"bypass"`
}

// ProfileConfig is one generation profile's raw JSON config section.
type ProfileConfig struct {
	ModelCallTimeoutMs int `json:"model_call_timeout_ms"`
	MaxToolIterations  int `json:"max_tool_iterations"`
}

// GatewayConfig is the parsed, schema-validated, env-overlaid config file.
type GatewayConfig struct {
	GatewayVersion     string                   `json:"gateway_version"`
	Auth               AuthConfig               `json:"auth"`
	Backends           map[string]BackendConfig `json:"backends"`
	RateLimit          RateLimitConfig          `json:"rate_limit"`
	SessionLimits      SessionLimitsConfig      `json:"session_limits"`
	Budget             map[string]BudgetLimit   `json:"budget"`
	ToolAllowListPath  string                   `json:"tool_allow_list_path"`
	Profiles           map[string]ProfileConfig `json:"profiles"`
}

// Load reads path, validates it against the embedded schema, and applies
// GATEWAY_CFG_SECTION__KEY environment variable overlays before returning the
// typed config. A malformed or schema-invalid file is rejected outright,
// per spec.md §6.
func Load(path string) (GatewayConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return GatewayConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return GatewayConfig{}, fmt.Errorf("config: parse embedded schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("gateway-config.schema.json", schemaDoc); err != nil {
		return GatewayConfig{}, fmt.Errorf("config: add schema resource: %w", err)
	}
	schema, err := c.Compile("gateway-config.schema.json")
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("config: compile schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return GatewayConfig{}, fmt.Errorf("config: %s failed schema validation: %w", path, err)
	}

	overlaid, err := applyEnvOverlays(doc)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("config: apply env overlays: %w", err)
	}
	reencoded, err := json.Marshal(overlaid)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("config: re-encode overlaid config: %w", err)
	}

	var cfg GatewayConfig
	if err := json.Unmarshal(reencoded, &cfg); err != nil {
		return GatewayConfig{}, fmt.Errorf("config: decode overlaid config: %w", err)
	}
	return cfg, nil
}

// ClientConfig converts a named backend section into a clients.Config,
// wiring up the client-credentials OAuth2 grant when a token URL is
// declared, else a static bearer token.
func (c GatewayConfig) ClientConfig(backend string) (clients.Config, bool) {
	b, ok := c.Backends[backend]
	if !ok {
		return clients.Config{}, false
	}
	timeout := time.Duration(b.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cfg := clients.Config{BaseURL: b.BaseURL, Timeout: timeout, BearerToken: b.BearerToken}
	if b.OAuth2TokenURL != "" {
		cfg.OAuth2 = oauth2ConfigFor(b)
	}
	return cfg, true
}

// RatelimitConfig converts the raw section into a ratelimit.Config.
func (c GatewayConfig) RatelimitConfig() ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	if c.RateLimit.RatePerSecond > 0 {
		rl.RatePerSecond = c.RateLimit.RatePerSecond
	}
	if c.RateLimit.Burst > 0 {
		rl.Burst = c.RateLimit.Burst
	}
	return rl
}

// SessionManagerLimits converts the raw section into session.Limits.
func (c GatewayConfig) SessionManagerLimits() session.Limits {
	lim := session.DefaultLimits()
	if c.SessionLimits.MaxConcurrentSessions > 0 {
		lim.MaxConcurrentSessions = c.SessionLimits.MaxConcurrentSessions
	}
	if c.SessionLimits.MaxSessionsPerUser > 0 {
		lim.MaxSessionsPerUser = c.SessionLimits.MaxSessionsPerUser
	}
	if c.SessionLimits.DefaultTTLSeconds > 0 {
		lim.DefaultTTL = time.Duration(c.SessionLimits.DefaultTTLSeconds) * time.Second
	}
	return lim
}

// BudgetConfig converts the raw section into a budget.Config.
func (c GatewayConfig) BudgetConfig() budget.Config {
	if len(c.Budget) == 0 {
		return budget.DefaultConfig()
	}
	out := make(budget.Config, len(c.Budget))
	for dim, lim := range c.Budget {
		out[budget.Dimension(dim)] = budget.Limit{Ceiling: lim.Ceiling, Strategy: budget.Strategy(lim.Strategy)}
	}
	return out
}

// HTTPAuthConfig converts the raw auth section into httpapi.AuthConfig,
// honoring the GATEWAY_AUTH_BYPASS env var posture named in spec.md §4.11
// over whatever the signed config file itself declares.
func (c GatewayConfig) HTTPAuthConfig(keyProvider httpapi.KeyProvider) httpapi.AuthConfig {
	bypass := c.Auth.Bypass
	if v, ok := os.LookupEnv("GATEWAY_AUTH_BYPASS"); ok {
		bypass = v == "1" || strings.EqualFold(v, "true")
	}
	return httpapi.AuthConfig{
		KeyProvider: keyProvider,
		Issuer:      c.Auth.Issuer,
		Audience:    c.Auth.Audience,
		Bypass:      bypass,
	}
}

func oauth2ConfigFor(b BackendConfig) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     b.OAuth2ClientID,
		ClientSecret: b.OAuth2ClientSecret,
		TokenURL:     b.OAuth2TokenURL,
		Scopes:       b.OAuth2Scopes,
	}
}
