package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envPrefix is the overlay namespace, mirroring the SONIA_SECTION__KEY
// convention in original_source/services/shared/config_validator.py,
// adapted to this gateway's own prefix.
const envPrefix = "GATEWAY_CFG_"

// applyEnvOverlays walks every GATEWAY_CFG_SECTION__KEY environment
// variable and, when the config document has a matching section/key,
// overwrites that key's value — coercing to the existing value's type
// (bool, number, or string) exactly as the Python overlay does.
func applyEnvOverlays(doc any) (any, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		return doc, nil
	}
	for _, entry := range os.Environ() {
		key, val, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		rest := strings.TrimPrefix(key, envPrefix)
		section, field, ok := strings.Cut(rest, "__")
		if !ok {
			continue
		}
		section, field = strings.ToLower(section), strings.ToLower(field)

		sectionVal, ok := m[section].(map[string]any)
		if !ok {
			continue
		}
		existing, ok := sectionVal[field]
		if !ok {
			continue
		}
		coerced, err := coerceLike(existing, val)
		if err != nil {
			return nil, fmt.Errorf("overlay %s: %w", key, err)
		}
		sectionVal[field] = coerced
	}
	return m, nil
}

func coerceLike(existing any, raw string) (any, error) {
	switch existing.(type) {
	case bool:
		return strconv.ParseBool(raw)
	case float64:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}
