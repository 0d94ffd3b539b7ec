package config

import (
	"fmt"
	"os"

	"github.com/sonia-labs/turngate/toolpolicy"
)

// LoadToolAllowLists reads and parses the YAML tool allow-list file named
// by GatewayConfig.ToolAllowListPath.
func (c GatewayConfig) LoadToolAllowLists() (toolpolicy.AllowLists, error) {
	if c.ToolAllowListPath == "" {
		return toolpolicy.AllowLists{}, nil
	}
	doc, err := os.ReadFile(c.ToolAllowListPath)
	if err != nil {
		return toolpolicy.AllowLists{}, fmt.Errorf("config: read tool allow-list %s: %w", c.ToolAllowListPath, err)
	}
	return toolpolicy.LoadAllowLists(doc)
}
