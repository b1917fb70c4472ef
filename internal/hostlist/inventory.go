package hostlist

import (
	"fmt"
	"os"

	"github.com/aryankumar/fanout/internal/util"
	"gopkg.in/yaml.v3"
)

// Inventory is the YAML host inventory file structure
type Inventory struct {
	// Hosts lists the target endpoints in order
	Hosts []InventoryEntry `yaml:"hosts"`
}

// InventoryEntry is one inventory host: either a bare "[user@]host[:port]"
// string or a structured mapping with host/port/user keys
type InventoryEntry struct {
	Endpoint Endpoint
}

// UnmarshalYAML implements yaml.Unmarshaler
func (e *InventoryEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var field string
		if err := node.Decode(&field); err != nil {
			return err
		}
		ep, err := Parse(field)
		if err != nil {
			return err
		}
		e.Endpoint = ep
		return nil
	case yaml.MappingNode:
		var ep Endpoint
		if err := node.Decode(&ep); err != nil {
			return err
		}
		if ep.Host == "" {
			return fmt.Errorf("%w: inventory entry missing host", util.ErrHostSource)
		}
		e.Endpoint = ep
		return nil
	default:
		return fmt.Errorf("%w: inventory entry must be a string or mapping", util.ErrHostSource)
	}
}

// ParseInventory reads a YAML inventory file
func ParseInventory(path string) ([]Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrHostSource, err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", util.ErrHostSource, path, err)
	}

	endpoints := make([]Endpoint, 0, len(inv.Hosts))
	for _, entry := range inv.Hosts {
		endpoints = append(endpoints, entry.Endpoint)
	}
	return endpoints, nil
}
