// Package config parses network.json (spec.md §6), applying the same
// defaults the Rust prototype's serde attributes did. Parsing uses the
// standard library's encoding/json: no JSON library appears anywhere in
// the example corpus this project was grounded on, so this is the one
// ambient concern left on the standard library (see DESIGN.md).
package config

import (
	"encoding/json"
	"fmt"

	"github.com/capsys/netd/internal/logging"
)

// DefaultBufferSize is the packet-pool byte budget used when
// network.json omits buffer_size.
const DefaultBufferSize = 1 << 20 // 1 MiB

// DefaultMask is the interface prefix length used when an interface
// entry omits mask.
const DefaultMask = 24

// InterfaceConfig describes one named interface's desired addressing.
type InterfaceConfig struct {
	Name    string  `json:"name"`
	IPv4    string  `json:"ipv4"`
	Mask    int     `json:"mask"`
	Gateway *string `json:"gateway,omitempty"`
}

// RouteConfig describes one static route entry.
type RouteConfig struct {
	Dest string `json:"dest"`
	Mask int    `json:"mask"`
	Via  string `json:"via"`
}

// NetworkConfig is the parsed contents of network.json.
type NetworkConfig struct {
	BufferSize int64             `json:"buffer_size"`
	Interfaces []InterfaceConfig `json:"interfaces"`
	Routes     []RouteConfig     `json:"routes"`
}

// rawNetworkConfig mirrors NetworkConfig but leaves BufferSize and each
// interface's Mask as pointers so omission can be distinguished from an
// explicit zero before defaults are applied.
type rawNetworkConfig struct {
	BufferSize *int64 `json:"buffer_size"`
	Interfaces []struct {
		Name    string  `json:"name"`
		IPv4    string  `json:"ipv4"`
		Mask    *int    `json:"mask"`
		Gateway *string `json:"gateway,omitempty"`
	} `json:"interfaces"`
	Routes []RouteConfig `json:"routes"`
}

// Parse decodes raw network.json bytes, applying documented defaults for
// omitted fields.
func Parse(data []byte) (NetworkConfig, error) {
	var raw rawNetworkConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return NetworkConfig{}, fmt.Errorf("config: parse network.json: %w", err)
	}

	cfg := NetworkConfig{BufferSize: DefaultBufferSize, Routes: raw.Routes}
	if raw.BufferSize != nil {
		cfg.BufferSize = *raw.BufferSize
	}

	cfg.Interfaces = make([]InterfaceConfig, len(raw.Interfaces))
	for i, iface := range raw.Interfaces {
		mask := DefaultMask
		if iface.Mask != nil {
			mask = *iface.Mask
		}
		cfg.Interfaces[i] = InterfaceConfig{
			Name:    iface.Name,
			IPv4:    iface.IPv4,
			Mask:    mask,
			Gateway: iface.Gateway,
		}
	}
	return cfg, nil
}

// Load parses data into a NetworkConfig, logging and falling back to an
// empty (default-only) configuration on malformed input rather than
// failing init (spec.md §6: "A malformed file is logged and ignored").
func Load(data []byte, log *logging.Logger) NetworkConfig {
	if log == nil {
		log = logging.Default()
	}
	cfg, err := Parse(data)
	if err != nil {
		log.Warn("malformed network.json, proceeding with defaults", "err", err)
		return NetworkConfig{BufferSize: DefaultBufferSize}
	}
	return cfg
}

// ForInterface returns the configuration entry named name, if present.
func (c NetworkConfig) ForInterface(name string) (InterfaceConfig, bool) {
	for _, iface := range c.Interfaces {
		if iface.Name == name {
			return iface, true
		}
	}
	return InterfaceConfig{}, false
}
