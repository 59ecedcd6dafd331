package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies a config surface.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatSDL  Format = "graphql"
)

// DetectFormat guesses the format from a file name.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON, nil
	case ".yml", ".yaml":
		return FormatYAML, nil
	case ".graphql", ".gql":
		return FormatSDL, nil
	}
	return "", fmt.Errorf("config: cannot detect format of %q", name)
}

// ParseFormat parses a format name from CLI flags.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "graphql", "gql", "sdl":
		return FormatSDL, nil
	}
	return "", fmt.Errorf("config: unknown format %q", s)
}

// Decode parses source in the given format.
func Decode(src []byte, format Format) (*Config, error) {
	switch format {
	case FormatJSON:
		return FromJSON(src)
	case FormatYAML:
		return FromYAML(src)
	case FormatSDL:
		return FromSDL(string(src))
	}
	return nil, fmt.Errorf("config: unknown format %q", format)
}

// Encode renders the config in the given format.
func Encode(c *Config, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(c, "", "  ")
	case FormatYAML:
		return yaml.Marshal(c)
	case FormatSDL:
		return []byte(ToSDL(c)), nil
	}
	return nil, fmt.Errorf("config: unknown format %q", format)
}

func FromJSON(src []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(src, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

func FromYAML(src []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(src, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}
