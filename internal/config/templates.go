package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const templateHeader = "# dltd configuration. Keys left out keep their defaults.\n"

// Template renders the default configuration in the given format, "toml" or
// "yaml".
func Template(format string) (string, error) {
	return Render(Default(), format)
}

// Render writes cfg in the given format, "toml" or "yaml".
func Render(cfg Config, format string) (string, error) {
	raw := fileFrom(cfg)
	var (
		out []byte
		err error
	)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "toml":
		out, err = toml.Marshal(raw)
	case "yaml", "yml":
		out, err = yaml.Marshal(raw)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", format, err)
	}
	return templateHeader + string(out), nil
}

// WriteTemplate writes the default configuration to path, in the format
// implied by its extension.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template(formatOf(path))
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

func formatOf(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return "yaml"
	}
	return "toml"
}
