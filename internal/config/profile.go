package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/rollcall/internal/extract"
)

// LoadProfile reads a YAML extraction profile. Keys present in the file
// replace the built-in defaults; absent keys keep them. An empty path yields
// the default profile.
func LoadProfile(path string) (extract.Profile, error) {
	prof := extract.DefaultProfile()
	path = strings.TrimSpace(path)
	if path == "" {
		return prof, nil
	}

	b, err := os.ReadFile(expandUserPath(path))
	if err != nil {
		return prof, fmt.Errorf("reading profile %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &prof); err != nil {
		return prof, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	if err := prof.Validate(); err != nil {
		return prof, fmt.Errorf("profile %s: %w", path, err)
	}
	return prof, nil
}
