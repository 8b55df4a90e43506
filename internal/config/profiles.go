package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
)

// Profiles is the user-level profiles file. It names vaults so commands can
// run from anywhere with --profile.
//
//	default_profile = "work"
//
//	[profiles.work]
//	vault = "~/notes/work"
type Profiles struct {
	DefaultProfile string             `toml:"default_profile"`
	Profiles       map[string]Profile `toml:"profiles"`
}

// Profile points at a vault root.
type Profile struct {
	Vault   string `toml:"vault"`
	GroupBy string `toml:"group_by,omitempty"`
	Sort    string `toml:"sort,omitempty"`
}

// ProfilesPath returns the location of profiles.toml, honoring XDG_CONFIG_HOME.
func ProfilesPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "taskvault", "profiles.toml"), nil
}

// LoadProfiles reads a profiles file. A missing file yields empty profiles.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user config dir
	if err != nil {
		if os.IsNotExist(err) {
			return &Profiles{}, nil
		}
		return nil, fmt.Errorf("reading profiles: %w", err)
	}
	var p Profiles
	if _, err := toml.Decode(string(data), &p); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}
	return &p, nil
}

// Names returns the profile names in sorted order.
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.Profiles))
	for name := range p.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the profile for name, falling back to the default profile
// when name is empty. The second result is false when no profile applies.
func (p *Profiles) Resolve(name string) (Profile, bool, error) {
	if name == "" {
		name = p.DefaultProfile
	}
	if name == "" {
		return Profile{}, false, nil
	}
	prof, ok := p.Profiles[name]
	if !ok {
		return Profile{}, false, clierr.Newf(clierr.ProfileNotFound, "profile %q not found", name).
			WithDetails(map[string]any{"available": p.Names()})
	}
	vault, err := expandPath(prof.Vault)
	if err != nil {
		return Profile{}, false, err
	}
	if vault == "" {
		return Profile{}, false, clierr.Newf(clierr.InvalidInput, "profile %q has no vault", name)
	}
	prof.Vault = vault
	return prof, true, nil
}

func expandPath(value string) (string, error) {
	expanded := os.ExpandEnv(strings.TrimSpace(value))
	if expanded != "~" && !strings.HasPrefix(expanded, "~/") {
		return expanded, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(expanded, "~")), nil
}
