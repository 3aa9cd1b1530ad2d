package redact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ProjectAllowlistFile is the allowlist looked up at the project root.
const ProjectAllowlistFile = ".gitleaks.toml"

// Allowlist contains path and content regex patterns excluded from secret
// detection. Project and user allowlists merge with union semantics.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlists loads and merges the project allowlist
// (<projectPath>/.gitleaks.toml) and a user allowlist file. Missing files are
// silently ignored; invalid TOML or regex patterns are errors.
func LoadAllowlists(projectPath, userPath string) (*Allowlist, error) {
	merged := &Allowlist{
		Paths:   []string{},
		Regexes: []string{},
	}

	if projectPath != "" {
		projectFile := filepath.Join(projectPath, ProjectAllowlistFile)
		project, err := loadTOML(projectFile)
		switch {
		case err == nil:
			merged.Paths = append(merged.Paths, project.Paths...)
			merged.Regexes = append(merged.Regexes, project.Regexes...)
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if userPath != "" {
		user, err := loadTOML(userPath)
		switch {
		case err == nil:
			merged.Paths = append(merged.Paths, user.Paths...)
			merged.Regexes = append(merged.Regexes, user.Regexes...)
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	return merged, nil
}

// loadTOML loads and validates a single allowlist file.
func loadTOML(path string) (*Allowlist, error) {
	var config struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err // os.IsNotExist can identify this
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	// Validate patterns fail-fast so a bad allowlist is caught at startup,
	// not mid-run.
	for _, pattern := range config.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid path pattern '%s' in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}
	for _, pattern := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: invalid content pattern '%s' in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   config.Allowlist.Paths,
		Regexes: config.Allowlist.Regexes,
	}, nil
}
