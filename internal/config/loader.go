package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix marks ctxlearn environment variables.
	EnvPrefix = "CTXLEARN_"

	// ProjectConfig is looked up relative to the working directory.
	ProjectConfig = ".ctxlearn/config.yaml"
)

// envSections are the only sections environment variables may set.
var envSections = map[string]bool{
	"store":         true,
	"confidence":    true,
	"retrieval":     true,
	"failures":      true,
	"session":       true,
	"consolidation": true,
	"safety":        true,
}

// Load builds the configuration and returns it with the file it was read
// from ("" when no file was found).
//
// Precedence (highest first):
//  1. CTXLEARN_<SECTION>_<FIELD> environment variables
//  2. the YAML file: configPath, else .ctxlearn/config.yaml, else
//     ~/.config/ctxlearn/config.yaml
//  3. Default()
//
// An explicit configPath must exist. Files must be 0600 or 0400, at most
// 1MB, and live under the project .ctxlearn directory, ~/.config/ctxlearn
// or /etc/ctxlearn.
//
// Environment variables split on the first underscore after the prefix:
//
//	CTXLEARN_STORE_PATH            -> store.path
//	CTXLEARN_CONSOLIDATION_RETENTION -> consolidation.retention
//	CTXLEARN_SAFETY_EXTRA_PATTERNS -> safety.extra_patterns (one pattern)
func Load(configPath string) (*Config, string, error) {
	k := koanf.New(".")

	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, "", err
	}

	if path != "" {
		if err := validateConfigPath(path); err != nil {
			return nil, "", fmt.Errorf("config path validation failed: %w", err)
		}
		content, err := readConfigFile(path)
		if err != nil {
			return nil, "", err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, "", fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, "", fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal over the defaults so absent keys keep them.
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, path, nil
}

// envKey maps CTXLEARN_SECTION_FIELD_NAME to section.field_name. Variables
// outside envSections map to "" and are skipped.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok || field == "" || !envSections[section] {
		return ""
	}
	return section + "." + field
}

// resolveConfigPath applies the lookup order. Only an explicit path is
// required to exist.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	candidates := []string{ProjectConfig}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "ctxlearn", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("config file %s: %w", c, err)
		}
	}
	return "", nil
}

// readConfigFile validates and reads through one descriptor to avoid a
// TOCTOU race between the checks and the read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigFileSize)
	}
	return content, nil
}

// allowedConfigDirs lists where config files may live.
func allowedConfigDirs() ([]string, error) {
	dirs := []string{"/etc/ctxlearn"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "ctxlearn"))
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	dirs = append(dirs, filepath.Join(wd, filepath.Dir(ProjectConfig)))
	return dirs, nil
}

// validateConfigPath checks that path resolves inside an allowed directory.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	// Follow symlinks so a link cannot escape the allowed directories.
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	dirs, err := allowedConfigDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if d, err := filepath.EvalSymlinks(dir); err == nil {
			dir = d
		}
		rel, err := filepath.Rel(dir, resolved)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in .ctxlearn/, ~/.config/ctxlearn/ or /etc/ctxlearn/")
}

// validateConfigFileProperties checks permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
