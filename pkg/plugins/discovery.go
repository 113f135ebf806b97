package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// DiscoveryConfig controls where plugin manifests are searched.
type DiscoveryConfig struct {
	Enabled            bool
	Paths              []string
	ScanSubdirectories bool
}

// Discovered is a plugin found on disk, parsed but not yet loaded.
type Discovered struct {
	Name         string
	Dir          string
	ManifestPath string
	Manifest     *Manifest
}

// Discover scans the configured paths for plugin.yaml manifests. Paths
// that do not exist are skipped silently; malformed manifests are
// returned as errors alongside the valid ones so a single bad plugin
// does not hide the rest.
func Discover(cfg DiscoveryConfig) ([]*Discovered, []error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var found []*Discovered
	var errs []error

	for _, root := range cfg.Paths {
		root = expandHome(root)
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}

		entries, err := os.ReadDir(root)
		if err != nil {
			errs = append(errs, fmt.Errorf("scan %s: %w", root, err))
			continue
		}

		// A manifest directly in the root covers single-plugin layouts.
		if d, err := loadManifestDir(root); err == nil {
			found = append(found, d)
		} else if !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("plugin dir %s: %w", root, err))
		}

		if !cfg.ScanSubdirectories {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			d, err := loadManifestDir(dir)
			if err != nil {
				if !os.IsNotExist(err) {
					errs = append(errs, fmt.Errorf("plugin dir %s: %w", dir, err))
				}
				continue
			}
			found = append(found, d)
		}
	}

	return found, errs
}

func loadManifestDir(dir string) (*Discovered, error) {
	path := filepath.Join(dir, "plugin.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	// Relative commands resolve against the plugin directory.
	if !filepath.IsAbs(manifest.Command) {
		manifest.Command = filepath.Join(dir, manifest.Command)
	}

	return &Discovered{
		Name:         manifest.Name,
		Dir:          dir,
		ManifestPath: path,
		Manifest:     &manifest,
	}, nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
