package pubsub

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// SecurityGroupBinding associates a securityGroupId with the policy URI
// KeyStorage should initialize it against, loaded from
// bootstrap config rather than set programmatically per-group.
type SecurityGroupBinding struct {
	SecurityGroupID string `toml:"security_group_id" yaml:"securityGroupId"`
	PolicyURI       string `toml:"policy_uri" yaml:"policyUri"`
}

// ManagerDefaults holds the Manager-wide bootstrap defaults:
// default subscribing interval, default timeouts, and
// security-group policy bindings. Entity-level config (Connections,
// groups, readers/writers) is still created through the typed CRUD
// operations in manager_ops.go — this is process-start configuration only.
type ManagerDefaults struct {
	SubscribingIntervalMs float64                 `toml:"subscribing_interval_ms" yaml:"subscribingIntervalMs"`
	TimeoutMs             int                     `toml:"timeout_ms" yaml:"timeoutMs"`
	SecurityGroups        []SecurityGroupBinding  `toml:"security_group" yaml:"securityGroups"`
}

// DefaultManagerDefaults mirrors the clamp-to-default values
// (5 ms subscribing interval; 0 ms blocking / 1000 ms non-blocking
// timeout — 1000 used here as the more conservative non-blocking default).
func DefaultManagerDefaults() ManagerDefaults {
	return ManagerDefaults{
		SubscribingIntervalMs: 5,
		TimeoutMs:             1000,
	}
}

// LoadManagerDefaults reads path and decodes it as TOML or YAML based on
// its extension (.toml, or .yaml/.yml), following a per-format feeder split
// without pulling in a field-tracking decoder layer, which this bootstrap
// step has no use for.
func LoadManagerDefaults(path string) (ManagerDefaults, error) {
	defaults := DefaultManagerDefaults()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &defaults); err != nil {
			return ManagerDefaults{}, fmt.Errorf("%w: decoding TOML bootstrap config %q: %s", ErrConfigurationError, path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return ManagerDefaults{}, fmt.Errorf("%w: reading YAML bootstrap config %q: %s", ErrConfigurationError, path, err)
		}
		if err := yaml.Unmarshal(data, &defaults); err != nil {
			return ManagerDefaults{}, fmt.Errorf("%w: decoding YAML bootstrap config %q: %s", ErrConfigurationError, path, err)
		}
	default:
		return ManagerDefaults{}, fmt.Errorf("%w: unrecognized bootstrap config extension %q (want .toml, .yaml, or .yml)", ErrConfigurationError, ext)
	}

	return defaults, nil
}

// WatchManagerDefaults watches path's containing directory with fsnotify
// (watching the directory, not the file itself, survives editors and
// config-management tools that replace the file via rename rather than
// in-place write) and invokes onChange with freshly reloaded defaults
// whenever path is written or recreated. The returned stop func closes the
// watcher; call it to release the goroutine.
func WatchManagerDefaults(path string, onChange func(ManagerDefaults, error)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: creating bootstrap config watcher: %s", ErrInternalError, err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("%w: watching %q: %s", ErrInternalError, dir, err)
	}

	target := filepath.Clean(path)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				defaults, loadErr := LoadManagerDefaults(path)
				onChange(defaults, loadErr)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onChange(ManagerDefaults{}, fmt.Errorf("%w: watching %q: %s", ErrInternalError, path, watchErr))
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return watcher.Close()
	}, nil
}

// ApplyManagerDefaults registers every SecurityGroups binding's policy URI
// so the first SetEncryptionKeys/ActivateKey call for that securityGroupId
// uses it. Bindings for a securityGroupId with no
// referencing group yet are retained and applied lazily by
// acquireKeyStorage when that group is later created.
func (m *Manager) ApplyManagerDefaults(defaults ManagerDefaults) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bootstrapDefaults = defaults
	for _, binding := range defaults.SecurityGroups {
		m.securityGroupPolicies[binding.SecurityGroupID] = binding.PolicyURI
	}
}
