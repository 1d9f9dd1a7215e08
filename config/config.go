// Package config reads a checkout's .firmament/config file and turns it into
// ready-to-use backends and datastores, using a two-section YAML schema:
// named backends (each with its own storage options and, optionally, its own
// encryption passphrase) and a tree of per-path download policies.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/backend"
	"github.com/firmament-sync/firmament/backend/local"
	"github.com/firmament-sync/firmament/backend/rclonebridge"
	"github.com/firmament-sync/firmament/backend/s3"
	"github.com/firmament-sync/firmament/datastore"
)

// metaDirName is the checkout metadata directory's name, the same way .git
// names a git repository's.
const metaDirName = ".firmament"

// configFileName is metaDirName's config file, read as YAML.
const configFileName = "config"

// BackendSchema describes one configured backend. Priority controls the
// order MaterializeOperator tries backends in when downloading content: the
// lowest Priority is tried first. Two backends may legitimately share a
// Priority; ties are broken by name so Load's ordering is deterministic.
//
// Options is backend-type-specific: local wants "root", s3 wants "bucket"
// and friends, rclonebridge wants "remote_type"/"remote_path". Any backend
// type accepts an optional "encryption_key" option, giving that backend its
// own passphrase independent of every other configured backend — a
// per-backend encryption_key parameter, not a single checkout-wide secret.
type BackendSchema struct {
	Type     string            `yaml:"type"`
	Priority int               `yaml:"priority"`
	Options  map[string]string `yaml:"options"`
}

// PathSchema is a per-subtree download policy. Policy must parse as a
// firmament.PathRequestType ("full", "on-demand", "download-once",
// "ignore"); empty means PathRequestOnDemand, the system-wide default.
type PathSchema struct {
	Policy string `yaml:"policy"`
}

// ConfigSchema is the on-disk shape of .firmament/config. Both maps are
// keyed by name: a backend name (referenced nowhere else but here and in
// ContentBackendsStore entries) and a `/`-rooted virtual path.
type ConfigSchema struct {
	Backends map[string]BackendSchema `yaml:"backends"`
	Paths    map[string]PathSchema    `yaml:"paths"`
}

// Config is a loaded, ready-to-run checkout: its backends, its datastores,
// and the disk location they're all rooted at.
type Config struct {
	Root     string
	MetaPath string

	Backends     map[string]backend.Backend
	BackendOrder []string // backend names, lowest Priority first

	LocalVersions   *datastore.LocalVersionStore
	FileVersions    *datastore.FileVersionStore
	PathRequests    *datastore.PathRequestStore
	ContentBackends *datastore.ContentBackendsStore

	// Supervisor owns every rclone-bridge subprocess this Config started.
	// Close stops them. Load always sets it, even when no rclonebridge
	// backend is configured.
	Supervisor *rclonebridge.Supervisor
}

// Load walks upward from start looking for a .firmament directory, reads
// its config file, and builds the backends and datastores it describes.
func Load(start string) (*Config, error) {
	root, metaPath, err := findCheckout(start)
	if err != nil {
		return nil, err
	}

	schema, err := readSchema(filepath.Join(metaPath, configFileName))
	if err != nil {
		return nil, err
	}

	sup := rclonebridge.NewSupervisor()
	backends, order, err := buildBackends(schema.Backends, sup)
	if err != nil {
		sup.Close()
		return nil, err
	}

	datastoreDir := filepath.Join(metaPath, "datastore")
	for _, name := range []string{"local_versions", "file_versions", "path_requests", "content_backends"} {
		if err := os.MkdirAll(filepath.Join(datastoreDir, name), 0o700); err != nil {
			sup.Close()
			return nil, fmt.Errorf("config: creating datastore directory: %w", err)
		}
	}

	lv, err := datastore.OpenLocalVersionStore(filepath.Join(datastoreDir, "local_versions", "local_versions.bolt"))
	if err != nil {
		sup.Close()
		return nil, fmt.Errorf("config: opening local version store: %w", err)
	}
	fv, err := datastore.OpenFileVersionStore(filepath.Join(datastoreDir, "file_versions", "file_versions.bolt"))
	if err != nil {
		sup.Close()
		lv.Close()
		return nil, fmt.Errorf("config: opening file version store: %w", err)
	}
	pr, err := datastore.OpenPathRequestStore(filepath.Join(datastoreDir, "path_requests", "path_requests.bolt"))
	if err != nil {
		sup.Close()
		lv.Close()
		fv.Close()
		return nil, fmt.Errorf("config: opening path request store: %w", err)
	}
	cb, err := datastore.OpenContentBackendsStore(filepath.Join(datastoreDir, "content_backends", "content_backends.bolt"))
	if err != nil {
		sup.Close()
		lv.Close()
		fv.Close()
		pr.Close()
		return nil, fmt.Errorf("config: opening content backends store: %w", err)
	}

	if err := seedPathRequests(pr, schema.Paths); err != nil {
		sup.Close()
		lv.Close()
		fv.Close()
		pr.Close()
		cb.Close()
		return nil, err
	}

	return &Config{
		Root:            root,
		MetaPath:        metaPath,
		Backends:        backends,
		BackendOrder:    order,
		LocalVersions:   lv,
		FileVersions:    fv,
		PathRequests:    pr,
		ContentBackends: cb,
		Supervisor:      sup,
	}, nil
}

// Close releases every datastore and stops every rclone-bridge subprocess.
func (c *Config) Close() {
	c.LocalVersions.Close()
	c.FileVersions.Close()
	c.PathRequests.Close()
	c.ContentBackends.Close()
	c.Supervisor.Close()
}

// DiskPath rejoins a `/`-rooted virtual path with the checkout root.
func (c *Config) DiskPath(virtual string) string {
	return filepath.Join(c.Root, filepath.FromSlash(strings.TrimPrefix(virtual, "/")))
}

// findCheckout walks upward from start looking for a metaDirName directory,
// the way git walks upward looking for .git. It gives up after 64 levels so
// a checkout root typo doesn't walk all the way to the filesystem root
// stat'ing directories forever.
func findCheckout(start string) (root, metaPath string, err error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", "", fmt.Errorf("config: resolving %q: %w", start, err)
	}

	dir := abs
	for i := 0; i < 64; i++ {
		candidate := filepath.Join(dir, metaDirName)
		if fi, statErr := os.Stat(candidate); statErr == nil && fi.IsDir() {
			return dir, candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", "", fmt.Errorf("config: no %s directory found above %s", metaDirName, abs)
}

func readSchema(path string) (*ConfigSchema, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var schema ConfigSchema
	if err := yaml.Unmarshal(contents, &schema); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if len(schema.Backends) == 0 {
		return nil, fmt.Errorf("config: %s declares no backends", path)
	}
	return &schema, nil
}

// backendFactories builds the explicit type->Factory map every checkout's
// backends are constructed from. Nothing populates this as a side effect of
// an import: the set of backend types a firmament binary supports is
// visible right here.
func backendFactories(sup *rclonebridge.Supervisor) backend.Registry {
	rcloneFactory := rclonebridge.Factory(sup)
	return backend.Registry{
		"local":        local.Factory(),
		"s3":           s3.Factory(),
		"rclonebridge": rcloneFactory,
		"rclone":       rcloneFactory,
		"rclone-s3":    rcloneFactory,
	}
}

// buildBackends constructs every schema-declared backend and returns them
// alongside their names ordered by ascending Priority (ties broken by name).
func buildBackends(schemas map[string]BackendSchema, sup *rclonebridge.Supervisor) (map[string]backend.Backend, []string, error) {
	registry := backendFactories(sup)

	backends := make(map[string]backend.Backend, len(schemas))
	names := make([]string, 0, len(schemas))
	for name, s := range schemas {
		b, err := registry.Build(s.Type, name, s.Options)
		if err != nil {
			return nil, nil, fmt.Errorf("config: building backend %q: %w", name, err)
		}
		backends[name] = b
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		pi, pj := schemas[names[i]].Priority, schemas[names[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})

	return backends, names, nil
}

func seedPathRequests(store *datastore.PathRequestStore, schemas map[string]PathSchema) error {
	for virtualPath, s := range schemas {
		if s.Policy == "" {
			continue
		}
		policy := firmament.PathRequestType(s.Policy)
		switch policy {
		case firmament.PathRequestFull, firmament.PathRequestOnDemand, firmament.PathRequestDownloadOnce, firmament.PathRequestIgnore:
		default:
			return fmt.Errorf("config: path %q has unknown policy %q", virtualPath, s.Policy)
		}
		if err := store.Set(virtualPath, policy); err != nil {
			return fmt.Errorf("config: seeding path request %q: %w", virtualPath, err)
		}
	}
	return nil
}
