package backend

// Factory builds a Backend from its config-file options, which vary per
// backend type (local needs a directory, S3 needs a bucket, rclone-bridge
// needs an rclone remote type).
type Factory func(name string, options map[string]string) (Backend, error)

// Registry is an explicit, caller-owned map from a config file's "type"
// string to the Factory that builds it. Nothing populates a Registry as a
// side effect of importing a package: package config builds one explicitly
// in backendFactories() and uses it inside Load, so the set of backend types a
// binary supports is visible at its call site instead of depending on which
// blank imports happen to be present.
type Registry map[string]Factory

// Build looks up typ in r and calls its Factory.
func (r Registry) Build(typ, name string, options map[string]string) (Backend, error) {
	factory, ok := r[typ]
	if !ok {
		return nil, &BackendError{Backend: name, Op: "build", Err: unknownBackendType(typ)}
	}
	return factory(name, options)
}

type unknownBackendType string

func (t unknownBackendType) Error() string {
	return "backend: unknown backend type " + string(t)
}
