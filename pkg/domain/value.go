package domain

// VersionedValue pairs a value with its write version.
// Versions start at 1 on the first write of a name and increase by exactly
// one per write, scoped to a single run.
type VersionedValue struct {
	Value   any `json:"value" yaml:"value"`
	Version int `json:"version" yaml:"version"`
}

// Values maps value names to their current versioned value.
type Values map[string]VersionedValue

// Get returns the current value for name, if present.
func (v Values) Get(name string) (any, bool) {
	vv, ok := v[name]
	if !ok {
		return nil, false
	}
	return vv.Value, true
}

// Version returns the current version for name, or 0 if never written.
func (v Values) Version(name string) int {
	return v[name].Version
}

// Write stores value under name, incrementing its version.
// It returns the version assigned to this write.
func (v Values) Write(name string, value any) int {
	next := v[name].Version + 1
	v[name] = VersionedValue{Value: value, Version: next}
	return next
}

// Clone returns a shallow copy of the map (values are shared, entries are not).
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, vv := range v {
		out[k] = vv
	}
	return out
}
