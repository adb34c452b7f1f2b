package linker

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
)

// Version represents a semantic version for namespace matching
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// ParseVersion parses a version string like "0.2.0" or "0.2"
func ParseVersion(s string) (Version, bool) {
	if s == "" {
		return Version{}, false
	}

	var v Version
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return Version{}, false
	}

	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil || p[0] == '+' {
			return Version{}, false
		}
		switch i {
		case 0:
			v.Major = uint32(n)
		case 1:
			v.Minor = uint32(n)
		case 2:
			v.Patch = uint32(n)
		}
	}
	return v, true
}

// Compatible reports whether a binding at v can satisfy an import of want.
// Same major and at least the wanted minor.patch; below 1.0 the minor
// version is breaking and must match.
func (v Version) Compatible(want Version) bool {
	if v.Major != want.Major {
		return false
	}
	if v.Major == 0 && v.Minor != want.Minor {
		return false
	}
	if v.Minor != want.Minor {
		return v.Minor > want.Minor
	}
	return v.Patch >= want.Patch
}

// Less orders versions ascending.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// String returns the version as "major.minor.patch"
func (v Version) String() string {
	return strconv.FormatUint(uint64(v.Major), 10) + "." +
		strconv.FormatUint(uint64(v.Minor), 10) + "." +
		strconv.FormatUint(uint64(v.Patch), 10)
}

// FuncDef is a host function ready to be placed in a host module.
type FuncDef struct {
	Handler api.GoModuleFunc
	Name    string
	Type    engine.FuncType
}

// Namespace is a node in the tree of binding namespaces, e.g.
// example:host -> host@0.1.0.
type Namespace struct {
	version  *Version
	funcs    map[string]*FuncDef
	children map[string]*Namespace
	parent   *Namespace
	name     string
	mu       sync.RWMutex
	sealed   bool
}

// NewNamespace creates a root namespace
func NewNamespace() *Namespace {
	return &Namespace{
		funcs:    make(map[string]*FuncDef),
		children: make(map[string]*Namespace),
	}
}

// Name returns the namespace name
func (ns *Namespace) Name() string {
	return ns.name
}

// Version returns the namespace version, or nil if unversioned
func (ns *Namespace) Version() *Version {
	return ns.version
}

// FullPath returns the full namespace path like "example:host/host@0.1.0"
func (ns *Namespace) FullPath() string {
	if ns.parent == nil {
		return ns.name
	}
	path := ns.name
	if parent := ns.parent.FullPath(); parent != "" {
		path = parent + "/" + ns.name
	}
	if ns.version != nil {
		path += "@" + ns.version.String()
	}
	return path
}

// child returns or creates the direct child for one path segment.
func (ns *Namespace) child(seg pathSegment) *Namespace {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	key := seg.key()
	if c, ok := ns.children[key]; ok {
		return c
	}
	c := &Namespace{
		name:     seg.name,
		version:  seg.version,
		funcs:    make(map[string]*FuncDef),
		children: make(map[string]*Namespace),
		parent:   ns,
	}
	ns.children[key] = c
	return c
}

// Instance returns or creates the namespace at path.
func (ns *Namespace) Instance(path string) *Namespace {
	current := ns
	for _, seg := range parseNamespacePath(path) {
		current = current.child(seg)
	}
	return current
}

// Define adds a function. Redefinition and definitions in a namespace
// already turned into a host module are rejected.
func (ns *Namespace) Define(def *FuncDef) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.sealed {
		return errors.Frozen(ns.FullPath(), def.Name)
	}
	if _, ok := ns.funcs[def.Name]; ok {
		return errors.Duplicate(ns.FullPath(), def.Name, "")
	}
	ns.funcs[def.Name] = def
	return nil
}

func (ns *Namespace) seal() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.sealed = true
}

// Func returns a function by name, or nil if not found
func (ns *Namespace) Func(name string) *FuncDef {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.funcs[name]
}

// Funcs returns the functions defined directly in this namespace.
func (ns *Namespace) Funcs() map[string]*FuncDef {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	result := make(map[string]*FuncDef, len(ns.funcs))
	for k, v := range ns.funcs {
		result[k] = v
	}
	return result
}

// Len returns the number of functions defined directly in this namespace.
func (ns *Namespace) Len() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.funcs)
}

// Walk visits ns and its descendants in path order.
func (ns *Namespace) Walk(fn func(*Namespace)) {
	fn(ns)

	ns.mu.RLock()
	keys := make([]string, 0, len(ns.children))
	for k := range ns.children {
		keys = append(keys, k)
	}
	children := make([]*Namespace, 0, len(keys))
	sort.Strings(keys)
	for _, k := range keys {
		children = append(children, ns.children[k])
	}
	ns.mu.RUnlock()

	for _, c := range children {
		c.Walk(fn)
	}
}

// Resolve looks up a namespace by path, falling back to the highest
// semver-compatible version when the exact version is not defined.
func (ns *Namespace) Resolve(path string) *Namespace {
	current := ns
	for _, seg := range parseNamespacePath(path) {
		next := current.resolveChild(seg)
		if next == nil {
			return nil
		}
		current = next
	}
	return current
}

func (ns *Namespace) resolveChild(seg pathSegment) *Namespace {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if c, ok := ns.children[seg.key()]; ok {
		return c
	}
	if seg.version == nil {
		return nil
	}

	var best *Namespace
	for _, c := range ns.children {
		if c.name != seg.name || c.version == nil || !c.version.Compatible(*seg.version) {
			continue
		}
		if best == nil || best.version.Less(*c.version) {
			best = c
		}
	}
	return best
}

// pathSegment represents a parsed namespace path segment
type pathSegment struct {
	version *Version
	name    string
}

func (s pathSegment) key() string {
	if s.version == nil {
		return s.name
	}
	return s.name + "@" + s.version.String()
}

// parseNamespacePath parses "wasi:io/streams@0.2.0" into segments.
// The package prefix up to the first slash is one segment.
func parseNamespacePath(path string) []pathSegment {
	var segments []pathSegment

	if colon := strings.Index(path, ":"); colon > 0 {
		slash := strings.Index(path[colon:], "/")
		if slash < 0 {
			return []pathSegment{parseSegment(path)}
		}
		segments = append(segments, parseSegment(path[:colon+slash]))
		path = path[colon+slash+1:]
	}

	for _, part := range strings.Split(path, "/") {
		if part != "" {
			segments = append(segments, parseSegment(part))
		}
	}
	return segments
}

// parseSegment splits "streams@0.2.0" into name and version
func parseSegment(s string) pathSegment {
	idx := strings.LastIndex(s, "@")
	if idx < 0 {
		return pathSegment{name: s}
	}
	if v, ok := ParseVersion(s[idx+1:]); ok {
		return pathSegment{name: s[:idx], version: &v}
	}
	return pathSegment{name: s}
}
