package wasi

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
)

// ModuleName is the import module guests use for WASI preview1.
const ModuleName = wasi_snapshot_preview1.ModuleName

// Config describes the OS view given to a guest.
type Config struct {
	// Env is exported to the guest, in key order.
	Env map[string]string

	// Preopens maps guest paths to host directories.
	Preopens map[string]string

	// Args are the guest's argv; Args[0] is the program name.
	Args []string

	// Stdin is read by the guest when InheritStdio is off.
	Stdin []byte

	// InheritStdio connects the guest to the process's stdio instead of
	// in-memory buffers.
	InheritStdio bool
}

// View is implemented by execution contexts that carry a WASI context.
type View interface {
	WASI() *Context
}

// Context holds one guest's WASI state: its configuration and, unless
// stdio is inherited, the captured output.
type Context struct {
	stdout *buffer
	stderr *buffer
	cfg    Config
}

// NewContext creates a context from cfg.
func NewContext(cfg Config) *Context {
	return &Context{
		cfg:    cfg,
		stdout: &buffer{},
		stderr: &buffer{},
	}
}

// Config returns the configuration the context was built from.
func (c *Context) Config() Config {
	return c.cfg
}

// Stdout returns what the guest has written to stdout so far.
func (c *Context) Stdout() string {
	return c.stdout.String()
}

// Stderr returns what the guest has written to stderr so far.
func (c *Context) Stderr() string {
	return c.stderr.String()
}

// Close discards captured output.
func (c *Context) Close() error {
	c.stdout.Reset()
	c.stderr.Reset()
	return nil
}

// ModuleConfig applies the context to base.
func (c *Context) ModuleConfig(base wazero.ModuleConfig) wazero.ModuleConfig {
	cfg := base.
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader)

	if len(c.cfg.Args) > 0 {
		cfg = cfg.WithArgs(c.cfg.Args...)
	}

	keys := make([]string, 0, len(c.cfg.Env))
	for k := range c.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cfg = cfg.WithEnv(k, c.cfg.Env[k])
	}

	if c.cfg.InheritStdio {
		cfg = cfg.WithStdin(os.Stdin).WithStdout(os.Stdout).WithStderr(os.Stderr)
	} else {
		cfg = cfg.
			WithStdin(bytes.NewReader(c.cfg.Stdin)).
			WithStdout(c.stdout).
			WithStderr(c.stderr)
	}

	if len(c.cfg.Preopens) > 0 {
		fs := wazero.NewFSConfig()
		for guest, host := range c.cfg.Preopens {
			fs = fs.WithDirMount(host, guest)
		}
		cfg = cfg.WithFSConfig(fs)
	}
	return cfg
}

// Install instantiates WASI preview1 in r, along with the no-op functions
// the component adapter expects. It fails if the module already exists.
func Install(ctx context.Context, r wazero.Runtime) error {
	if r.Module(ModuleName) != nil {
		return errors.CapabilityInstall(ModuleName, errors.Duplicate(ModuleName, "", "engine"))
	}

	builder := r.NewHostModuleBuilder(ModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	builder = exportAdapter(builder)

	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.CapabilityInstall(ModuleName, err)
	}
	Logger().Debug("wasi installed", zap.String("module", ModuleName))
	return nil
}

type buffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

var _ io.Writer = (*buffer)(nil)

func (b *buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}
