package engine

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/errors"
)

// MaxMemoryPages is the largest memory limit a 32-bit guest can address.
const MaxMemoryPages = 65536

// Config holds configuration for engine creation.
type Config struct {
	// Cache shares compiled code between engines. Takes precedence over CacheDir.
	Cache wazero.CompilationCache

	// CacheDir persists compiled code on disk.
	CacheDir string

	// MemoryLimitPages caps guest memory in 64KiB pages. 0 means no extra cap.
	MemoryLimitPages uint32

	// ComponentModel enables canonical ABI conventions on calls:
	// post-return cleanup and cabi_realloc allocation.
	ComponentModel bool

	// Async lets cancellation of the call context interrupt running guest code.
	Async bool

	// Threads enables the threads proposal (experimental in wazero).
	Threads bool
}

// DefaultConfig returns a configuration with component model and async on.
func DefaultConfig() Config {
	return Config{
		ComponentModel: true,
		Async:          true,
	}
}

func (c Config) validate() error {
	if c.MemoryLimitPages > MaxMemoryPages {
		return errors.EngineConfig("memory limit exceeds 65536 pages", nil)
	}
	if c.Cache == nil && c.CacheDir != "" {
		info, err := os.Stat(c.CacheDir)
		if err != nil && !os.IsNotExist(err) {
			return errors.EngineConfig("cache dir "+c.CacheDir, err)
		}
		if err == nil && !info.IsDir() {
			return errors.EngineConfig("cache dir "+c.CacheDir+" is not a directory", nil)
		}
	}
	return nil
}

// Engine compiles guest modules and owns the wazero runtime they run in.
type Engine struct {
	runtime   wazero.Runtime
	cache     wazero.CompilationCache
	logger    *zap.Logger
	hostOwner map[string]any
	cfg       Config
	hostMu    sync.Mutex
	names     atomic.Uint64
	ownsCache bool
	closed    atomic.Bool
}

// New creates an engine from cfg.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rc := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.Threads {
		rc = rc.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}
	if cfg.Async {
		rc = rc.WithCloseOnContextDone(true)
	}

	e := &Engine{
		cfg:       cfg,
		logger:    Logger(),
		hostOwner: make(map[string]any),
	}

	switch {
	case cfg.Cache != nil:
		e.cache = cfg.Cache
	case cfg.CacheDir != "":
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, errors.EngineConfig("cache dir "+cfg.CacheDir, err)
		}
		e.cache = cache
		e.ownsCache = true
	}
	if e.cache != nil {
		rc = rc.WithCompilationCache(e.cache)
	}

	e.runtime = wazero.NewRuntimeWithConfig(ctx, rc)
	e.logger.Debug("engine created",
		zap.Bool("component_model", cfg.ComponentModel),
		zap.Bool("async", cfg.Async),
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages))
	return e, nil
}

// WithLogger replaces the engine's logger.
func (e *Engine) WithLogger(l *zap.Logger) *Engine {
	if l != nil {
		e.logger = l
	}
	return e
}

// Config returns the configuration the engine was created with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Runtime exposes the underlying wazero runtime.
func (e *Engine) Runtime() wazero.Runtime {
	return e.runtime
}

// UniqueName returns prefix followed by a sequence number no other call on
// this engine returns. Names of modules instantiated in the engine's
// runtime must not collide.
func (e *Engine) UniqueName(prefix string) string {
	return prefix + "#" + strconv.FormatUint(e.names.Add(1), 10)
}

// HostModule instantiates a host module named name once per engine.
// A second call by the same owner is a no-op; a different owner is rejected.
func (e *Engine) HostModule(ctx context.Context, name string, owner any, build func(wazero.HostModuleBuilder) wazero.HostModuleBuilder) error {
	e.hostMu.Lock()
	defer e.hostMu.Unlock()

	if prev, ok := e.hostOwner[name]; ok {
		if prev == owner {
			return nil
		}
		return errors.Duplicate(name, "", "another linker")
	}
	if e.runtime.Module(name) != nil {
		return errors.Duplicate(name, "", "engine")
	}

	builder := build(e.runtime.NewHostModuleBuilder(name))
	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.Registration(errors.PhaseLinking, name, "", err)
	}
	e.hostOwner[name] = owner
	e.logger.Debug("host module instantiated", zap.String("module", name))
	return nil
}

// Close releases the runtime and every module instantiated in it.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.runtime.Close(ctx)
	if e.ownsCache {
		if cerr := e.cache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	return e.closed.Load()
}
