package store

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/resource"
)

// View is implemented by every store data type: host bindings reach the
// resource table through it.
type View interface {
	Table() *resource.Table
}

// Hooks observes finished invocations.
type Hooks interface {
	OnCall(function string, duration time.Duration, err error)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	hooks          Hooks
	componentModel bool
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHooks registers invocation hooks.
func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

// WithComponentModel enables canonical ABI post-return calls.
func WithComponentModel(enabled bool) Option {
	return func(o *options) { o.componentModel = enabled }
}

// Store owns the execution context of one runtime and serializes access
// to it: at most one invocation is in flight at a time.
type Store[D View] struct {
	data           D
	sem            *semaphore.Weighted
	logger         *zap.Logger
	hooks          Hooks
	poisonCause    error
	poisonMu       sync.Mutex
	poisoned       atomic.Bool
	componentModel bool
}

// New creates a store around data.
func New[D View](data D, opts ...Option) *Store[D] {
	o := options{logger: Logger(), componentModel: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &Store[D]{
		data:           data,
		sem:            semaphore.NewWeighted(1),
		logger:         o.logger,
		hooks:          o.hooks,
		componentModel: o.componentModel,
	}
}

// Data returns the execution context. Access it from host bindings through
// Caller.Data; direct access is only safe while no invocation is running.
func (s *Store[D]) Data() D {
	return s.data
}

// Logger returns the store logger.
func (s *Store[D]) Logger() *zap.Logger {
	return s.logger
}

// ComponentModel reports whether canonical ABI post-return is enabled.
func (s *Store[D]) ComponentModel() bool {
	return s.componentModel
}

// Poisoned reports whether a previous invocation trapped or was interrupted.
func (s *Store[D]) Poisoned() bool {
	return s.poisoned.Load()
}

// Reset clears the poisoned state. It fails while an invocation is running.
func (s *Store[D]) Reset() error {
	if !s.sem.TryAcquire(1) {
		return errors.New(errors.PhaseRuntime, errors.KindInvocationInFlight).
			Detail("cannot reset store during an invocation").
			Build()
	}
	defer s.sem.Release(1)

	s.poisonMu.Lock()
	s.poisonCause = nil
	s.poisonMu.Unlock()
	s.poisoned.Store(false)
	return nil
}

func (s *Store[D]) poison(cause error) {
	s.poisonMu.Lock()
	if s.poisonCause == nil {
		s.poisonCause = cause
	}
	s.poisonMu.Unlock()
	s.poisoned.Store(true)
	s.logger.Warn("store poisoned", zap.Error(cause))
}

// Acquire enters the store for one invocation and returns the caller for it
// along with a context carrying the caller. If ctx already carries a caller
// of this store whose invocation is still running, that caller is reused
// without blocking. A caller left in a context after its invocation ended
// is ignored.
func (s *Store[D]) Acquire(ctx context.Context, function string) (*Caller[D], context.Context, error) {
	if c, ok := CallerFrom[D](ctx); ok && c.store == s && c.reenter() {
		return c, ctx, nil
	}

	if s.poisoned.Load() {
		s.poisonMu.Lock()
		cause := s.poisonCause
		s.poisonMu.Unlock()
		return nil, ctx, errors.New(errors.PhaseGuest, errors.KindGuestTrap).
			Path(function).
			Detail("store poisoned by an earlier trap; call Reset to continue").
			Cause(cause).
			Build()
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, ctx, errors.Canceled(function, err)
	}

	c := newCaller(ctx, s)
	c.ctx = WithCaller(ctx, c)
	c.active = true
	return c, c.ctx, nil
}

// Release leaves the store. The outermost release frees every handle
// acquired through the caller's scope and admits the next invocation.
func (s *Store[D]) Release(c *Caller[D]) {
	if !c.leave() {
		return
	}
	if n := c.scope.Release(); n > 0 {
		s.logger.Debug("released scoped resources", zap.Int("count", n))
	}
	s.sem.Release(1)
}

// classify turns a failed guest call into a structured error: a recorded
// host failure wins, then cancellation, otherwise a guest trap.
func (s *Store[D]) classify(ctx context.Context, c *Caller[D], function string, err error) error {
	if herr := c.takeErr(); herr != nil {
		return herr
	}

	var exit *sys.ExitError
	isExit := stderrors.As(err, &exit)
	if ctx.Err() != nil || (isExit && (exit.ExitCode() == sys.ExitCodeContextCanceled || exit.ExitCode() == sys.ExitCodeDeadlineExceeded)) {
		s.poison(err)
		return errors.Canceled(function, err)
	}

	s.poison(err)
	return errors.GuestTrap(function, err)
}

func (s *Store[D]) observe(function string, start time.Time, err error) {
	d := time.Since(start)
	if s.hooks != nil {
		s.hooks.OnCall(function, d, err)
	}
	if err != nil {
		s.logger.Debug("call failed",
			zap.String("function", function),
			zap.Duration("duration", d),
			zap.Error(err))
	}
}
