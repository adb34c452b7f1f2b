package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-embed/config"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/metrics"
	"github.com/wippyai/wasm-embed/runtime"
	"github.com/wippyai/wasm-embed/store"
	"github.com/wippyai/wasm-embed/world"
)

// session is one loaded guest with the runtime around it.
type session struct {
	file   string
	cfg    *config.Config
	logger *zap.Logger
	rt     *runtime.Runtime[*logHost]
	inst   *store.Instance[*runtime.RuntimeView[*logHost]]
	funcs  []funcInfo
	server *http.Server

	seenOut, seenErr int
}

func openSession(ctx context.Context, cfg *config.Config, logger *zap.Logger, file string) (*session, error) {
	s := &session{file: file, cfg: cfg, logger: logger}

	opts := []runtime.Option{
		runtime.WithEngineConfig(cfg.EngineConfig()),
		runtime.WithWASIConfig(cfg.WASIConfig()),
		runtime.WithLogger(logger),
	}

	var w *world.World
	if cfg.World != "" {
		var err error
		if w, err = world.ParseFile(cfg.World); err != nil {
			return nil, err
		}
		opts = append(opts, runtime.WithWorld(w))
	}

	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		col, err := metrics.New(reg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, runtime.WithMetrics(col))
		s.serveMetrics(reg)
	}

	rt, err := runtime.New(ctx, cfg.WASIEnabled(), newLogHost(logger), opts...)
	if err != nil {
		s.stopMetrics(ctx)
		return nil, err
	}
	s.rt = rt

	mod, err := rt.LoadFile(ctx, file)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	s.funcs = callable(mod, w)

	if s.inst, err = rt.Instantiate(ctx, mod); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	logger.Info("guest loaded",
		zap.String("file", file),
		zap.Int("exports", len(s.funcs)),
		zap.Int("imports", len(mod.Imports())))
	return s, nil
}

func (s *session) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.server = &http.Server{
		Addr:              s.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("serving metrics",
			zap.String("listen", s.cfg.Metrics.Listen),
			zap.String("path", s.cfg.Metrics.Path))
		if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
}

func (s *session) stopMetrics(ctx context.Context) {
	if s.server == nil {
		return
	}
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown metrics server", zap.Error(err))
	}
	s.server = nil
}

// pick returns the export named name, or a default entry point.
func (s *session) pick(name string) (funcInfo, error) {
	if name != "" {
		for _, f := range s.funcs {
			if f.name == name {
				return f, nil
			}
		}
		return funcInfo{}, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	for _, entry := range entryPoints {
		for _, f := range s.funcs {
			if f.name == entry {
				return f, nil
			}
		}
	}
	if len(s.funcs) == 1 {
		return s.funcs[0], nil
	}
	return funcInfo{}, errors.InvalidInput(errors.PhaseRuntime,
		fmt.Sprintf("no entry point among %d exports; use --func", len(s.funcs)))
}

// call parses raw against f's parameters and invokes it. A guest that
// exits through WASI with status 0 counts as success.
func (s *session) call(ctx context.Context, f funcInfo, raw []string) (any, error) {
	args, err := f.parseArgs(raw)
	if err != nil {
		return nil, err
	}
	result, err := s.inst.CallWithTypes(ctx, f.name, f.paramTypes(), f.results, args...)
	if err == nil {
		return result, nil
	}
	if code, ok := exitStatus(err); ok {
		st := s.rt.Store()
		if resetErr := st.Reset(); resetErr != nil {
			s.logger.Warn("reset store after exit", zap.Error(resetErr))
		}
		if code == 0 {
			return nil, nil
		}
		return nil, errors.New(errors.PhaseGuest, errors.KindGuestTrap).
			Path(f.name).
			Detail("guest exited with status %d", code).
			Build()
	}
	return nil, err
}

// takeOutput returns guest stdio written since the previous take.
func (s *session) takeOutput() (stdout, stderr string) {
	wc := s.rt.Store().Data().WASI()
	if wc == nil || wc.Config().InheritStdio {
		return "", ""
	}
	out, errOut := wc.Stdout(), wc.Stderr()
	stdout, stderr = out[min(s.seenOut, len(out)):], errOut[min(s.seenErr, len(errOut)):]
	s.seenOut, s.seenErr = len(out), len(errOut)
	return stdout, stderr
}

// flushOutput copies new guest stdio to the given writers.
func (s *session) flushOutput(stdout, stderr io.Writer) {
	out, errOut := s.takeOutput()
	if out != "" {
		_, _ = io.WriteString(stdout, out)
	}
	if errOut != "" {
		_, _ = io.WriteString(stderr, errOut)
	}
}

func (s *session) Close(ctx context.Context) error {
	var err error
	if s.inst != nil {
		err = s.inst.Close(ctx)
	}
	if s.rt != nil {
		if rerr := s.rt.Close(ctx); err == nil {
			err = rerr
		}
	}
	s.stopMetrics(ctx)
	return err
}
