package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-embed/linker"
	"github.com/wippyai/wasm-embed/runtime"
	"github.com/wippyai/wasm-embed/store"
)

// logNamespace is the interface every guest run by this command can import.
const logNamespace = "wasm-embed:host/log"

// logHost forwards guest log lines to zap.
type logHost struct {
	logger *zap.Logger
}

type logCaller = store.Caller[*runtime.RuntimeView[*logHost]]

func newLogHost(logger *zap.Logger) *logHost {
	return &logHost{logger: logger.Named("guest")}
}

// AddToLinker defines debug, info, warn and error, each taking a string.
func (h *logHost) AddToLinker(l *linker.Linker[*runtime.RuntimeView[*logHost]]) error {
	levels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for _, lvl := range levels {
		if err := l.DefineFunc(logNamespace, lvl.String(), h.logAt(lvl)); err != nil {
			return err
		}
	}
	return nil
}

func (h *logHost) logAt(lvl zapcore.Level) func(*logCaller, string) {
	return func(c *logCaller, msg string) {
		h.logger.Log(lvl, msg, zap.Int("live_handles", c.Table().Len()))
	}
}
