// Command run loads a core WebAssembly guest into the embedded runtime and
// calls one of its exports.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-embed/config"
	"github.com/wippyai/wasm-embed/errors"
)

// entryPoints are tried in order when --func is not given.
var entryPoints = []string{"run", "main", "_start"}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file.wasm>",
		Short: "Run a WebAssembly guest against the embedded host runtime",
		Long: `Loads a core wasm module or a component, links it against WASI and
the built-in wasm-embed:host/log interface, and calls one of its exports.

Arguments are parsed according to the export's WIT signature when --wit
(or "world" in the config file) names one or the guest is a component, and
as core numbers otherwise.`,
		Args:         cobra.ExactArgs(1),
		RunE:         runE,
		SilenceUsage: true,
	}
	bindFlags(cmd.Flags())
	return cmd
}

func bindFlags(f *pflag.FlagSet) {
	f.String("func", "", "export to call; defaults to run, main or _start")
	f.StringArray("arg", nil, "argument for the export, repeat for each parameter")
	f.StringP("config", "c", "", "YAML configuration file")
	f.String("wit", "", "WIT file describing the guest exports")
	f.Bool("list", false, "list callable exports and exit")
	f.BoolP("interactive", "i", false, "pick exports and arguments in a terminal UI")
}

func runE(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	interactive, _ := flags.GetBool("interactive")
	if interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.InvalidInput(errors.PhaseRuntime, "interactive mode needs a terminal on stdout")
	}

	s, err := openSession(ctx, cfg, logger, args[0])
	if err != nil {
		logger.Error("cannot start guest", zap.String("file", args[0]), zap.Error(err))
		return err
	}
	defer func() {
		if err := s.Close(context.Background()); err != nil {
			logger.Warn("close session", zap.Error(err))
		}
	}()

	if list, _ := flags.GetBool("list"); list {
		for _, f := range s.funcs {
			fmt.Println(f.String())
		}
		return nil
	}
	if interactive {
		return runInteractive(ctx, s)
	}

	name, _ := flags.GetString("func")
	f, err := s.pick(name)
	if err != nil {
		return err
	}
	raw, _ := flags.GetStringArray("arg")

	result, err := s.call(ctx, f, raw)
	s.flushOutput(os.Stdout, os.Stderr)
	if err != nil {
		logger.Error("call failed", zap.String("function", f.name), zap.Error(err))
		return err
	}
	if result != nil {
		fmt.Printf("%v\n", result)
	}
	return nil
}

func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if wit, _ := flags.GetString("wit"); wit != "" {
		cfg.World = wit
	}
	return cfg, cfg.Validate()
}

// exitStatus reports whether err is a WASI proc_exit and its code.
func exitStatus(err error) (uint32, bool) {
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return exit.ExitCode(), true
	}
	return 0, false
}
