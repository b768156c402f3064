package host

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	sqlhost "github.com/tomyedwab/sqlbridge/sqlproxy/host"
)

// RunConfig describes how a guest program is started.
type RunConfig struct {
	Name   string // argv[0]
	Args   []string
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// FS is mounted at the guest's root when set.
	FS wazero.FSConfig
}

// Run compiles and runs a WASI command module against h until its main
// function returns. A non-zero exit code is returned as an error.
func Run(ctx context.Context, wasm []byte, h *sqlhost.SQLHost, cfg RunConfig) error {
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, r)
	if _, err := Instantiate(ctx, r, h); err != nil {
		return fmt.Errorf("failed to instantiate %s module: %w", ModuleName, err)
	}

	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		return fmt.Errorf("failed to compile guest: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "guest"
	}
	modCfg := wazero.NewModuleConfig().
		WithName(name).
		WithArgs(append([]string{name}, cfg.Args...)...).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)
	for k, v := range cfg.Env {
		modCfg = modCfg.WithEnv(k, v)
	}
	if cfg.Stdin != nil {
		modCfg = modCfg.WithStdin(cfg.Stdin)
	}
	if cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(cfg.Stderr)
	}
	if cfg.FS != nil {
		modCfg = modCfg.WithFSConfig(cfg.FS)
	}

	log.WithField("guest", name).Debug("starting guest")
	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if mod != nil {
		defer mod.Close(ctx)
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == 0 {
			return nil
		}
		return fmt.Errorf("guest exited with code %d", exitErr.ExitCode())
	}
	if err != nil {
		return fmt.Errorf("failed to run guest: %w", err)
	}
	return nil
}
