// Command warden-agent guards document-launcher actions and ships their
// telemetry to a warden collector.
//
// Usage:
//
//	warden-agent run < actions.jsonl
//	warden-agent status
//	warden-agent verify --file handbook.pdf --expected <sha256>
//	warden-agent reset
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Wikid82/warden/internal/agent"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/version"
)

const shutdownGrace = 5 * time.Second

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Guard actions read as JSON lines from stdin."`
	Status  StatusCmd  `cmd:"" help:"Show lockout, violations and rate-limit usage."`
	Verify  VerifyCmd  `cmd:"" help:"Check a document against its expected SHA-256 digest."`
	Reset   ResetCmd   `cmd:"" help:"Clear lockout, violations and rate-limit state."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config string `short:"c" help:"Path to YAML config file." type:"path" env:"WARDEN_CONFIG"`
	Debug  bool   `help:"Enable debug logging." env:"WARDEN_DEBUG"`
}

// load reads configuration and sets up logging. Logs go to stderr and a
// rotated file so stdout stays reserved for responses.
func (c *CLI) load() (config.Config, func(), error) {
	if c.Config != "" {
		if err := os.Setenv("WARDEN_CONFIG", c.Config); err != nil {
			return config.Config{}, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if c.Debug {
		cfg.Debug = true
	}

	out := io.Writer(os.Stderr)
	cleanup := func() {}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "warden-agent.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
		cleanup = func() { _ = rotator.Close() }
	}
	logger.Init(cfg.Debug, out)
	return cfg, cleanup, nil
}

func (c *CLI) open() (*agent.Agent, func(), error) {
	cfg, cleanup, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	store, err := agent.OpenStore(cfg.Agent)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	a, err := agent.New(cfg.Agent, store, nil)
	if err != nil {
		_ = store.Close()
		cleanup()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			logger.Log().WithError(err).Warn("close store")
		}
		cleanup()
	}, nil
}

// RunCmd serves the JSON-lines action protocol.
type RunCmd struct{}

func (r *RunCmd) Run(cli *CLI) error {
	a, closeFn, err := cli.open()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Telemetry.Start()
	serveErr := a.Serve(ctx, os.Stdin, os.Stdout)
	a.Shutdown(shutdownGrace)
	return serveErr
}

// StatusCmd prints the persisted guard state as JSON.
type StatusCmd struct{}

func (s *StatusCmd) Run(cli *CLI) error {
	a, closeFn, err := cli.open()
	if err != nil {
		return err
	}
	defer closeFn()

	st, err := a.Status()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

// VerifyCmd hashes a file and records the integrity check.
type VerifyCmd struct {
	File     string `required:"" help:"Document to hash." type:"existingfile"`
	Expected string `help:"Expected hex SHA-256; empty only records the digest."`
	URL      string `help:"Document URL reported with the event."`
}

func (v *VerifyCmd) Run(cli *CLI) error {
	content, err := os.ReadFile(v.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", v.File, err)
	}
	a, closeFn, err := cli.open()
	if err != nil {
		return err
	}
	defer closeFn()

	rec := a.VerifyDocument(filepath.Base(v.File), v.URL, content, v.Expected)
	a.Shutdown(shutdownGrace)

	fmt.Printf("%s  %s\n", rec.Hash, v.File)
	if !rec.Match {
		return fmt.Errorf("digest mismatch for %s", v.File)
	}
	return nil
}

// ResetCmd clears every piece of guard state.
type ResetCmd struct{}

func (r *ResetCmd) Run(cli *CLI) error {
	a, closeFn, err := cli.open()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := a.Reset(); err != nil {
		return err
	}
	fmt.Println("guard state cleared")
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct {
	JSON bool `help:"Print build metadata as JSON."`
}

func (c *VersionCmd) Run() error {
	info := version.Get()
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Printf("%s agent %s\n", info.Name, info)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("warden-agent"),
		kong.Description("Client-side rate limiting, lockout and telemetry for the document launcher."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
