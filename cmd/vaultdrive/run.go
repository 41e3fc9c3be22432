package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sergeknystautas/vaultdrive/internal/fixture"
	"github.com/sergeknystautas/vaultdrive/internal/launcher"
	"github.com/sergeknystautas/vaultdrive/internal/logging"
)

type runOptions struct {
	configPath string
	sandbox    bool
	vault      string
	name       string
	force      bool
	yes        bool
	noPlugins  bool
}

func parseRunFlags(args []string) (runOptions, error) {
	var o runOptions
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "c", "", "Run file")
	fs.StringVar(&o.configPath, "config", "", "Run file")
	fs.BoolVar(&o.sandbox, "sandbox", false, "Open the sandbox vault")
	fs.StringVar(&o.vault, "vault", "", "Vault directory (default: paths.vault_dir)")
	fs.StringVar(&o.name, "name", "", "Vault name from the host's vault list")
	fs.BoolVar(&o.force, "force", false, "Delete the vault directory before opening it")
	fs.BoolVar(&o.yes, "yes", false, "Do not ask before --force deletes")
	fs.BoolVar(&o.noPlugins, "no-plugins", false, "Skip the run file's plugins")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	n := 0
	for _, set := range []bool{o.sandbox, o.vault != "", o.name != ""} {
		if set {
			n++
		}
	}
	if n > 1 {
		return o, errors.New("--sandbox, --vault and --name are mutually exclusive")
	}
	return o, nil
}

// RunCommand launches the host and keeps a vault open until interrupted.
type RunCommand struct {
	out     io.Writer
	confirm func(string) (bool, error)
}

func NewRunCommand(out io.Writer) *RunCommand {
	return &RunCommand{out: out, confirm: confirm}
}

func (cmd *RunCommand) Run(args []string) error {
	o, err := parseRunFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}

	opts := launcher.VaultOptions{
		Sandbox:       o.sandbox,
		Name:          o.name,
		Path:          o.vault,
		ForceRecreate: o.force,
	}
	if !o.noPlugins {
		opts.Plugins = fixture.FromSpecs(cfg.Plugins)
	}

	if o.force && !o.yes {
		target := o.vault
		switch {
		case o.sandbox:
			target = "the sandbox vault"
		case o.name != "":
			target = "vault " + o.name
		case target == "":
			target = cfg.Paths.VaultDir
		}
		ok, err := cmd.confirm(fmt.Sprintf("Delete %s and recreate it?", target))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.out, "Cancelled.")
			return nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := launcher.New(cfg, launcher.WithLogger(logging.FromEnv()))
	if err := l.Launch(ctx); err != nil {
		return err
	}
	defer l.Cleanup(context.Background())

	vc, err := l.OpenVault(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.out, "Vault %q open at %s\n", vc.Name, vc.Path)
	if len(vc.Enabled) > 0 {
		fmt.Fprintf(cmd.out, "Enabled plugins: %v\n", vc.Enabled)
	}
	fmt.Fprintln(cmd.out, "Press Ctrl-C to stop.")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !l.Running() {
				return errors.New("host exited")
			}
		}
	}
}
