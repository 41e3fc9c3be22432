package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/sergeknystautas/vaultdrive/internal/fixture"
	"github.com/sergeknystautas/vaultdrive/internal/logging"
)

// InstallCommand stages the run file's plugins into a vault directory.
type InstallCommand struct {
	out io.Writer
}

func NewInstallCommand(out io.Writer) *InstallCommand {
	return &InstallCommand{out: out}
}

func (cmd *InstallCommand) Run(args []string) error {
	var (
		configPath string
		mode       string
	)
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	fs.StringVar(&configPath, "c", "", "Run file")
	fs.StringVar(&configPath, "config", "", "Run file")
	fs.StringVar(&mode, "mode", "", "Override every plugin's mode (copy or link)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	vault := cfg.Paths.VaultDir
	if fs.NArg() > 0 {
		vault = fs.Arg(0)
	}
	if vault == "" {
		return fmt.Errorf("usage: vaultdrive install [-c run.yaml] <vault>")
	}

	plugins := fixture.FromSpecs(cfg.Plugins)
	if mode != "" {
		if mode != string(fixture.ModeCopy) && mode != string(fixture.ModeLink) {
			return fmt.Errorf("unknown mode %q (want copy or link)", mode)
		}
		for i := range plugins {
			plugins[i].Mode = fixture.Mode(mode)
		}
	}

	inst := fixture.NewInstaller(cfg, logging.FromEnv().WithPrefix("fixture"))
	ids, err := inst.Install(vault, plugins)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.out, "No plugins installed.")
		return nil
	}
	fmt.Fprintf(cmd.out, "Installed %d plugin(s) into %s:\n", len(ids), vault)
	for _, id := range ids {
		fmt.Fprintf(cmd.out, "  %s\n", id)
	}
	return nil
}
