package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/sergeknystautas/vaultdrive/internal/host"
	"github.com/sergeknystautas/vaultdrive/internal/launcher"
	"github.com/sergeknystautas/vaultdrive/internal/logging"
)

// checkTimeout bounds the whole check.
const checkTimeout = 2 * time.Minute

type checkReport struct {
	Version     string `json:"version"`
	Screen      string `json:"screen"`
	URL         string `json:"url"`
	SandboxPath string `json:"sandbox_path"`
	ProfileDir  string `json:"profile_dir"`
}

// CheckCommand launches the host once and reports what it sees.
type CheckCommand struct {
	out io.Writer
}

func NewCheckCommand(out io.Writer) *CheckCommand {
	return &CheckCommand{out: out}
}

func (cmd *CheckCommand) Run(args []string) error {
	var (
		configPath string
		jsonOutput bool
	)
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "c", "", "Run file")
	fs.StringVar(&configPath, "config", "", "Run file")
	fs.BoolVar(&jsonOutput, "json", false, "JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	l := launcher.New(cfg, launcher.WithLogger(logging.FromEnv()))
	if err := l.Launch(ctx); err != nil {
		return err
	}
	defer l.Cleanup(context.Background())

	w, err := l.EnsureSingleWindow(ctx)
	if err != nil {
		return err
	}
	r := checkReport{URL: w.URL(), Screen: host.ScreenOf(w.URL()).String(), ProfileDir: l.ProfileDir()}
	if r.Version, err = host.New(w).Version(ctx); err != nil {
		return fmt.Errorf("failed to read host version: %w", err)
	}
	if r.SandboxPath, err = l.Bridge().SandboxPath(ctx); err != nil {
		return err
	}
	return writeCheckReport(cmd.out, r, jsonOutput)
}

func writeCheckReport(out io.Writer, r checkReport, jsonOutput bool) error {
	if jsonOutput {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)
	}
	fmt.Fprintf(out, "Host version: %s\n", r.Version)
	fmt.Fprintf(out, "Screen:       %s (%s)\n", r.Screen, r.URL)
	fmt.Fprintf(out, "Sandbox:      %s\n", r.SandboxPath)
	fmt.Fprintf(out, "Profile:      %s\n", r.ProfileDir)
	return nil
}
