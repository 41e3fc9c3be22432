package main

import (
	"fmt"
	"os"

	"github.com/sergeknystautas/vaultdrive/internal/config"
	"github.com/sergeknystautas/vaultdrive/internal/schema"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// EnvConfig names the run file used when -c is not given.
const EnvConfig = "VAULTDRIVE_CONFIG"

// defaultConfigFile is looked up in the working directory last.
const defaultConfigFile = "vaultdrive.yaml"

// resolveConfigPath picks the run file: the flag, then the environment,
// then vaultdrive.yaml in the working directory.
func resolveConfigPath(flagValue string, getenv func(string) string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := getenv(EnvConfig); v != "" {
		return v
	}
	return defaultConfigFile
}

func loadConfig(flagValue string) (*config.Config, error) {
	return config.Load(resolveConfigPath(flagValue, os.Getenv))
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "run":
		cmd := NewRunCommand(os.Stdout)
		if err := cmd.Run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "check":
		cmd := NewCheckCommand(os.Stdout)
		if err := cmd.Run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "install":
		cmd := NewInstallCommand(os.Stdout)
		if err := cmd.Run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case "schema":
		s, err := schema.Get(schema.LabelRunFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(s)

	case "version", "-v", "--version":
		fmt.Printf("vaultdrive %s\n", version)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("vaultdrive - drive an Obsidian host for end-to-end tests")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  vaultdrive <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run       Launch the host, open a vault with the run file's plugins, wait for Ctrl-C")
	fmt.Println("  check     Launch the host, report its version and sandbox path, then stop")
	fmt.Println("  install   Stage the run file's plugins into a vault without launching")
	fmt.Println("  schema    Print the JSON schema of the run file")
	fmt.Println("  version   Show version")
	fmt.Println("  help      Show this help message")
	fmt.Println()
	fmt.Println("The run file is taken from -c, then $" + EnvConfig + ", then ./" + defaultConfigFile + ".")
	fmt.Println("Log level comes from $VAULTDRIVE_LOG_LEVEL (debug|info|warn|error).")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  vaultdrive run --sandbox                 # Open the sandbox vault")
	fmt.Println("  vaultdrive run --vault ./fixtures/notes  # Open a vault directory")
	fmt.Println("  vaultdrive run --vault /tmp/v --force    # Recreate the vault first")
	fmt.Println("  vaultdrive install ./fixtures/notes      # Stage plugins only")
}
