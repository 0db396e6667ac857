// ABOUTME: Entry point for the gatewaykit command line client
// ABOUTME: Wires cobra subcommands for tailing the gateway, shard math, and version info

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

const banner = `
             _                           _    _ _
  __ _  __ _| |_ _____      ____ _ _   _| | _(_) |_
 / _' |/ _' | __/ _ \ \ /\ / / _' | | | | |/ / | __|
| (_| | (_| | ||  __/\ V  V / (_| | |_| |   <| | |_
 \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |_|\_\_|\__|
 |___/                             |___/
`

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gatewaykit",
		Short: "Client for the real-time gateway event stream",
		Long: `gatewaykit connects to the gateway websocket, performs the handshake,
keeps the session alive with heartbeats, and streams decoded events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		tailCmd(),
		shardCmd(),
		versionCmd(),
	)
	return root
}

func printBanner() {
	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)
}

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version)
				return
			}
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", commit)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	return cmd
}
