// ABOUTME: The shard subcommand computes which shard owns a guild
// ABOUTME: Prints the index/count pair sent in the identify payload

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/2389/gatewaykit/internal/shard"
)

func shardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shard <guild-id> <count>",
		Short: "Print the shard that receives a guild's events",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			guildID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parsing guild id %q: %w", args[0], err)
			}
			count, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parsing shard count %q: %w", args[1], err)
			}

			a, err := shard.For(guildID, count)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.String())
			return nil
		},
	}
}
