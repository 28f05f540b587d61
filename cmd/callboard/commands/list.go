package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	dockerpkg "github.com/mquinn/callboard/internal/docker"
	"github.com/mquinn/callboard/internal/instance"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all Callboard instances",
	Long: `List all Callboard instances by querying Docker for labeled containers.

For each instance, displays:
  • Instance name
  • Status (Running/Degraded/Stopped)
  • Published Redis port
  • Uptime (for running instances)

Use --json for machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	infos, err := instance.ListInstances(ctx, cli)
	if err != nil {
		return err
	}

	if len(infos) == 0 {
		if listJSON {
			fmt.Println("[]")
		} else {
			fmt.Println("No Callboard instances found.")
			fmt.Println()
			fmt.Println("Run 'callboard up' to start a new instance.")
		}
		return nil
	}

	if listJSON {
		data, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%-15s %-10s %-8s %s\n", "INSTANCE", "STATUS", "REDIS", "UPTIME")
	for _, info := range infos {
		redisPort := "-"
		if info.RedisPort != 0 {
			redisPort = fmt.Sprintf("%d", info.RedisPort)
		}
		fmt.Printf("%-15s %-10s %-8s %s\n", info.Name, info.Status, redisPort, info.Uptime)
	}

	return nil
}
