package commands

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	dockerpkg "github.com/mquinn/callboard/internal/docker"
	"github.com/mquinn/callboard/internal/instance"
	"github.com/mquinn/callboard/internal/printer"
	"github.com/mquinn/callboard/pkg/blackboard"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "callboard",
	Short: "Callboard - Orchestration substrate for autonomous generation workers",
	Long: `Callboard coordinates fleets of autonomous generation workers through a
durable event bus, a versioned record store, and a persistent priority queue,
all backed by Redis.

The orchestrator maps pipeline events to worker tasks, enforces budgets and
human approval gates, and keeps a replayable causation history of everything
that happened.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// resolveInstanceName resolves the target instance: an explicit --name wins;
// otherwise the sole existing instance is used. Zero or multiple instances
// without --name is an error.
func resolveInstanceName(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return "", err
	}
	defer cli.Close()

	infos, err := instance.ListInstances(ctx, cli)
	if err != nil {
		return "", err
	}

	switch len(infos) {
	case 0:
		return "", printer.Error(
			"no Callboard instances found",
			"No instances are currently running.",
			[]string{"Start an instance first:\n  callboard up"},
		)
	case 1:
		return infos[0].Name, nil
	default:
		names := make([]string, len(infos))
		for i, info := range infos {
			names[i] = info.Name
		}
		return "", printer.Error(
			"multiple instances found",
			fmt.Sprintf("Found %d instances: %v", len(infos), names),
			[]string{
				"Specify which instance with --name <instance-name>",
				"List instances:\n  callboard list",
			},
		)
	}
}

// connectInstance resolves an instance, verifies it is running, and opens a
// blackboard client against its published Redis port. Caller must Close() the
// returned client.
func connectInstance(ctx context.Context, explicitName string) (*blackboard.Client, string, error) {
	instanceName, err := resolveInstanceName(ctx, explicitName)
	if err != nil {
		return nil, "", err
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return nil, "", err
	}
	defer cli.Close()

	if err := instance.VerifyInstanceRunning(ctx, cli, instanceName); err != nil {
		return nil, "", printer.Error(
			fmt.Sprintf("instance '%s' is not running", instanceName),
			fmt.Sprintf("Error: %v", err),
			[]string{
				fmt.Sprintf("Start the instance:\n  callboard up --name %s", instanceName),
				fmt.Sprintf("Or if stuck, restart:\n  callboard down --name %s\n  callboard up --name %s", instanceName, instanceName),
			},
		)
	}

	redisPort, err := instance.GetInstanceRedisPort(ctx, cli, instanceName)
	if err != nil {
		return nil, "", printer.Error(
			"Redis port not found",
			fmt.Sprintf("Instance '%s' exists but its Redis port label is missing.", instanceName),
			[]string{
				fmt.Sprintf("Restart the instance:\n  callboard down --name %s\n  callboard up --name %s", instanceName, instanceName),
			},
		)
	}

	redisURL := instance.GetRedisURL(redisPort)
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	bbClient, err := blackboard.NewClient(redisOpts, instanceName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create blackboard client: %w", err)
	}

	if err := bbClient.Ping(ctx); err != nil {
		bbClient.Close()
		return nil, "", printer.Error(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			[]string{
				fmt.Sprintf("Check Redis container status:\n  docker logs %s", dockerpkg.RedisContainerName(instanceName)),
				fmt.Sprintf("Restart if needed:\n  callboard down --name %s\n  callboard up --name %s", instanceName, instanceName),
			},
		)
	}

	return bbClient, instanceName, nil
}
