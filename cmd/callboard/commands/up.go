package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/spf13/cobra"

	"github.com/mquinn/callboard/internal/config"
	dockerpkg "github.com/mquinn/callboard/internal/docker"
	"github.com/mquinn/callboard/internal/instance"
	"github.com/mquinn/callboard/internal/printer"
)

var upInstanceName string

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a Callboard instance",
	Long: `Start a new Callboard instance from the callboard.yml in the current directory.

Creates and starts:
  • Isolated Docker network
  • Redis container (blackboard storage)
  • Orchestrator container (event mapper + scheduler)

The instance name is auto-generated (default-N) unless specified with --name.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringVar(&upInstanceName, "name", "", "Instance name (auto-generated if omitted)")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Phase 1: Configuration validation
	cfg, err := config.Load("callboard.yml")
	if err != nil {
		return fmt.Errorf(`callboard.yml not found or invalid

No configuration file found in the current directory.

Initialize your project first:
  callboard init

Then retry: callboard up

Error details: %w`, err)
	}

	configPath, err := filepath.Abs("callboard.yml")
	if err != nil {
		return fmt.Errorf("failed to resolve callboard.yml path: %w", err)
	}

	// Create Docker client
	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	// Phase 2: Instance name determination
	targetInstanceName := upInstanceName
	if targetInstanceName == "" {
		targetInstanceName, err = instance.GenerateDefaultName(ctx, cli)
		if err != nil {
			return fmt.Errorf("failed to generate instance name: %w", err)
		}
	}

	if err := instance.ValidateName(targetInstanceName); err != nil {
		return err
	}

	nameCollision, err := instance.CheckNameCollision(ctx, cli, targetInstanceName)
	if err != nil {
		return err
	}
	if nameCollision {
		return fmt.Errorf(`instance '%s' already exists

Found existing containers with this instance name.

Either:
  1. Stop the existing instance: callboard down --name %s
  2. Choose a different name: callboard up --name other-name`, targetInstanceName, targetInstanceName)
	}

	// Phase 3: Resource creation
	runID := dockerpkg.GenerateRunID()
	if err := createInstance(ctx, cli, cfg, targetInstanceName, runID, configPath); err != nil {
		// Attempt rollback on failure
		printer.Warning("\nResource creation failed. Rolling back...\n")
		if rollbackErr := rollbackInstance(ctx, cli, targetInstanceName); rollbackErr != nil {
			printer.Warning("rollback encountered errors: %v\n", rollbackErr)
		}
		return fmt.Errorf("failed to create instance: %w", err)
	}

	printUpSuccess(targetInstanceName)

	return nil
}

func createInstance(ctx context.Context, cli *client.Client, cfg *config.CallboardConfig, instanceName, runID, configPath string) error {
	// Step 1: Allocate Redis port
	redisPort, err := instance.FindNextAvailablePort(ctx, cli)
	if err != nil {
		return fmt.Errorf("failed to allocate Redis port: %w", err)
	}

	printer.Success("Allocated Redis port: %d\n", redisPort)

	// Step 2: Create isolated network
	networkName := dockerpkg.NetworkName(instanceName)
	networkLabels := dockerpkg.BuildLabels(instanceName, runID, "")

	_, err = cli.NetworkCreate(ctx, networkName, types.NetworkCreate{
		Driver: "bridge",
		Labels: networkLabels,
	})
	if err != nil {
		return fmt.Errorf("failed to create network '%s': %w", networkName, err)
	}

	printer.Success("Created network: %s\n", networkName)

	// Step 3: Start Redis container with port mapping
	redisImage := "redis:7-alpine"
	if cfg.Services != nil && cfg.Services.Redis != nil && cfg.Services.Redis.Image != "" {
		redisImage = cfg.Services.Redis.Image
	}

	redisName := dockerpkg.RedisContainerName(instanceName)
	redisLabels := dockerpkg.BuildLabels(instanceName, runID, "redis")
	redisLabels[dockerpkg.LabelRedisPort] = fmt.Sprintf("%d", redisPort)

	redisResp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:  redisImage,
		Labels: redisLabels,
		ExposedPorts: nat.PortSet{
			"6379/tcp": struct{}{},
		},
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(networkName),
		PortBindings: nat.PortMap{
			"6379/tcp": []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: fmt.Sprintf("%d", redisPort),
				},
			},
		},
	}, nil, nil, redisName)
	if err != nil {
		return fmt.Errorf("failed to create Redis container: %w", err)
	}

	if err := cli.ContainerStart(ctx, redisResp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start Redis container: %w", err)
	}

	printer.Success("Started Redis container: %s (port %d)\n", redisName, redisPort)

	// Step 4: Start orchestrator container
	orchestratorImage := "callboard/orchestrator:latest"
	if cfg.Services != nil && cfg.Services.Orchestrator != nil && cfg.Services.Orchestrator.Image != "" {
		orchestratorImage = cfg.Services.Orchestrator.Image
	}

	orchestratorName := dockerpkg.OrchestratorContainerName(instanceName)
	orchestratorLabels := dockerpkg.BuildLabels(instanceName, runID, "orchestrator")

	// Use Redis container name as hostname (Docker DNS)
	redisURL := fmt.Sprintf("redis://%s:6379", redisName)

	orchestratorResp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:  orchestratorImage,
		Labels: orchestratorLabels,
		Env: []string{
			fmt.Sprintf("CALLBOARD_INSTANCE_NAME=%s", instanceName),
			fmt.Sprintf("REDIS_URL=%s", redisURL),
			"CALLBOARD_CONFIG=/etc/callboard/callboard.yml",
		},
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(networkName),
		Binds: []string{
			fmt.Sprintf("%s:/etc/callboard/callboard.yml:ro", configPath),
		},
	}, nil, nil, orchestratorName)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator container: %w", err)
	}

	if err := cli.ContainerStart(ctx, orchestratorResp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start orchestrator container: %w", err)
	}

	printer.Success("Started orchestrator container: %s\n", orchestratorName)

	return nil
}

func rollbackInstance(ctx context.Context, cli *client.Client, instanceName string) error {
	timeout := 10

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", fmt.Sprintf("%s=%s", dockerpkg.LabelInstanceName, instanceName)),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	for _, c := range containers {
		printer.Step("Stopping %s...\n", c.Names[0])
		_ = cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout})

		printer.Step("Removing %s...\n", c.Names[0])
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			printer.Warning("failed to remove %s: %v\n", c.Names[0], err)
		}
	}

	networks, err := cli.NetworkList(ctx, types.NetworkListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", fmt.Sprintf("%s=%s", dockerpkg.LabelInstanceName, instanceName)),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}

	for _, net := range networks {
		printer.Step("Removing network %s...\n", net.Name)
		if err := cli.NetworkRemove(ctx, net.ID); err != nil {
			printer.Warning("failed to remove network %s: %v\n", net.Name, err)
		}
	}

	return nil
}

func printUpSuccess(instanceName string) {
	printer.Success("\nInstance '%s' started successfully\n\n", instanceName)
	printer.Info("Containers:\n")
	printer.Info("  • %s (running)\n", dockerpkg.RedisContainerName(instanceName))
	printer.Info("  • %s (running)\n", dockerpkg.OrchestratorContainerName(instanceName))
	printer.Info("\n")
	printer.Info("Network:\n")
	printer.Info("  • %s\n", dockerpkg.NetworkName(instanceName))
	printer.Info("\n")
	printer.Info("Next steps:\n")
	printer.Info("  1. Run 'callboard watch' to follow the event stream\n")
	printer.Info("  2. Run 'callboard list' to view all instances\n")
	printer.Info("  3. Run 'callboard down --name %s' when finished\n", instanceName)
}
