package instance

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	dockerpkg "github.com/mquinn/callboard/internal/docker"
)

// ListInstances queries Docker for all Callboard containers and aggregates
// them into per-instance summaries, sorted by instance name.
func ListInstances(ctx context.Context, cli *client.Client) ([]InstanceInfo, error) {
	filter := filters.NewArgs()
	filter.Add("label", fmt.Sprintf("%s=true", dockerpkg.LabelProject))

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	return SummarizeContainers(containers, time.Now()), nil
}

// SummarizeContainers groups containers by instance name label and builds one
// InstanceInfo per instance. Uptime is reported only for fully running
// instances, measured from the oldest container's creation time.
func SummarizeContainers(containers []types.Container, now time.Time) []InstanceInfo {
	grouped := make(map[string][]types.Container)
	for _, c := range containers {
		name := c.Labels[dockerpkg.LabelInstanceName]
		if name == "" {
			continue
		}
		grouped[name] = append(grouped[name], c)
	}

	infos := make([]InstanceInfo, 0, len(grouped))
	for name, group := range grouped {
		status := DetermineStatus(group)

		redisPort := 0
		oldest := int64(0)
		for _, c := range group {
			if c.Labels[dockerpkg.LabelComponent] == "redis" {
				if port, err := strconv.Atoi(c.Labels[dockerpkg.LabelRedisPort]); err == nil {
					redisPort = port
				}
			}
			if oldest == 0 || c.Created < oldest {
				oldest = c.Created
			}
		}

		uptime := "-"
		if status == StatusRunning {
			uptime = FormatUptime(now.Sub(time.Unix(oldest, 0)))
		}

		infos = append(infos, InstanceInfo{
			Name:      name,
			Status:    status,
			RedisPort: redisPort,
			Uptime:    uptime,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	return infos
}

// FormatUptime renders a duration compactly: "2h 5m", "5m 3s", or "42s".
func FormatUptime(d time.Duration) string {
	d = d.Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour

	minutes := d / time.Minute
	d -= minutes * time.Minute

	seconds := d / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// GetInstanceRedisPort retrieves the Redis port for the given instance from Docker labels.
// Returns an error if the Redis container is not found or the port label is missing.
func GetInstanceRedisPort(ctx context.Context, cli *client.Client, instanceName string) (int, error) {
	filter := filters.NewArgs()
	filter.Add("label", fmt.Sprintf("%s=%s", dockerpkg.LabelInstanceName, instanceName))
	filter.Add("label", fmt.Sprintf("%s=redis", dockerpkg.LabelComponent))

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filter,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	if len(containers) == 0 {
		return 0, fmt.Errorf("Redis container not found for instance '%s'", instanceName)
	}

	portStr, ok := containers[0].Labels[dockerpkg.LabelRedisPort]
	if !ok {
		return 0, fmt.Errorf("Redis port label missing for instance '%s'", instanceName)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid Redis port '%s': %w", portStr, err)
	}

	return port, nil
}

// GetRedisURL builds the URL a CLI process uses to reach an instance's Redis
// through its published host port. Inside a container (the /.dockerenv
// marker) the host's ports are reached via host.docker.internal; otherwise
// plain localhost.
func GetRedisURL(port int) string {
	host := "localhost"
	if _, err := os.Stat("/.dockerenv"); err == nil {
		host = "host.docker.internal"
	}
	return fmt.Sprintf("redis://%s:%d", host, port)
}

// VerifyInstanceRunning checks if the given instance's containers are running.
// Returns an error if any required container (Redis, orchestrator) is not running.
// Note: worker containers may exit after completing work and are not checked.
func VerifyInstanceRunning(ctx context.Context, cli *client.Client, instanceName string) error {
	filter := filters.NewArgs()
	filter.Add("label", fmt.Sprintf("%s=%s", dockerpkg.LabelInstanceName, instanceName))

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filter,
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	if len(containers) == 0 {
		return fmt.Errorf("instance '%s' not found", instanceName)
	}

	essentialComponents := map[string]bool{
		"redis":        false,
		"orchestrator": false,
	}

	for _, c := range containers {
		component := c.Labels[dockerpkg.LabelComponent]

		if _, isEssential := essentialComponents[component]; isEssential {
			essentialComponents[component] = true
			if c.State != "running" {
				return fmt.Errorf("instance '%s' is not running (component '%s' is %s)", instanceName, component, c.State)
			}
		}
	}

	for component, found := range essentialComponents {
		if !found {
			return fmt.Errorf("instance '%s' is missing essential component '%s'", instanceName, component)
		}
	}

	return nil
}
