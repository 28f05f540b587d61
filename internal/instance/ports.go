package instance

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	dockerpkg "github.com/mquinn/callboard/internal/docker"
)

// Each instance publishes its Redis on one host port out of a fixed range,
// so up to 100 instances can share a machine.
const (
	startPort = 6379
	endPort   = 6478
)

// FindNextAvailablePort picks the lowest free Redis port. A port counts as
// taken when a callboard Redis container has claimed it by label, or when
// something else on the host already holds it.
func FindNextAvailablePort(ctx context.Context, cli *client.Client) (int, error) {
	claimed, err := claimedRedisPorts(ctx, cli)
	if err != nil {
		return 0, err
	}

	for port := startPort; port <= endPort; port++ {
		if claimed[port] {
			continue
		}
		if isPortBindable(port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available Redis ports (range %d-%d exhausted)", startPort, endPort)
}

// claimedRedisPorts reads the port label off every callboard Redis container,
// stopped ones included: a stopped instance keeps its port.
func claimedRedisPorts(ctx context.Context, cli *client.Client) (map[int]bool, error) {
	filter := filters.NewArgs()
	filter.Add("label", fmt.Sprintf("%s=true", dockerpkg.LabelProject))
	filter.Add("label", fmt.Sprintf("%s=redis", dockerpkg.LabelComponent))

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Docker containers: %w", err)
	}

	claimed := make(map[int]bool, len(containers))
	for _, c := range containers {
		if port, err := strconv.Atoi(c.Labels[dockerpkg.LabelRedisPort]); err == nil {
			claimed[port] = true
		}
	}

	return claimed, nil
}

// isPortBindable probes whether the host will let us bind the port right now.
func isPortBindable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}
