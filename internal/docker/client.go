package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
)

// pingTimeout bounds the daemon probe so a wedged Docker socket fails fast
// instead of hanging the CLI.
const pingTimeout = 5 * time.Second

// NewClient connects to the local Docker daemon and verifies it responds.
// Every command that touches containers comes through here, so an unreachable
// daemon surfaces as one actionable error up front rather than as odd
// failures mid-operation.
func NewClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf(`Docker daemon not reachable: %w

Start Docker and retry:
  • macOS: open Docker Desktop
  • Linux: sudo systemctl start docker`, err)
	}

	return cli, nil
}
