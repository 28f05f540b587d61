package instance

import (
	"github.com/docker/docker/api/types"
)

// Status classifies an instance by the state of its containers.
type Status string

const (
	StatusRunning  Status = "Running"  // every container is up
	StatusDegraded Status = "Degraded" // some containers up, some not
	StatusStopped  Status = "Stopped"  // nothing running
)

// DetermineStatus reduces an instance's containers to a single status.
// An instance with no containers at all reads as Stopped.
func DetermineStatus(containers []types.Container) Status {
	running := 0
	for _, c := range containers {
		if c.State == "running" {
			running++
		}
	}

	switch {
	case running == 0:
		return StatusStopped
	case running == len(containers):
		return StatusRunning
	default:
		return StatusDegraded
	}
}

// InstanceInfo is one row of `callboard list`.
type InstanceInfo struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	RedisPort int    `json:"redis_port"`
	Uptime    string `json:"uptime"`
}
