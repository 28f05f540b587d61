package docker

import (
	"fmt"

	"github.com/google/uuid"
)

// Label keys used for Callboard resources
const (
	LabelProject       = "callboard.project"
	LabelInstanceName  = "callboard.instance.name"
	LabelInstanceRunID = "callboard.instance.run_id"
	LabelComponent     = "callboard.component"
	LabelRedisPort     = "callboard.redis.port"
)

// BuildLabels creates the standard label set for all Callboard resources.
// All parameters are required except component (which is resource-specific).
func BuildLabels(instanceName, runID, component string) map[string]string {
	labels := map[string]string{
		LabelProject:       "true",
		LabelInstanceName:  instanceName,
		LabelInstanceRunID: runID,
	}

	if component != "" {
		labels[LabelComponent] = component
	}

	return labels
}

// GenerateRunID creates a new UUID for an instance run.
// Each invocation of `callboard up` gets a unique run ID.
func GenerateRunID() string {
	return uuid.New().String()
}

// Resource naming conventions for Callboard components

// NetworkName returns the Docker network name for an instance
func NetworkName(instanceName string) string {
	return fmt.Sprintf("callboard-network-%s", instanceName)
}

// RedisContainerName returns the Redis container name for an instance
func RedisContainerName(instanceName string) string {
	return fmt.Sprintf("callboard-redis-%s", instanceName)
}

// OrchestratorContainerName returns the orchestrator container name for an instance
func OrchestratorContainerName(instanceName string) string {
	return fmt.Sprintf("callboard-orchestrator-%s", instanceName)
}

// WorkerContainerName returns the worker container name for an instance and worker
func WorkerContainerName(instanceName, workerName string) string {
	return fmt.Sprintf("callboard-worker-%s-%s", instanceName, workerName)
}
