package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkers() map[string]Worker {
	return map[string]Worker{
		"script-agent": {TaskTypes: []string{"script.draft"}},
		"video-agent":  {TaskTypes: []string{"video.render", "video.upscale"}},
	}
}

func validMappings() []TaskMapping {
	return []TaskMapping{
		{Event: "project.created", TaskType: "script.draft", AssignedTo: "script-agent", Priority: 10},
		{
			Event:         "storyboard.ready",
			TaskType:      "video.render",
			AssignedTo:    "video-agent",
			Priority:      5,
			RequiresLock:  true,
			LockResource:  "render-farm",
			EstimatedCost: 2.5,
		},
	}
}

func validConfig() *CallboardConfig {
	return &CallboardConfig{
		Version:  "1.0",
		Workers:  validWorkers(),
		Mappings: validMappings(),
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "callboard.yml")

	validYAML := `version: "1.0"
budget:
  default_total: 100
  approval_cost_threshold: 25
workers:
  script-agent:
    task_types: ["script.draft"]
  video-agent:
    task_types: ["video.render"]
mappings:
  - event: "project.created"
    task_type: "script.draft"
    assigned_to: "script-agent"
    priority: 10
  - event: "storyboard.ready"
    task_type: "video.render"
    assigned_to: "video-agent"
    priority: 5
    requires_lock: true
    lock_resource: "render-farm"
    estimated_cost: 2.5
`
	err := os.WriteFile(configPath, []byte(validYAML), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.NotNil(t, config)
	assert.Equal(t, "1.0", config.Version)
	assert.Len(t, config.Workers, 2)
	assert.Equal(t, []string{"script.draft"}, config.Workers["script-agent"].TaskTypes)
	assert.Len(t, config.Mappings, 2)
	assert.Equal(t, 100.0, config.Budget.DefaultTotal)
	assert.Equal(t, 25.0, config.Budget.ApprovalCostThreshold)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/callboard.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "callboard.yml")

	invalidYAML := `version: "1.0"
workers:
  - this is invalid
    yaml syntax
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	config := validConfig()
	config.Version = "2.0"

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version: 2.0")
}

func TestValidate_NoWorkers(t *testing.T) {
	config := validConfig()
	config.Workers = nil

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no workers defined")
}

func TestValidate_WorkerWithoutTaskTypes(t *testing.T) {
	config := validConfig()
	config.Workers["idle-agent"] = Worker{}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "task_types is required")
}

func TestValidate_DuplicateTaskTypeOwnership(t *testing.T) {
	config := validConfig()
	config.Workers["other-agent"] = Worker{TaskTypes: []string{"script.draft"}}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one worker")
}

func TestValidate_NoMappings(t *testing.T) {
	config := validConfig()
	config.Mappings = nil

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no mappings defined")
}

func TestValidate_Mappings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TaskMapping)
		wantErr string
	}{
		{
			name:    "unknown event type",
			mutate:  func(m *TaskMapping) { m.Event = "project.invented" },
			wantErr: "unknown event type",
		},
		{
			name:    "missing task type",
			mutate:  func(m *TaskMapping) { m.TaskType = "" },
			wantErr: "task_type is required",
		},
		{
			name:    "unknown worker",
			mutate:  func(m *TaskMapping) { m.AssignedTo = "ghost-agent" },
			wantErr: "unknown worker",
		},
		{
			name: "worker does not handle the task type",
			mutate: func(m *TaskMapping) {
				m.AssignedTo = "video-agent"
			},
			wantErr: "does not handle task type",
		},
		{
			name:    "negative priority",
			mutate:  func(m *TaskMapping) { m.Priority = -1 },
			wantErr: "priority must be >= 0",
		},
		{
			name:    "requires_lock without lock_resource",
			mutate:  func(m *TaskMapping) { m.RequiresLock = true },
			wantErr: "lock_resource is required",
		},
		{
			name:    "lock_resource without requires_lock",
			mutate:  func(m *TaskMapping) { m.LockResource = "render-farm" },
			wantErr: "requires_lock is false",
		},
		{
			name:    "negative estimated cost",
			mutate:  func(m *TaskMapping) { m.EstimatedCost = -0.5 },
			wantErr: "estimated_cost must be >= 0",
		},
		{
			name:    "empty input field",
			mutate:  func(m *TaskMapping) { m.InputFields = []string{"title", ""} },
			wantErr: "input_fields[1] must be non-empty",
		},
		{
			name:    "duplicate input field",
			mutate:  func(m *TaskMapping) { m.InputFields = []string{"title", "title"} },
			wantErr: "duplicate input field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config.Mappings[0])

			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DuplicateMapping(t *testing.T) {
	config := validConfig()
	config.Mappings = append(config.Mappings, config.Mappings[0])

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate mapping")
}

func TestValidate_AppliesDefaults(t *testing.T) {
	config := validConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, 5, *config.Orchestrator.SchedulerTickSeconds)
	assert.Equal(t, 30, *config.Orchestrator.TaskTimeoutMinutes)
	assert.Equal(t, 60, *config.Orchestrator.ApprovalTimeoutMinutes)
	assert.Equal(t, "USD", config.Budget.Currency)

	for _, mapping := range config.Mappings {
		require.NotNil(t, mapping.MaxRetries)
		assert.Equal(t, 3, *mapping.MaxRetries)
	}
}

func TestValidate_KeepsExplicitSettings(t *testing.T) {
	tick := 2
	retries := 0
	config := validConfig()
	config.Orchestrator = &OrchestratorConfig{SchedulerTickSeconds: &tick}
	config.Mappings[0].MaxRetries = &retries

	require.NoError(t, config.Validate())

	assert.Equal(t, 2, *config.Orchestrator.SchedulerTickSeconds)
	assert.Equal(t, 0, *config.Mappings[0].MaxRetries)
	assert.Equal(t, 30, *config.Orchestrator.TaskTimeoutMinutes)
}

func TestValidate_RejectsBadTimings(t *testing.T) {
	zero := 0
	config := validConfig()
	config.Orchestrator = &OrchestratorConfig{TaskTimeoutMinutes: &zero}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "task_timeout_minutes must be >= 1")
}

func TestMappingsForEvent(t *testing.T) {
	config := validConfig()
	require.NoError(t, config.Validate())

	matched := config.MappingsForEvent("project.created")
	require.Len(t, matched, 1)
	assert.Equal(t, "script.draft", matched[0].TaskType)

	assert.Empty(t, config.MappingsForEvent("qa.passed"))
}
