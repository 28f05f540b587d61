package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mquinn/callboard/pkg/blackboard"
)

// OrchestratorConfig specifies orchestrator timing behavior
type OrchestratorConfig struct {
	SchedulerTickSeconds   *int `yaml:"scheduler_tick_seconds,omitempty"`   // How often the scheduler drains the queue (default: 5)
	TaskTimeoutMinutes     *int `yaml:"task_timeout_minutes,omitempty"`     // RUNNING tasks older than this are failed (default: 30)
	ApprovalTimeoutMinutes *int `yaml:"approval_timeout_minutes,omitempty"` // Pending approvals older than this time out (default: 60)
}

// BudgetConfig specifies budget defaults for new projects
type BudgetConfig struct {
	DefaultTotal          float64 `yaml:"default_total"`                     // Initial budget written to a new project's record
	Currency              string  `yaml:"currency,omitempty"`                // Default: USD
	ApprovalCostThreshold float64 `yaml:"approval_cost_threshold,omitempty"` // Tasks estimated above this need human approval (0 = never)
}

// CallboardConfig represents the top-level callboard.yml configuration
type CallboardConfig struct {
	Version      string              `yaml:"version"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Budget       *BudgetConfig       `yaml:"budget,omitempty"`
	Workers      map[string]Worker   `yaml:"workers"`
	Mappings     []TaskMapping       `yaml:"mappings"`
	Services     *ServicesConfig     `yaml:"services,omitempty"`
}

// Worker represents a single worker configuration
type Worker struct {
	TaskTypes   []string `yaml:"task_types"`            // Required: task types this worker executes
	Image       string   `yaml:"image,omitempty"`       // Docker image, when callboard manages the container
	Command     []string `yaml:"command,omitempty"`     // Container command override
	Environment []string `yaml:"environment,omitempty"` // Extra container environment
}

// TaskMapping maps a triggering event type to a task template
type TaskMapping struct {
	Event         string   `yaml:"event"`      // Required: triggering event type
	TaskType      string   `yaml:"task_type"`  // Required: type of the created task
	AssignedTo    string   `yaml:"assigned_to"` // Required: worker name
	Priority      int      `yaml:"priority"`
	InputFields   []string `yaml:"input_fields,omitempty"` // Payload keys copied to the task input; empty = whole payload
	RequiresLock  bool     `yaml:"requires_lock,omitempty"`
	LockResource  string   `yaml:"lock_resource,omitempty"` // Required when requires_lock is set
	EstimatedCost float64  `yaml:"estimated_cost,omitempty"`
	MaxRetries    *int     `yaml:"max_retries,omitempty"` // Default: 3
}

// ServicesConfig specifies service-level overrides
type ServicesConfig struct {
	Orchestrator *ServiceOverride `yaml:"orchestrator,omitempty"`
	Redis        *ServiceOverride `yaml:"redis,omitempty"`
}

// ServiceOverride allows overriding default service images
type ServiceOverride struct {
	Image string `yaml:"image,omitempty"`
}

// SchedulerTick returns the scheduler interval as a duration.
func (c *CallboardConfig) SchedulerTick() time.Duration {
	return time.Duration(*c.Orchestrator.SchedulerTickSeconds) * time.Second
}

// TaskTimeout returns the RUNNING-task deadline as a duration.
func (c *CallboardConfig) TaskTimeout() time.Duration {
	return time.Duration(*c.Orchestrator.TaskTimeoutMinutes) * time.Minute
}

// ApprovalTimeoutMinutes returns the approval deadline in minutes, the unit
// approval requests are stored with.
func (c *CallboardConfig) ApprovalTimeoutMinutes() int {
	return *c.Orchestrator.ApprovalTimeoutMinutes
}

// MappingsForEvent returns the task mappings triggered by the given event type,
// in declaration order.
func (c *CallboardConfig) MappingsForEvent(eventType blackboard.EventType) []TaskMapping {
	var matched []TaskMapping
	for _, mapping := range c.Mappings {
		if mapping.Event == string(eventType) {
			matched = append(matched, mapping)
		}
	}
	return matched
}

// Validate performs strict validation on the configuration and applies
// defaults in place.
func (c *CallboardConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: at least one worker
	if len(c.Workers) == 0 {
		return fmt.Errorf("no workers defined")
	}

	for name, worker := range c.Workers {
		if err := worker.Validate(name); err != nil {
			return err
		}
	}

	// Enforce unique task type ownership: one worker per task type
	typeOwners := make(map[string]string) // taskType → workerName
	for workerName, worker := range c.Workers {
		for _, taskType := range worker.TaskTypes {
			if owner, exists := typeOwners[taskType]; exists {
				return fmt.Errorf("task type '%s' claimed by both '%s' and '%s': each task type must have exactly one worker",
					taskType, owner, workerName)
			}
			typeOwners[taskType] = workerName
		}
	}

	// Required: at least one mapping, each referencing a known worker
	if len(c.Mappings) == 0 {
		return fmt.Errorf("no mappings defined")
	}

	seen := make(map[string]bool) // event+task_type pairs
	for i := range c.Mappings {
		mapping := &c.Mappings[i]
		if err := mapping.Validate(i, c.Workers); err != nil {
			return err
		}

		pair := mapping.Event + "/" + mapping.TaskType
		if seen[pair] {
			return fmt.Errorf("mapping %d: duplicate mapping for event '%s' and task type '%s'", i, mapping.Event, mapping.TaskType)
		}
		seen[pair] = true
	}

	// Apply orchestrator defaults
	if c.Orchestrator == nil {
		c.Orchestrator = &OrchestratorConfig{}
	}
	if c.Orchestrator.SchedulerTickSeconds == nil {
		defaultTick := 5
		c.Orchestrator.SchedulerTickSeconds = &defaultTick
	}
	if c.Orchestrator.TaskTimeoutMinutes == nil {
		defaultTimeout := 30
		c.Orchestrator.TaskTimeoutMinutes = &defaultTimeout
	}
	if c.Orchestrator.ApprovalTimeoutMinutes == nil {
		defaultApproval := 60
		c.Orchestrator.ApprovalTimeoutMinutes = &defaultApproval
	}

	if *c.Orchestrator.SchedulerTickSeconds < 1 {
		return fmt.Errorf("orchestrator.scheduler_tick_seconds must be >= 1, got %d", *c.Orchestrator.SchedulerTickSeconds)
	}
	if *c.Orchestrator.TaskTimeoutMinutes < 1 {
		return fmt.Errorf("orchestrator.task_timeout_minutes must be >= 1, got %d", *c.Orchestrator.TaskTimeoutMinutes)
	}
	if *c.Orchestrator.ApprovalTimeoutMinutes < 1 {
		return fmt.Errorf("orchestrator.approval_timeout_minutes must be >= 1, got %d", *c.Orchestrator.ApprovalTimeoutMinutes)
	}

	// Apply budget defaults
	if c.Budget == nil {
		c.Budget = &BudgetConfig{}
	}
	if c.Budget.Currency == "" {
		c.Budget.Currency = "USD"
	}
	if c.Budget.DefaultTotal < 0 {
		return fmt.Errorf("budget.default_total must be >= 0, got %v", c.Budget.DefaultTotal)
	}
	if c.Budget.ApprovalCostThreshold < 0 {
		return fmt.Errorf("budget.approval_cost_threshold must be >= 0, got %v", c.Budget.ApprovalCostThreshold)
	}

	return nil
}

// Validate performs validation on a single worker configuration
func (w *Worker) Validate(name string) error {
	if len(w.TaskTypes) == 0 {
		return fmt.Errorf("worker '%s': task_types is required", name)
	}

	for _, taskType := range w.TaskTypes {
		if taskType == "" {
			return fmt.Errorf("worker '%s': task_types entries must be non-empty", name)
		}
	}

	return nil
}

// Validate performs validation on a single task mapping
func (m *TaskMapping) Validate(index int, workers map[string]Worker) error {
	if m.Event == "" {
		return fmt.Errorf("mapping %d: event is required", index)
	}
	if err := blackboard.EventType(m.Event).Validate(); err != nil {
		return fmt.Errorf("mapping %d: %w", index, err)
	}

	if m.TaskType == "" {
		return fmt.Errorf("mapping %d: task_type is required", index)
	}

	if m.AssignedTo == "" {
		return fmt.Errorf("mapping %d: assigned_to is required", index)
	}
	worker, exists := workers[m.AssignedTo]
	if !exists {
		return fmt.Errorf("mapping %d: assigned_to references unknown worker '%s'", index, m.AssignedTo)
	}

	handled := false
	for _, taskType := range worker.TaskTypes {
		if taskType == m.TaskType {
			handled = true
			break
		}
	}
	if !handled {
		return fmt.Errorf("mapping %d: worker '%s' does not handle task type '%s'", index, m.AssignedTo, m.TaskType)
	}

	if m.Priority < 0 {
		return fmt.Errorf("mapping %d: priority must be >= 0, got %d", index, m.Priority)
	}

	seenFields := make(map[string]bool)
	for j, field := range m.InputFields {
		if field == "" {
			return fmt.Errorf("mapping %d: input_fields[%d] must be non-empty", index, j)
		}
		if seenFields[field] {
			return fmt.Errorf("mapping %d: duplicate input field '%s'", index, field)
		}
		seenFields[field] = true
	}

	if m.RequiresLock && m.LockResource == "" {
		return fmt.Errorf("mapping %d: lock_resource is required when requires_lock is set", index)
	}
	if !m.RequiresLock && m.LockResource != "" {
		return fmt.Errorf("mapping %d: lock_resource is set but requires_lock is false", index)
	}

	if m.EstimatedCost < 0 {
		return fmt.Errorf("mapping %d: estimated_cost must be >= 0, got %v", index, m.EstimatedCost)
	}

	// Default max_retries if not specified
	if m.MaxRetries == nil {
		defaultRetries := 3
		m.MaxRetries = &defaultRetries
	}
	if *m.MaxRetries < 0 {
		return fmt.Errorf("mapping %d: max_retries must be >= 0, got %d", index, *m.MaxRetries)
	}

	return nil
}

// Load reads and validates callboard.yml from the specified path
func Load(path string) (*CallboardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config CallboardConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
