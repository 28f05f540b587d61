package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mquinn/callboard/internal/config"
	"github.com/mquinn/callboard/internal/printer"
)

var forceInit bool

const configTemplate = `version: "1.0"

orchestrator:
  scheduler_tick_seconds: 5
  task_timeout_minutes: 30
  approval_timeout_minutes: 60

budget:
  default_total: 100.0
  currency: USD
  approval_cost_threshold: 25.0

workers:
  script-agent:
    task_types: [script.draft, shotlist.build]
    image: callboard/script-agent:latest
  video-agent:
    task_types: [video.render]
    image: callboard/video-agent:latest

mappings:
  - event: project.created
    task_type: script.draft
    assigned_to: script-agent
    priority: 10
    input_fields: [title, brief]
  - event: script.drafted
    task_type: shotlist.build
    assigned_to: script-agent
    priority: 10
  - event: storyboard.ready
    task_type: video.render
    assigned_to: video-agent
    priority: 20
    requires_lock: true
    lock_resource: render-farm
    estimated_cost: 5.0
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Callboard project",
	Long: `Initialize a new Callboard project with a starter configuration.

Creates:
  • callboard.yml - workers, event→task mappings, budget and timing defaults

Edit the generated file to describe your worker fleet, then start an
instance with 'callboard up'.

Use --force to overwrite an existing callboard.yml.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing callboard.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if _, err := os.Stat("callboard.yml"); err == nil {
			return printer.Error(
				"callboard.yml already exists",
				"This directory is already initialized.",
				[]string{"Overwrite it with:\n  callboard init --force"},
			)
		}
	}

	if err := os.WriteFile("callboard.yml", []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write callboard.yml: %w", err)
	}

	// The template must stay loadable; catch drift immediately.
	if _, err := config.Load("callboard.yml"); err != nil {
		return fmt.Errorf("generated callboard.yml is invalid: %w", err)
	}

	printer.Success("Created callboard.yml\n")
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Edit callboard.yml to describe your workers and mappings\n")
	printer.Info("  2. Run 'callboard up' to start an instance\n")
	printer.Info("  3. Run 'callboard watch' to follow the event stream\n")

	return nil
}
