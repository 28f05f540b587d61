package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mquinn/callboard/internal/printer"
	"github.com/mquinn/callboard/pkg/blackboard"
)

var (
	approveInstanceName string
	approveProjectID    string
	approveRequestID    string
	approveFeedback     string
	approveRevise       bool

	rejectInstanceName string
	rejectProjectID    string
	rejectRequestID    string
	rejectFeedback     string
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve a pending gate and resume the project",
	Long: `Publish an approval decision for a project's pending gate.

By default the decision is "approve": the project un-pauses and its queued
work resumes. With --revise, the decision is "revise": the project resumes
and your --feedback travels on the decision event for workers to act on.

The pending request is found via --project; pass --request to target an
exact request ID instead.

Examples:
  # Approve the pending gate
  callboard approve --project launch-video

  # Ask for changes instead
  callboard approve --project launch-video --revise --feedback "shorten act 2"`,
	RunE: runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject a pending gate and cancel its queued work",
	Long: `Publish a "reject" decision for a project's pending gate.

The project's queued tasks are cancelled and archived, and the project stays
paused for operator follow-up.

Examples:
  callboard reject --project launch-video --feedback "over budget"`,
	RunE: runReject,
}

func init() {
	approveCmd.Flags().StringVarP(&approveInstanceName, "name", "n", "", "Target instance name (sole instance if omitted)")
	approveCmd.Flags().StringVarP(&approveProjectID, "project", "p", "", "Project whose gate to decide (required)")
	approveCmd.Flags().StringVar(&approveRequestID, "request", "", "Exact approval request ID (pending gate if omitted)")
	approveCmd.Flags().StringVar(&approveFeedback, "feedback", "", "Feedback to carry on the decision event")
	approveCmd.Flags().BoolVar(&approveRevise, "revise", false, "Request revisions instead of plain approval")
	approveCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(approveCmd)

	rejectCmd.Flags().StringVarP(&rejectInstanceName, "name", "n", "", "Target instance name (sole instance if omitted)")
	rejectCmd.Flags().StringVarP(&rejectProjectID, "project", "p", "", "Project whose gate to decide (required)")
	rejectCmd.Flags().StringVar(&rejectRequestID, "request", "", "Exact approval request ID (pending gate if omitted)")
	rejectCmd.Flags().StringVar(&rejectFeedback, "feedback", "", "Feedback to carry on the decision event")
	rejectCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(rejectCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	decision := blackboard.DecisionApprove
	if approveRevise {
		decision = blackboard.DecisionRevise
	}
	return publishDecision(approveInstanceName, approveProjectID, approveRequestID, approveFeedback, decision)
}

func runReject(cmd *cobra.Command, args []string) error {
	return publishDecision(rejectInstanceName, rejectProjectID, rejectRequestID, rejectFeedback, blackboard.DecisionReject)
}

// publishDecision verifies the gate exists and publishes the approval.decision
// event the orchestrator acts on.
func publishDecision(instanceName, projectID, requestID, feedback string, decision blackboard.Decision) error {
	ctx := context.Background()

	client, _, err := connectInstance(ctx, instanceName)
	if err != nil {
		return err
	}
	defer client.Close()

	// Resolve the target request so a typo fails here, not silently in the
	// orchestrator.
	if requestID == "" {
		pending, err := client.PendingApprovalForProject(ctx, projectID)
		if blackboard.IsNotFound(err) {
			return printer.Error(
				"no pending approval",
				fmt.Sprintf("Project '%s' has no gate waiting for a decision.", projectID),
				[]string{"Check recent gates:\n  callboard history --project " + projectID + " --type \"approval.*\""},
			)
		}
		if err != nil {
			return err
		}
		requestID = pending.ID
	} else {
		if _, err := client.GetApproval(ctx, requestID); err != nil {
			if blackboard.IsNotFound(err) {
				return printer.Error(
					fmt.Sprintf("approval request '%s' not found", requestID),
					"No approval request with this ID exists on the instance.",
					[]string{"Omit --request to target the project's pending gate"},
				)
			}
			return err
		}
	}

	payload, err := json.Marshal(map[string]string{
		"request_id": requestID,
		"decision":   string(decision),
		"decided_by": "operator",
		"feedback":   feedback,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	eventID, err := client.PublishEvent(ctx, &blackboard.Event{
		ProjectID: projectID,
		Type:      blackboard.EventApprovalDecision,
		Actor:     "operator",
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish decision: %w", err)
	}

	printer.Success("Published %s decision for request %s (event %s)\n", decision, requestID, eventID)
	return nil
}
