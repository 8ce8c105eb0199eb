package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// RefreshHistoryWorkflow is the Temporal workflow that refreshes a player's
// settlement history. It is triggered by a per-player schedule at the
// player's configured interval.
//
// The workflow performs these steps:
// 1. Get already-archived game ids from the database (GetArchivedGameIDs)
// 2. Scan the chain for the player's GameSettled events (FetchSettlements)
// 3. Archive new settlements and publish them to NATS (WriteSettlements)
func RefreshHistoryWorkflow(ctx workflow.Context, input RefreshHistoryInput) (*RefreshHistoryResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RefreshHistoryWorkflow started", "address", input.Address)

	result := &RefreshHistoryResult{
		Address:     input.Address,
		RefreshTime: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: get the game ids we have already archived.
	var archivedResult *GetArchivedGameIDsResult
	err := workflow.ExecuteActivity(ctx, a.GetArchivedGameIDs, GetArchivedGameIDsInput{
		Address: input.Address,
	}).Get(ctx, &archivedResult)
	if err != nil {
		errMsg := fmt.Sprintf("failed to get archived game ids: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to get archived game ids: %w", err)
	}
	logger.Info("got archived game ids", "count", len(archivedResult.GameIDs))

	// Step 2: scan the chain for settlements we have not seen.
	var fetchResult *FetchSettlementsResult
	err = workflow.ExecuteActivity(ctx, a.FetchSettlements, FetchSettlementsInput{
		Address:         input.Address,
		ExistingGameIDs: archivedResult.GameIDs,
	}).Get(ctx, &fetchResult)
	if err != nil {
		logger.Error("failed to fetch settlements", "address", input.Address, "error", err)
		errMsg := fmt.Sprintf("failed to fetch settlements: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to fetch settlements: %w", err)
	}

	result.SettlementCount = len(fetchResult.Settlements)
	logger.Info("fetched settlements",
		"address", input.Address,
		"new_count", len(fetchResult.Settlements),
	)

	if len(fetchResult.Settlements) == 0 {
		logger.Info("no new settlements found", "address", input.Address)
		return result, nil
	}

	// Step 3: archive and fan out.
	var writeResult *WriteSettlementsResult
	err = workflow.ExecuteActivity(ctx, a.WriteSettlements, WriteSettlementsInput{
		Address:     input.Address,
		Settlements: fetchResult.Settlements,
	}).Get(ctx, &writeResult)
	if err != nil {
		logger.Error("failed to write settlements", "address", input.Address, "error", err)
		errMsg := fmt.Sprintf("failed to write settlements: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to write settlements: %w", err)
	}

	result.Written = writeResult.Written
	result.Skipped = writeResult.Skipped

	logger.Info("RefreshHistoryWorkflow completed successfully",
		"address", input.Address,
		"settlement_count", result.SettlementCount,
		"written", writeResult.Written,
		"skipped", writeResult.Skipped,
	)

	return result, nil
}
