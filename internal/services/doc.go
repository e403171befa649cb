// Package services implements the business logic layer of the Pmax service.
// It sits between the HTTP handlers and the batch orchestrator so handlers
// stay thin and the rules live in one testable place.
//
// # Services
//
//	- PmaxService: single solves, batch dispatch/cancel/lookup, spreadsheet
//	  import and export, and a janitor that expires finished batches
//	- HealthService: liveness, readiness and version information
//
// # Common Service Pattern
//
//	type ServiceName struct {
//	    orch   *batch.Orchestrator
//	    logger *slog.Logger
//	}
//
//	func (s *ServiceName) BusinessOperation(ctx context.Context, input Input) (*Output, error) {
//	    result, err := s.orch.Operation(ctx, input)
//	    if err != nil {
//	        s.logger.ErrorContext(ctx, "operation failed", slog.String("error", err.Error()))
//	        return nil, fmt.Errorf("operation failed: %w", err)
//	    }
//	    return result, nil
//	}
//
// # Error Handling
//
// Services return the batch and demand packages' typed errors wrapped with
// %w. The errors package maps them to problem details, so handlers never
// inspect them directly.
package services
