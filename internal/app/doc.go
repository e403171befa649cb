// Package app wires the Pmax service together and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, an optional YAML file and the environment
//	2. Initialize logging and OpenTelemetry
//	3. Start the WebSocket hub and the batch orchestrator
//	4. Initialize services with their dependencies
//	5. Set up HTTP handlers and middleware
//	6. Start the HTTP server and wait for a shutdown signal
//
// # Usage
//
//	application, err := app.NewApplication(nil)
//	if err != nil {
//	    return err
//	}
//	return application.Run()
//
// # Shutdown
//
// Stop drains the HTTP server first, then cancels in-flight batches, stops
// the hub and flushes telemetry.
package app
