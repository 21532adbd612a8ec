// Package ws mirrors background job output over WebSocket connections.
//
// Message Types (Server → Client):
//   - line: One output line with its handle and the position map after it
//   - exit: The job ended; carries the exit code when one was recorded
//   - error: Streaming failed
//
// Message Types (Client → Server):
//   - stop: Stop the job
//
// A client that reconnects with ?from=<position> resumes after the last
// line it saw.
//
// Example Usage:
//
//	handler := ws.NewHandler(jobs, logger, metrics)
//	router.GET("/jobs/:token/ws", handler.HandleJob)
package ws
