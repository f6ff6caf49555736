// Package app wires the MindWell API together and owns the server
// lifecycle.
//
// # Initialization Flow
//
// New constructs every service, the job server and the router from an
// explicitly built Dependencies value. It performs no I/O. Start then:
//
//  1. Connects the database (bounded by DATABASE_CONNECT_TIMEOUT)
//  2. Binds the listener on the configured port
//  3. Starts the WebSocket hub, the job workers and the HTTP server
//  4. Logs readiness
//
// The listener is never created before the database connect returns
// successfully. Any failure in steps 1 and 2 is returned to the caller; Main
// logs it and reports exit status 1.
//
// # Graceful Shutdown
//
// Run waits for SIGINT, SIGTERM, context cancellation or a server error and
// then calls Stop, which drains HTTP requests within ShutdownTimeout while
// the hub, job server, database and telemetry shut down in parallel.
package app
