// Package jobs is MindWell's background-job framework.
//
// Application code publishes named events through a Client. A Server owns the
// registered Functions: event-triggered functions are run by a worker Queue
// with retries, cron-triggered functions by a Scheduler, and the Server's
// HTTP handler lets an external orchestrator introspect, sync and invoke
// functions directly. Run records are kept in a RunStore.
package jobs
