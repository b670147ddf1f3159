// Package timeouts defines shared timeout constants used across the service.
package timeouts

import "time"

// Notify caps one outbound notification attempt. A notification that has
// not completed by then is treated as failed.
const Notify = 5 * time.Second

// Compensation caps the rollback work a saga performs after a failed step.
const Compensation = 10 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Request caps the time allowed for handling one HTTP API request.
const Request = 30 * time.Second

// Shutdown limits how long a server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
