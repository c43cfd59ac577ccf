// Package timeouts defines shared timeout constants used across the tracker
// runtime so HTTP, gRPC, and subprocess boundaries agree on their limits.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// PlateRead caps a single plate reader invocation.
const PlateRead = 10 * time.Second

// Snapshot caps a single camera snapshot request.
const Snapshot = 5 * time.Second

// MQTTPublish caps how long a notification mirror waits for broker acks.
const MQTTPublish = 2 * time.Second
