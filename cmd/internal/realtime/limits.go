package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Bound on a single outbound write.
	defaultWriteTimeout = 5 * time.Second
)

const (
	// Liveness defaults.
	monitorTick             = 2 * time.Second
	defaultHeartbeatTimeout = 90 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultPingTimeout      = 10 * time.Second

	// Clock skew accepted on server-directed envelopes.
	serverEnvelopeSkew = 5 * time.Second

	// Per-connection rate limits (frames per window).
	rateLimitEvents = 600
	rateLimitWindow = 10 * time.Second
)
