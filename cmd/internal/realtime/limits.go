package realtime

import "time"

// Client-side transport limits.
const (
	// Max bytes per websocket frame read. newMessage carries the whole chat.
	maxFrameBytes = 1 << 20 // 1 MiB

	defaultSendQueueSize = 64
	defaultWriteTimeout  = 5 * time.Second
	defaultDialTimeout   = 10 * time.Second

	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second
	maxPingFailures          = 3

	closeGrace = time.Second
)
