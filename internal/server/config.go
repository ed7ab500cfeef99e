package server

import "time"

// Config holds the tunables for the accept loop and every session it spawns.
// Zero values fall back to the defaults documented next to each field.
type Config struct {
	ListenAddr string

	// MaxConnections records the configured connection cap. Server does not
	// read it: concurrent connections are capped only by the ConnLimit
	// field, and are unlimited when ConnLimit is nil.
	MaxConnections int64

	// RecvTimeout bounds how long a session's read loop will block waiting
	// for the next chunk before the connection is considered dead.
	// Default 30s.
	RecvTimeout time.Duration

	// InboundChunkSizeCap rejects any Set Chunk Size a client sends above
	// this value; it bounds what the server accepts, not what it announces
	// outbound. Default 65536 (the protocol's own ceiling).
	InboundChunkSizeCap uint32

	// WindowAckSize is the Window Acknowledgement Size advertised to every
	// client. Default 2,500,000.
	WindowAckSize uint32

	// PeerBandwidth and PeerBandwidthLimitType back the Set Peer Bandwidth
	// message sent during connect. Defaults: 2,500,000 and 2 (dynamic).
	PeerBandwidth          uint32
	PeerBandwidthLimitType uint8

	// MaxMessageSize bounds a single reassembled chunk-stream message.
	// Default 16 MiB.
	MaxMessageSize uint32

	// MonitorInterval controls how often the stale-connection sweep runs.
	// Default 1s.
	MonitorInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = 30 * time.Second
	}
	if c.InboundChunkSizeCap == 0 {
		c.InboundChunkSizeCap = 65536
	}
	if c.WindowAckSize == 0 {
		c.WindowAckSize = 2500000
	}
	if c.PeerBandwidth == 0 {
		c.PeerBandwidth = 2500000
	}
	if c.PeerBandwidthLimitType == 0 {
		c.PeerBandwidthLimitType = 2
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 16 << 20
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = time.Second
	}
	return c
}
