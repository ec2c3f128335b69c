package constants

import "time"

// Engine timing constants
const (
	// JanitorInterval is the fixed cadence of the pending-close sweep.
	JanitorInterval = 1 * time.Second
	// AckTimeout bounds how long a one-shot write waits for the relay's OK.
	AckTimeout = 5 * time.Second
	// ReconnectInterval is the cadence of the reconnect supervisor loop.
	ReconnectInterval = 5 * time.Second
	// ShutdownTimeout bounds graceful teardown of all components.
	ShutdownTimeout = 10 * time.Second
)

// Transport constants
const (
	// DialTimeout bounds the websocket handshake with a relay.
	DialTimeout = 10 * time.Second
	// PingInterval is how often a connection pings its relay.
	PingInterval = 30 * time.Second
	// PongWait is how long a connection tolerates silence before it is
	// considered stale.
	PongWait = 60 * time.Second
	// WriteWait bounds a single frame write on the socket.
	WriteWait = 10 * time.Second
	// MaxFrameSize caps inbound frames from a relay (bytes).
	MaxFrameSize = 512 * 1024
	// MaxSubIDLength is the protocol limit on subscription identifiers.
	MaxSubIDLength = 64
)

// Rate limiting defaults
const (
	// DefaultDialRate / DefaultDialBurst throttle repeated dial attempts
	// against a single relay address.
	DefaultDialRate  = 1
	DefaultDialBurst = 3
	// DefaultEventRate / DefaultEventBurst cap inbound events per
	// connection before flood-dropping.
	DefaultEventRate  = 500
	DefaultEventBurst = 1000
)

// Seen-event filter sizing
const (
	// SeenFilterCapacity is the expected number of distinct event ids the
	// duplicate pre-filter is dimensioned for.
	SeenFilterCapacity = 1_000_000
	// SeenFilterFPRate is the accepted false-positive rate of the
	// duplicate pre-filter.
	SeenFilterFPRate = 0.0001
)

// Worker pool defaults
const (
	DefaultWorkerCount = 4
	DefaultJobQueue    = 1024
)

// Relay health backoff
const (
	// HealthBackoffBase is the wait after a first dial failure; it doubles
	// per consecutive failure.
	HealthBackoffBase = 5 * time.Second
	// HealthBackoffMax caps the backoff window.
	HealthBackoffMax = 5 * time.Minute
	// HealthCheckTimeout bounds one /healthz evaluation.
	HealthCheckTimeout = 5 * time.Second
)

// Cache persistence
const (
	// CachePoolMaxConns / CachePoolMinConns size the Postgres pool backing
	// the record cache.
	CachePoolMaxConns = 8
	CachePoolMinConns = 2
	// CacheConnMaxLifetime / CacheConnMaxIdleTime recycle pooled connections.
	CacheConnMaxLifetime = 30 * time.Minute
	CacheConnMaxIdleTime = 5 * time.Minute
	// CacheWriteTimeout bounds a single write-through persistence statement.
	CacheWriteTimeout = 5 * time.Second
)
