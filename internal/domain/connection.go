package domain

import (
	"context"

	nostr "github.com/nbd-wtf/go-nostr"

	"github.com/Shugur-Network/lens/internal/models"
)

// RelayConnection represents one socket to a relay.
// The connection pool is the sole owner; every other component holds only
// non-owning references obtained from it.
type RelayConnection interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error

	// Outbound frames
	SendSubscription(id string, filters []nostr.Filter) error
	SendClose(id string) error
	// SendEvent blocks until the relay acknowledges the event or ctx ends.
	SendEvent(ctx context.Context, evt *nostr.Event) error

	// State
	Address() string
	IsConnected() bool
	IsEphemeral() bool
	Options() models.ConnectOptions
	SetOptions(opts models.ConnectOptions)
	Status() models.RelayStatus
}

// ConnectionHandler is the fixed set of event slots a connection reports
// into. One handler is registered per connection at creation; slots are
// invoked from the connection's read loop.
type ConnectionHandler interface {
	// OnEvent delivers one inbound event for a subscription id.
	OnEvent(subID string, evt *nostr.Event)

	// OnEndOfStoredEvents signals that all stored events for the
	// subscription have been delivered; later events are live.
	OnEndOfStoredEvents(subID string)

	// OnDisconnect reports which connection dropped and the subscription
	// ids that were active (EOSE seen) and still pending at that moment.
	OnDisconnect(conn RelayConnection, activeSubIDs, pendingSubIDs []string)

	// OnConnected fires after a successful (re)establishment, before any
	// inbound frame is dispatched.
	OnConnected(conn RelayConnection)
}

// ConnectionFactory creates transport connections. The pool depends on this
// so tests can substitute in-memory connections for real sockets.
type ConnectionFactory interface {
	NewConnection(address string, opts models.ConnectOptions, ephemeral bool, handler ConnectionHandler) RelayConnection
}
