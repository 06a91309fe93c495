package chat

import (
	"context"

	apiv1 "devmatch/contracts/api/v1"
	rtv1 "devmatch/contracts/realtime/v1"
)

// API is the credentialed REST surface the core depends on.
type API interface {
	// GetChat returns the persisted conversation with counterpartID.
	GetChat(ctx context.Context, counterpartID string) (apiv1.Chat, error)
	// GetUser returns the profile of userID.
	GetUser(ctx context.Context, userID string) (apiv1.User, error)
	// SendMessage persists text in the conversation with counterpartID and
	// returns the updated chat; its last message is the new one.
	SendMessage(ctx context.Context, counterpartID, text string) (apiv1.Chat, error)
}

// Transport is a live realtime connection.
type Transport interface {
	// On registers fn for envelopes of eventType and returns its deregistration.
	// Handlers run on the transport's read goroutine in arrival order.
	On(eventType string, fn func(rtv1.Envelope)) (off func())
	// Emit sends one event.
	Emit(ctx context.Context, eventType string, payload any) error
	// Done is closed when the connection is gone.
	Done() <-chan struct{}
}

// Lease is a reference to a shared Transport. Release is idempotent.
type Lease interface {
	Transport
	Release()
}

// Connector hands out leases on the application's realtime connection.
type Connector interface {
	Acquire(ctx context.Context) (Lease, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (Lease, error)

// Acquire calls f.
func (f ConnectorFunc) Acquire(ctx context.Context) (Lease, error) { return f(ctx) }
