package transport

import (
	"github.com/behrlich/mantle/internal/constants"
	"github.com/behrlich/mantle/internal/doorbell"
)

// Endpoint is one side of a Connection: a stream of inbound messages
// and a doorbell a remote endpoint rings to wake this side up, plus a
// reference to the remote endpoint so SendMessage can reach across.
type Endpoint struct {
	remote       *Endpoint
	doorbell     *doorbell.Doorbell
	stream       *Stream
	tempMessages []Message
}

func newEndpoint() (*Endpoint, error) {
	db, err := doorbell.New()
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		doorbell: db,
		stream:   NewStream(constants.StreamCapacity),
	}, nil
}

// FileDescriptor returns this endpoint's doorbell fd, for registration
// with a Selector.
func (e *Endpoint) FileDescriptor() int {
	return e.doorbell.FileDescriptor()
}

// Close releases the endpoint's doorbell.
func (e *Endpoint) Close() error {
	return e.doorbell.Close()
}

// SendMessage delivers message to the remote endpoint's stream and
// rings its doorbell. Reports false if the remote stream is full.
func (e *Endpoint) SendMessage(message Message) bool {
	if !e.remote.stream.Send(message) {
		return false
	}
	e.remote.doorbell.Ring(1)
	return true
}

// ReceiveMessages polls this endpoint's doorbell and drains every
// message waiting in its own stream.
func (e *Endpoint) ReceiveMessages(nonBlocking bool) []Message {
	e.doorbell.Poll(nonBlocking)

	e.tempMessages = e.tempMessages[:0]
	e.tempMessages = e.stream.Receive(e.tempMessages)
	return e.tempMessages
}

// Connection is a pair of endpoints wired so each one's sends land in
// the other's stream.
type Connection struct {
	client *Endpoint
	server *Endpoint
}

// NewConnection builds a connected pair of endpoints.
func NewConnection() (*Connection, error) {
	client, err := newEndpoint()
	if err != nil {
		return nil, err
	}
	server, err := newEndpoint()
	if err != nil {
		client.Close()
		return nil, err
	}
	client.remote = server
	server.remote = client
	return &Connection{client: client, server: server}, nil
}

// ClientEndpoint returns the connection's client-side endpoint, used by
// a region.
func (c *Connection) ClientEndpoint() *Endpoint {
	return c.client
}

// ServerEndpoint returns the connection's server-side endpoint, used by
// a region controller.
func (c *Connection) ServerEndpoint() *Endpoint {
	return c.server
}

// Close releases both endpoints' doorbells.
func (c *Connection) Close() error {
	if err := c.client.Close(); err != nil {
		return err
	}
	return c.server.Close()
}
