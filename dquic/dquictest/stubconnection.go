package dquictest

import (
	"context"
	"net"
	"sync"

	"github.com/gordian-engine/dfan/dquic"
)

// StubConnection is an in-memory [dquic.Conn].
//
// Streams handed to the connection through its channels
// are returned from OpenUniStreamSync and AcceptUniStream,
// so a test can connect a relay to a mirror without a network.
type StubConnection struct {
	// Values returned from OpenUniStreamSync, in order.
	OutgoingStreams chan dquic.SendStream

	// Values returned from AcceptUniStream, in order.
	IncomingStreams chan dquic.ReceiveStream

	LocalAddrValue, RemoteAddrValue StubNetAddr

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closeCode *dquic.ApplicationErrorCode
	closeMsg  string
}

var _ dquic.Conn = (*StubConnection)(nil)

// NewStubConnection returns a StubConnection
// whose stream channels have room for one stream each.
func NewStubConnection() *StubConnection {
	ctx, cancel := context.WithCancel(context.Background())
	return &StubConnection{
		OutgoingStreams: make(chan dquic.SendStream, 1),
		IncomingStreams: make(chan dquic.ReceiveStream, 1),

		LocalAddrValue:  StubNetAddr{NetworkValue: "udp", StringValue: "local.example"},
		RemoteAddrValue: StubNetAddr{NetworkValue: "udp", StringValue: "remote.example"},

		ctx:    ctx,
		cancel: cancel,
	}
}

// AcceptUniStream implements [dquic.Conn].
func (c *StubConnection) AcceptUniStream(ctx context.Context) (dquic.ReceiveStream, error) {
	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.ctx.Done():
		return nil, net.ErrClosed
	case s := <-c.IncomingStreams:
		return s, nil
	}
}

// OpenUniStreamSync implements [dquic.Conn].
func (c *StubConnection) OpenUniStreamSync(ctx context.Context) (dquic.SendStream, error) {
	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.ctx.Done():
		return nil, net.ErrClosed
	case s := <-c.OutgoingStreams:
		return s, nil
	}
}

// LocalAddr implements [dquic.Conn].
func (c *StubConnection) LocalAddr() net.Addr {
	return c.LocalAddrValue
}

// RemoteAddr implements [dquic.Conn].
func (c *StubConnection) RemoteAddr() net.Addr {
	return c.RemoteAddrValue
}

// Context implements [dquic.Conn].
// It is canceled by CloseWithError.
func (c *StubConnection) Context() context.Context {
	return c.ctx
}

// CloseWithError implements [dquic.Conn].
// The arguments of the first call are retained;
// see [*StubConnection.Closed].
func (c *StubConnection) CloseWithError(
	code dquic.ApplicationErrorCode, msg string,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeCode == nil {
		c.closeCode = &code
		c.closeMsg = msg
	}
	c.cancel()
	return nil
}

// Closed reports whether CloseWithError has been called,
// and if so, with which arguments.
func (c *StubConnection) Closed() (closed bool, code dquic.ApplicationErrorCode, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closeCode == nil {
		return false, 0, ""
	}
	return true, *c.closeCode, c.closeMsg
}

// StubNetAddr is used in [StubConnection]
// to hold the return values for
// [*StubConnection.LocalAddr] and [*StubConnection.RemoteAddr].
type StubNetAddr struct {
	NetworkValue string
	StringValue  string
}

var _ net.Addr = StubNetAddr{}

func (a StubNetAddr) Network() string { return a.NetworkValue }
func (a StubNetAddr) String() string  { return a.StringValue }
