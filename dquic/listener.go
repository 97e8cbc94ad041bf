package dquic

import (
	"context"
	"net"

	"github.com/quic-go/quic-go"
)

// Listener accepts incoming QUIC connections.
// It is the subset of [*quic.Listener] used in dfan.
type Listener interface {
	Accept(context.Context) (Conn, error)
	Addr() net.Addr
}

var _ Listener = ListenerAdapter{}

// ListenerAdapter wraps a [*quic.Listener], implementing [Listener].
//
// Create an instance with [WrapListener].
type ListenerAdapter struct {
	ql *quic.Listener
}

// WrapListener wraps the given listener,
// returning a value implementing [Listener].
func WrapListener(ql *quic.Listener) ListenerAdapter {
	return ListenerAdapter{ql: ql}
}

func (l ListenerAdapter) Accept(ctx context.Context) (Conn, error) {
	qc, err := l.ql.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return WrapConn(qc), nil
}

func (l ListenerAdapter) Addr() net.Addr { return l.ql.Addr() }
