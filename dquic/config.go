package dquic

import (
	"time"

	"github.com/quic-go/quic-go"
)

// DefaultConfig is the default QUIC configuration
// for both sides of a relay connection.
func DefaultConfig() *quic.Config {
	return &quic.Config{
		// Defaults to 5 otherwise, which is far higher latency than we probably need.
		HandshakeIdleTimeout: 2 * time.Second,

		// Skip: MaxIdleTimeout: defaults to 30s of no activity whatsoever before closing a connection.
		// A quiet broadcaster may go longer than that, so keep the connection alive.
		KeepAlivePeriod: 10 * time.Second,

		// A relay stream carries every value of the broadcast,
		// so allow a larger window than a typical request stream.
		InitialStreamReceiveWindow: 64 * 1024,
		MaxStreamReceiveWindow:     4 * 1024 * 1024,

		InitialConnectionReceiveWindow: 64 * 1024,
		MaxConnectionReceiveWindow:     4 * 1024 * 1024,

		// Relays never accept bidirectional streams,
		// and a mirror only accepts the single relay stream.
		MaxIncomingStreams:    -1,
		MaxIncomingUniStreams: 1,

		// Skip: Allow0RTT: the first frame is already the protocol header.
	}
}
