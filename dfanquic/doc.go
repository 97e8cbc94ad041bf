// Package dfanquic relays a [dfan.Broadcaster] of byte slices over QUIC.
//
// A [Relay] attaches one [dfan.Consumer] per connection
// and writes every value it receives on a unidirectional stream.
// [RunMirror] reads that stream on the other side
// and republishes the values into a local broadcaster,
// so that local consumers observe the same sequence,
// including which value was final.
//
// The stream begins with a single application-chosen protocol byte,
// followed by one frame per value:
//
//	flags   1 byte   bit 0 set on the final value
//	length  uvarint  payload length in bytes
//	payload length bytes
package dfanquic
