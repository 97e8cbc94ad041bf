package dquictest

import (
	"context"
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/gordian-engine/dfan/dquic"
	"github.com/gordian-engine/dfan/internal/dtest"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

// Loopback is a QUIC listener on 127.0.0.1
// with a freshly generated CA that its clients trust.
type Loopback struct {
	CA *x509.Certificate

	ServerTLS, ClientTLS *tls.Config

	Listener *quic.Listener
}

// NewLoopback starts a QUIC listener on an ephemeral loopback port,
// negotiating the given ALPN protocol.
//
// The listener is closed as part of [*testing.T.Cleanup].
func NewLoopback(t *testing.T, alpn string) *Loopback {
	t.Helper()

	caCert, caKey := generateCA(t)
	leaf := generateLeaf(t, caCert, caKey)

	roots := x509.NewCertPool()
	roots.AddCert(caCert)

	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{leaf},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}
	clientTLS := &tls.Config{
		RootCAs:    roots,
		ServerName: "127.0.0.1",
		NextProtos: []string{alpn},
		MinVersion: tls.VersionTLS13,
	}

	ql, err := quic.ListenAddr("127.0.0.1:0", serverTLS, dquic.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ql.Close()
	})

	return &Loopback{
		CA: caCert,

		ServerTLS: serverTLS,
		ClientTLS: clientTLS,

		Listener: ql,
	}
}

// Dial opens a client connection to the listener.
// The connection is closed as part of [*testing.T.Cleanup].
func (l *Loopback) Dial(t *testing.T, ctx context.Context) dquic.Conn {
	t.Helper()

	qc, err := quic.DialAddr(ctx, l.Listener.Addr().String(), l.ClientTLS, dquic.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = qc.CloseWithError(0, "")
	})

	return dquic.WrapConn(qc)
}

// Pair dials the listener and accepts the resulting connection,
// returning both ends.
//
// Pair accepts on the listener itself,
// so it must not be used while something else is accepting.
func (l *Loopback) Pair(t *testing.T, ctx context.Context) (client, server dquic.Conn) {
	t.Helper()

	acceptedCh := make(chan *quic.Conn, 1)
	go func() {
		qc, err := l.Listener.Accept(ctx)
		if err != nil {
			t.Error(err)
			acceptedCh <- nil
			return
		}
		acceptedCh <- qc
	}()

	client = l.Dial(t, ctx)

	qc := dtest.ReceiveSoon(t, acceptedCh)
	require.NotNil(t, qc)
	t.Cleanup(func() {
		_ = qc.CloseWithError(0, "")
	})

	return client, dquic.WrapConn(qc)
}

func generateCA(t *testing.T) (*x509.Certificate, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: randomSerial(t),

		Subject: pkix.Name{
			Organization: []string{"Test CA"},
			CommonName:   "Test CA Root",
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(time.Hour),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(crand.Reader, template, template, pub, priv)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return cert, priv
}

func generateLeaf(
	t *testing.T, ca *x509.Certificate, caKey ed25519.PrivateKey,
) tls.Certificate {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: randomSerial(t),

		Subject: pkix.Name{
			Organization: []string{"Test Leaf Cert"},
			CommonName:   "127.0.0.1",
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(time.Hour),

		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},

		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	der, err := x509.CreateCertificate(crand.Reader, template, ca, pub, caKey)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        cert,
	}
}

func randomSerial(t *testing.T) *big.Int {
	t.Helper()

	// 128 bits is the conventional size for a random serial.
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	n, err := crand.Int(crand.Reader, limit)
	if err != nil {
		panic(fmt.Errorf("failed to generate serial: %w", err))
	}
	return n
}
