package dtrace

import (
	"net"

	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otpnoop "go.opentelemetry.io/otel/trace/noop"
)

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type Span = oteltrace.Span

type KeyValueAttr = otelattr.KeyValue

// TracerName is the instrumentation name used for every tracer in dfan.
const TracerName = "github.com/gordian-engine/dfan"

// NopTracerProvider returns the otel no-op tracer provider.
// This is intended to use as a fallback when a nil tracer provider is given.
func NopTracerProvider() TracerProvider {
	return otpnoop.NewTracerProvider()
}

// TracerOrNop returns the dfan tracer from tp,
// or from [NopTracerProvider] if tp is nil.
func TracerOrNop(tp TracerProvider) Tracer {
	if tp == nil {
		tp = NopTracerProvider()
	}
	return tp.Tracer(TracerName)
}

// WithAttributes is an alias to [oteltrace.WithAttributes]
// to allow consumers to only reference the dtrace package.
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// SpanError sets the given span to error status,
// with detail from err.Error().
func SpanError(span oteltrace.Span, err error) {
	span.SetStatus(otelcodes.Error, err.Error())
}

// ErrorAttr returns an attribute with the key "err"
// and the lazily evaluated value of err's Error() method.
func ErrorAttr(err error) KeyValueAttr {
	return otelattr.Stringer("err", errStringer{err: err})
}

type errStringer struct {
	err error
}

func (e errStringer) String() string {
	return e.err.Error()
}

type RemoteAddr interface {
	RemoteAddr() net.Addr
}

func RemoteAddrAttr(ra RemoteAddr) KeyValueAttr {
	return otelattr.Stringer("remote", lazyRemoteAddr{a: ra.RemoteAddr()})
}

type lazyRemoteAddr struct {
	a net.Addr
}

func (lra lazyRemoteAddr) String() string {
	return lra.a.String()
}

// ConsumerIDAttr identifies the dfan consumer a span is working for.
func ConsumerIDAttr(id uint64) KeyValueAttr {
	return otelattr.Int64("dfan.consumer.id", int64(id))
}

// FrameSizeAttr records the payload size of a relayed value.
func FrameSizeAttr(n int) KeyValueAttr {
	return otelattr.Int("dfan.frame.size", n)
}

// FinalAttr records whether a relayed value was the final one.
func FinalAttr(final bool) KeyValueAttr {
	return otelattr.Bool("dfan.frame.final", final)
}
