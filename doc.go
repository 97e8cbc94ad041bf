// Package dfan contains the core types for a single-publisher,
// multi-consumer broadcast stream.
//
// A [Broadcaster] relays every published value to each attached [Consumer].
// Each Consumer buffers the values its caller has not yet asked for,
// so consumers proceed at their own pace without ever blocking the producer
// and without losing or duplicating values.
//
// Consumers are pulled with [*Consumer.Next],
// or ranged over with [*Consumer.All]:
//
//	c := b.Attach()
//	for v, err := range c.All(ctx) {
//		if err != nil {
//			return err
//		}
//		handle(v)
//	}
//
// The producer observes consumer lifecycle through [Hooks],
// for instance to start producing on the first attach
// and to stop once the last consumer detaches.
package dfan
