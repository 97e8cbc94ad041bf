// Package dpubsub adapts Go channels to and from dfan broadcast streams.
//
// [RunChannelToBroadcaster] feeds a [dfan.Broadcaster] from a channel,
// for producers that already emit values on a channel.
// [RunConsumerToChannel] exposes a [dfan.Consumer] as a channel,
// for consumers that need to select on the stream alongside other events.
package dpubsub
