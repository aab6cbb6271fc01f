// Package broker implements the topicbus message broker: a TCP (and
// optionally WebSocket) server where clients register a display name,
// subscribe to topics and publish text payloads that are fanned out to every
// current subscriber of the topic.
//
// A Server runs one goroutine per connection. All connections share a
// ClientRegistry and a TopicRegistry, each guarded by a single mutex. A
// publish holds the topic registry lock for its whole fan-out, so it is
// atomic with respect to subscribe and unsubscribe; every socket write is
// bounded by Config.WriteTimeout. When both locks are needed the topic
// registry lock is taken before a session's write lock, never the reverse.
//
// Server lines follow the protocol package: "[SERVER] ..." for
// acknowledgements, "[SERVER_ERROR] ..." for rejected requests, and
// "[Message] Topic: <t> Data: <p>" for deliveries.
package broker
