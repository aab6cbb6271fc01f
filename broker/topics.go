package broker

import (
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Thejuampi/topicbus/protocol"
)

// Subscriber is the registry's view of a connection: an identity and a line
// sink. *Session implements it.
type Subscriber interface {
	ID() uuid.UUID
	WriteLine(line string) error
	Close() error
}

// TopicInfo describes one topic for the admin API.
type TopicInfo struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// PublishResult reports what a publish did.
type PublishResult struct {
	Topic     string
	Payload   string
	Outcome   Outcome
	Delivered int
	Failed    []uuid.UUID
}

// TopicOption configures a TopicRegistry.
type TopicOption func(*TopicRegistry)

// WithEmptyTopicEviction removes topics whose last subscriber left.
func WithEmptyTopicEviction() TopicOption {
	return func(registry *TopicRegistry) {
		registry.evictEmpty = true
	}
}

// TopicRegistry maps topic names to their ordered subscriber lists. One mutex
// covers the whole map, and it stays held for an entire publish fan-out: a
// publish sees either all or none of a concurrent UnsubscribeAll, and a slow
// subscriber stalls other topic operations for at most one write deadline.
type TopicRegistry struct {
	lock       sync.Mutex
	topics     map[string][]Subscriber
	evictEmpty bool
}

// NewTopicRegistry returns an empty registry.
func NewTopicRegistry(options ...TopicOption) *TopicRegistry {
	registry := &TopicRegistry{topics: make(map[string][]Subscriber)}
	for _, option := range options {
		option(registry)
	}
	return registry
}

func indexOf(subscribers []Subscriber, id uuid.UUID) int {
	return slices.IndexFunc(subscribers, func(subscriber Subscriber) bool {
		return subscriber.ID() == id
	})
}

// Subscribe adds subscriber to the topic named by raw, creating the topic on
// first use.
func (registry *TopicRegistry) Subscribe(subscriber Subscriber, raw string) (string, Outcome) {
	topic, ok := SanitizeTopic(raw)
	if !ok {
		return "", OutcomeInvalidTopic
	}

	registry.lock.Lock()
	defer registry.lock.Unlock()

	subscribers := registry.topics[topic]
	if indexOf(subscribers, subscriber.ID()) >= 0 {
		return topic, OutcomeAlreadySubscribed
	}
	registry.topics[topic] = append(subscribers, subscriber)
	return topic, OutcomeOK
}

// Unsubscribe removes subscriber from the topic named by raw.
func (registry *TopicRegistry) Unsubscribe(subscriber Subscriber, raw string) (string, Outcome) {
	topic, ok := SanitizeTopic(raw)
	if !ok {
		return "", OutcomeInvalidTopic
	}

	registry.lock.Lock()
	defer registry.lock.Unlock()

	subscribers := registry.topics[topic]
	index := indexOf(subscribers, subscriber.ID())
	if index < 0 {
		return topic, OutcomeNotSubscribed
	}
	registry.storeLocked(topic, slices.Delete(subscribers, index, index+1))
	return topic, OutcomeOK
}

// UnsubscribeAll removes connection id from every topic in one critical
// section and returns the topics it left, sorted. Calling it for a connection
// with no subscriptions is a no-op.
func (registry *TopicRegistry) UnsubscribeAll(id uuid.UUID) []string {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	var left []string
	for topic, subscribers := range registry.topics {
		index := indexOf(subscribers, id)
		if index < 0 {
			continue
		}
		registry.storeLocked(topic, slices.Delete(subscribers, index, index+1))
		left = append(left, topic)
	}
	sort.Strings(left)
	return left
}

// Publish sanitizes the topic and payload and writes the delivery line to
// every current subscriber of the topic, the publisher included when it is
// subscribed. A subscriber whose write fails is removed from the topic and
// closed, and delivery continues with the rest.
func (registry *TopicRegistry) Publish(rawTopic, rawPayload string) PublishResult {
	topic, ok := SanitizeTopic(rawTopic)
	if !ok {
		return PublishResult{Outcome: OutcomeInvalidTopic}
	}
	payload, ok := SanitizeMessage(rawPayload)
	if !ok {
		return PublishResult{Topic: topic, Outcome: OutcomeInvalidPayload}
	}

	result := PublishResult{Topic: topic, Payload: payload}
	line := protocol.Delivery(topic, payload)

	registry.lock.Lock()
	defer registry.lock.Unlock()

	subscribers := registry.topics[topic]
	if len(subscribers) == 0 {
		result.Outcome = OutcomeNoSubscribers
		return result
	}

	kept := subscribers[:0]
	for _, subscriber := range subscribers {
		if err := subscriber.WriteLine(line); err != nil {
			result.Failed = append(result.Failed, subscriber.ID())
			_ = subscriber.Close()
			continue
		}
		result.Delivered++
		kept = append(kept, subscriber)
	}
	clear(subscribers[len(kept):])
	registry.storeLocked(topic, kept)

	result.Outcome = OutcomeOK
	return result
}

func (registry *TopicRegistry) storeLocked(topic string, subscribers []Subscriber) {
	if len(subscribers) == 0 && registry.evictEmpty {
		delete(registry.topics, topic)
		return
	}
	registry.topics[topic] = subscribers
}

// SubscriberIDs returns the subscribers of topic in delivery order.
func (registry *TopicRegistry) SubscriberIDs(topic string) []uuid.UUID {
	registry.lock.Lock()
	defer registry.lock.Unlock()

	subscribers := registry.topics[topic]
	ids := make([]uuid.UUID, 0, len(subscribers))
	for _, subscriber := range subscribers {
		ids = append(ids, subscriber.ID())
	}
	return ids
}

// Topics returns every known topic and its subscriber count, sorted by name.
func (registry *TopicRegistry) Topics() []TopicInfo {
	registry.lock.Lock()
	topics := make([]TopicInfo, 0, len(registry.topics))
	for name, subscribers := range registry.topics {
		topics = append(topics, TopicInfo{Name: name, Subscribers: len(subscribers)})
	}
	registry.lock.Unlock()

	sort.Slice(topics, func(i, j int) bool {
		return topics[i].Name < topics[j].Name
	})
	return topics
}
