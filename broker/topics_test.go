package broker

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type fakeSubscriber struct {
	id uuid.UUID

	lock   sync.Mutex
	lines  []string
	fail   bool
	closed bool
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{id: uuid.New()}
}

func (subscriber *fakeSubscriber) ID() uuid.UUID {
	return subscriber.id
}

func (subscriber *fakeSubscriber) WriteLine(line string) error {
	subscriber.lock.Lock()
	defer subscriber.lock.Unlock()
	if subscriber.fail {
		return errors.New("broken pipe")
	}
	subscriber.lines = append(subscriber.lines, line)
	return nil
}

func (subscriber *fakeSubscriber) Close() error {
	subscriber.lock.Lock()
	subscriber.closed = true
	subscriber.lock.Unlock()
	return nil
}

func (subscriber *fakeSubscriber) received() []string {
	subscriber.lock.Lock()
	defer subscriber.lock.Unlock()
	return slices.Clone(subscriber.lines)
}

func TestTopicRegistrySubscribeOutcomes(t *testing.T) {
	registry := NewTopicRegistry()
	subscriber := newFakeSubscriber()

	if topic, outcome := registry.Subscribe(subscriber, " news "); outcome != OutcomeOK || topic != "news" {
		t.Fatalf("first subscribe = %q, %v", topic, outcome)
	}
	if _, outcome := registry.Subscribe(subscriber, "news"); outcome != OutcomeAlreadySubscribed {
		t.Fatalf("second subscribe outcome = %v", outcome)
	}
	if _, outcome := registry.Subscribe(subscriber, "bad topic!"); outcome != OutcomeInvalidTopic {
		t.Fatalf("invalid subscribe outcome = %v", outcome)
	}
	if ids := registry.SubscriberIDs("news"); len(ids) != 1 || ids[0] != subscriber.ID() {
		t.Fatalf("unexpected subscribers %v", ids)
	}
}

func TestTopicRegistryUnsubscribeOutcomes(t *testing.T) {
	registry := NewTopicRegistry()
	subscriber := newFakeSubscriber()

	if _, outcome := registry.Unsubscribe(subscriber, "news"); outcome != OutcomeNotSubscribed {
		t.Fatalf("unsubscribe from unknown topic = %v", outcome)
	}
	registry.Subscribe(subscriber, "news")
	if _, outcome := registry.Unsubscribe(subscriber, "news"); outcome != OutcomeOK {
		t.Fatalf("unsubscribe outcome = %v", outcome)
	}
	if _, outcome := registry.Unsubscribe(subscriber, "news"); outcome != OutcomeNotSubscribed {
		t.Fatalf("repeat unsubscribe outcome = %v", outcome)
	}
	if _, outcome := registry.Unsubscribe(subscriber, ""); outcome != OutcomeInvalidTopic {
		t.Fatalf("invalid unsubscribe outcome = %v", outcome)
	}

	// Topics stay known after their last subscriber leaves unless eviction is on.
	if topics := registry.Topics(); len(topics) != 1 || topics[0].Subscribers != 0 {
		t.Fatalf("unexpected topics %+v", topics)
	}
}

func TestTopicRegistryEvictsEmptyTopics(t *testing.T) {
	registry := NewTopicRegistry(WithEmptyTopicEviction())
	subscriber := newFakeSubscriber()
	registry.Subscribe(subscriber, "news")
	registry.Unsubscribe(subscriber, "news")
	if topics := registry.Topics(); len(topics) != 0 {
		t.Fatalf("expected no topics, got %+v", topics)
	}
}

func TestTopicRegistryPublishFansOutInSubscriptionOrder(t *testing.T) {
	registry := NewTopicRegistry()
	subscribers := make([]*fakeSubscriber, 5)
	for i := range subscribers {
		subscribers[i] = newFakeSubscriber()
		registry.Subscribe(subscribers[i], "news")
	}
	other := newFakeSubscriber()
	registry.Subscribe(other, "sports")

	result := registry.Publish("news", "  hello  world ")
	if result.Outcome != OutcomeOK || result.Delivered != len(subscribers) || len(result.Failed) != 0 {
		t.Fatalf("unexpected publish result %+v", result)
	}
	if result.Payload != "hello  world" {
		t.Fatalf("payload = %q", result.Payload)
	}
	for i, subscriber := range subscribers {
		lines := subscriber.received()
		if len(lines) != 1 || lines[0] != "[Message] Topic: news Data: hello  world" {
			t.Fatalf("subscriber %d received %q", i, lines)
		}
	}
	if lines := other.received(); len(lines) != 0 {
		t.Fatalf("subscriber of another topic received %q", lines)
	}
}

func TestTopicRegistryPublishRejections(t *testing.T) {
	registry := NewTopicRegistry()

	if result := registry.Publish("no-pe", "x"); result.Outcome != OutcomeInvalidTopic {
		t.Fatalf("invalid topic outcome = %v", result.Outcome)
	}
	if result := registry.Publish("news", "bad\x01"); result.Outcome != OutcomeInvalidPayload {
		t.Fatalf("invalid payload outcome = %v", result.Outcome)
	}
	if result := registry.Publish("news", "hello"); result.Outcome != OutcomeNoSubscribers || result.Topic != "news" {
		t.Fatalf("no subscribers result = %+v", result)
	}
}

func TestTopicRegistryPublishPrunesFailedSubscribers(t *testing.T) {
	registry := NewTopicRegistry()
	healthy := newFakeSubscriber()
	broken := newFakeSubscriber()
	broken.fail = true
	tail := newFakeSubscriber()
	for _, subscriber := range []*fakeSubscriber{healthy, broken, tail} {
		registry.Subscribe(subscriber, "news")
	}

	result := registry.Publish("news", "one")
	if result.Delivered != 2 || len(result.Failed) != 1 || result.Failed[0] != broken.ID() {
		t.Fatalf("unexpected publish result %+v", result)
	}
	if !broken.closed {
		t.Fatalf("failed subscriber was not closed")
	}
	if len(tail.received()) != 1 {
		t.Fatalf("delivery stopped at the failed subscriber")
	}

	want := []uuid.UUID{healthy.ID(), tail.ID()}
	if ids := registry.SubscriberIDs("news"); !slices.Equal(ids, want) {
		t.Fatalf("subscribers after prune = %v, want %v", ids, want)
	}
}

func TestTopicRegistryPublisherReceivesOwnMessage(t *testing.T) {
	registry := NewTopicRegistry()
	publisher := newFakeSubscriber()
	registry.Subscribe(publisher, "echo")

	registry.Publish("echo", "ping")
	if lines := publisher.received(); len(lines) != 1 {
		t.Fatalf("publisher received %q", lines)
	}
}

func TestTopicRegistryUnsubscribeAll(t *testing.T) {
	registry := NewTopicRegistry()
	subscriber := newFakeSubscriber()
	other := newFakeSubscriber()
	for _, topic := range []string{"c", "a", "b"} {
		registry.Subscribe(subscriber, topic)
	}
	registry.Subscribe(other, "a")

	if left := registry.UnsubscribeAll(subscriber.ID()); !slices.Equal(left, []string{"a", "b", "c"}) {
		t.Fatalf("left = %v", left)
	}
	if left := registry.UnsubscribeAll(subscriber.ID()); len(left) != 0 {
		t.Fatalf("second UnsubscribeAll left %v", left)
	}
	if ids := registry.SubscriberIDs("a"); len(ids) != 1 || ids[0] != other.ID() {
		t.Fatalf("other subscriber lost: %v", ids)
	}
	if result := registry.Publish("b", "x"); result.Outcome != OutcomeNoSubscribers {
		t.Fatalf("publish after UnsubscribeAll = %v", result.Outcome)
	}
}

func TestTopicRegistryConcurrentPublishAndSubscribe(t *testing.T) {
	registry := NewTopicRegistry()
	base := newFakeSubscriber()
	registry.Subscribe(base, "load")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			subscriber := newFakeSubscriber()
			registry.Subscribe(subscriber, "load")
			registry.UnsubscribeAll(subscriber.ID())
		}()
		go func() {
			defer wg.Done()
			registry.Publish("load", "tick")
		}()
	}
	wg.Wait()

	if got := len(base.received()); got != 20 {
		t.Fatalf("base subscriber received %d messages, want 20", got)
	}
	if ids := registry.SubscriberIDs("load"); len(ids) != 1 {
		t.Fatalf("expected only the base subscriber, got %v", ids)
	}
}
