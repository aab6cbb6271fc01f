package broker

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Thejuampi/topicbus/broker/internal/testutil"
)

type dispatchFixture struct {
	dispatcher *Dispatcher
	clients    *ClientRegistry
	topics     *TopicRegistry
	stats      *Stats
	logs       *observer.ObservedLogs
}

func newDispatchFixture() *dispatchFixture {
	core, logs := observer.New(zapcore.DebugLevel)
	clients := NewClientRegistry()
	topics := NewTopicRegistry()
	stats := new(Stats)
	return &dispatchFixture{
		dispatcher: NewDispatcher(clients, topics, stats, zap.New(core)),
		clients:    clients,
		topics:     topics,
		stats:      stats,
		logs:       logs,
	}
}

func newTestSession(remote string) (*Session, *testutil.Conn) {
	conn := testutil.NewConn(remote, "127.0.0.1:1999")
	return newSession(conn, DefaultWriteTimeout), conn
}

func lastLine(t *testing.T, conn *testutil.Conn) string {
	t.Helper()
	lines := conn.Lines()
	if len(lines) == 0 {
		t.Fatalf("no lines written")
	}
	return lines[len(lines)-1]
}

func TestDispatchReplies(t *testing.T) {
	cases := []struct {
		name  string
		setup []string
		line  string
		want  string
	}{
		{name: "connect", line: "CONNECT 1999 Alice 42", want: "[SERVER] Connected as Alice"},
		{name: "subscribe", line: "SUBSCRIBE news", want: "[SERVER] Subscribed to news"},
		{name: "subscribe trimmed", line: "SUBSCRIBE \t news  ", want: "[SERVER] Subscribed to news"},
		{name: "subscribe twice", setup: []string{"SUBSCRIBE news"}, line: "SUBSCRIBE news", want: "[SERVER] Already subscribed to news"},
		{name: "subscribe invalid", line: "SUBSCRIBE bad!", want: "[SERVER_ERROR] " + invalidTopicText},
		{name: "subscribe missing topic", line: "SUBSCRIBE", want: "[SERVER_ERROR] " + invalidTopicText},
		{name: "unsubscribe", setup: []string{"SUBSCRIBE news"}, line: "UNSUBSCRIBE news", want: "[SERVER] Unsubscribed from news"},
		{name: "unsubscribe not subscribed", line: "UNSUBSCRIBE news", want: "[SERVER_ERROR] You are not subscribed to news"},
		{name: "unsubscribe invalid", line: "UNSUBSCRIBE a_b", want: "[SERVER_ERROR] " + invalidTopicText},
		{name: "publish missing payload", line: "PUBLISH news", want: "[SERVER_ERROR] Invalid publish format! Topic or message missing."},
		{name: "publish missing everything", line: "PUBLISH", want: "[SERVER_ERROR] Invalid publish format! Topic or message missing."},
		{name: "publish invalid topic", line: "PUBLISH n.e.w.s hi", want: "[SERVER_ERROR] " + invalidTopicText},
		{name: "publish invalid payload", line: "PUBLISH news caf\xc3\xa9", want: "[SERVER_ERROR] " + invalidMessageText},
		{name: "publish no subscribers", line: "PUBLISH news hello", want: "[SERVER_ERROR] No subscribers for topic: news"},
		{name: "publish to self", setup: []string{"SUBSCRIBE news"}, line: "PUBLISH news hello there", want: "[Message] Topic: news Data: hello there"},
		{name: "unknown", line: "FETCH news", want: "[SERVER_ERROR] Unknown command: FETCH"},
		{name: "keywords are case sensitive", line: "subscribe news", want: "[SERVER_ERROR] Unknown command: subscribe"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fixture := newDispatchFixture()
			session, conn := newTestSession("10.0.0.5:40000")
			for _, line := range tc.setup {
				fixture.dispatcher.Dispatch(session, line)
			}
			if terminate := fixture.dispatcher.Dispatch(session, tc.line); terminate {
				t.Fatalf("Dispatch(%q) asked to terminate", tc.line)
			}
			if got := lastLine(t, conn); got != tc.want {
				t.Fatalf("Dispatch(%q) reply = %q, want %q", tc.line, got, tc.want)
			}
		})
	}
}

func TestDispatchIgnoresBlankLines(t *testing.T) {
	fixture := newDispatchFixture()
	session, conn := newTestSession("10.0.0.5:40000")
	for _, line := range []string{"", "   ", "\t"} {
		if fixture.dispatcher.Dispatch(session, line) {
			t.Fatalf("blank line terminated the session")
		}
	}
	if lines := conn.Lines(); len(lines) != 0 {
		t.Fatalf("blank lines produced replies %q", lines)
	}
	if fixture.stats.Snapshot().CommandsIn != 0 {
		t.Fatalf("blank lines were counted as commands")
	}
}

func TestDispatchMalformedConnectIsLoggedWithoutReply(t *testing.T) {
	fixture := newDispatchFixture()
	session, conn := newTestSession("10.0.0.5:40000")

	for _, line := range []string{"CONNECT", "CONNECT 1999 Alice", "CONNECT port Alice 42", "CONNECT 1999 Alice 42 extra"} {
		fixture.dispatcher.Dispatch(session, line)
	}
	if lines := conn.Lines(); len(lines) != 0 {
		t.Fatalf("malformed CONNECT produced replies %q", lines)
	}
	if fixture.clients.Len() != 0 {
		t.Fatalf("malformed CONNECT registered a client")
	}
	records := fixture.logs.FilterField(zap.String("action", ActionConnectionError)).All()
	if len(records) != 4 {
		t.Fatalf("expected 4 CONNECTION_ERROR records, got %d", len(records))
	}
	if detail := records[0].ContextMap()["detail"]; detail != "Client connect message is malformed." {
		t.Fatalf("unexpected detail %v", detail)
	}
}

func TestDispatchConnectRecordsClientMetadata(t *testing.T) {
	fixture := newDispatchFixture()
	session, _ := newTestSession("10.1.2.3:50123")

	fixture.dispatcher.Dispatch(session, "CONNECT 1999 Alice 42")

	info, ok := fixture.clients.Lookup(session.ID())
	if !ok {
		t.Fatalf("client not registered")
	}
	if info.Name != "Alice" || info.PID != 42 || info.AnnouncedPort != 1999 || info.IP != "10.1.2.3" || info.ClientPort != 50123 || info.ServerPort != 1999 {
		t.Fatalf("unexpected client info %+v", info)
	}

	records := fixture.logs.FilterField(zap.String("action", ActionConnect)).All()
	if len(records) != 1 {
		t.Fatalf("expected one CONNECT record, got %d", len(records))
	}
	fields := records[0].ContextMap()
	if fields["client"] != "Alice" || fields["pid"] != int64(42) || fields["ip"] != "10.1.2.3" || fields["detail"] != "success" {
		t.Fatalf("unexpected CONNECT fields %v", fields)
	}
}

func TestDispatchNameCollisionAcrossSessions(t *testing.T) {
	fixture := newDispatchFixture()
	first, firstConn := newTestSession("10.0.0.1:1000")
	second, secondConn := newTestSession("10.0.0.2:1000")

	fixture.dispatcher.Dispatch(first, "CONNECT 1999 Alice 100")
	fixture.dispatcher.Dispatch(second, "CONNECT 1999 Alice 200")

	if got := lastLine(t, firstConn); got != "[SERVER] Connected as Alice" {
		t.Fatalf("first reply %q", got)
	}
	if got := lastLine(t, secondConn); got != "[SERVER] Connected as Alice-200" {
		t.Fatalf("second reply %q", got)
	}
}

func TestDispatchDisconnectCleansUpAndTerminates(t *testing.T) {
	fixture := newDispatchFixture()
	session, conn := newTestSession("10.0.0.1:1000")
	fixture.dispatcher.Dispatch(session, "CONNECT 1999 Alice 100")
	fixture.dispatcher.Dispatch(session, "SUBSCRIBE news")
	fixture.dispatcher.Dispatch(session, "SUBSCRIBE sports")

	if !fixture.dispatcher.Dispatch(session, "DISCONNECT") {
		t.Fatalf("DISCONNECT did not terminate")
	}
	if got := lastLine(t, conn); got != "[SERVER] Disconnected" {
		t.Fatalf("disconnect reply %q", got)
	}
	if !conn.Closed() {
		t.Fatalf("connection left open")
	}
	if fixture.clients.Len() != 0 {
		t.Fatalf("client still registered")
	}
	for _, topic := range []string{"news", "sports"} {
		if ids := fixture.topics.SubscriberIDs(topic); len(ids) != 0 {
			t.Fatalf("session still subscribed to %s", topic)
		}
	}
	if n := fixture.logs.FilterField(zap.String("action", ActionDisconnect)).Len(); n != 1 {
		t.Fatalf("expected one DISCONNECT record, got %d", n)
	}
}

func TestDispatchUnregisteredSessionMayPublish(t *testing.T) {
	fixture := newDispatchFixture()
	subscriber, subscriberConn := newTestSession("10.0.0.1:1000")
	publisher, publisherConn := newTestSession("10.0.0.2:1000")

	fixture.dispatcher.Dispatch(subscriber, "SUBSCRIBE news")
	fixture.dispatcher.Dispatch(publisher, "PUBLISH news breaking")

	if got := lastLine(t, subscriberConn); got != "[Message] Topic: news Data: breaking" {
		t.Fatalf("subscriber got %q", got)
	}
	if lines := publisherConn.Lines(); len(lines) != 0 {
		t.Fatalf("publisher got replies %q", lines)
	}

	records := fixture.logs.FilterField(zap.String("action", ActionPublish)).All()
	if len(records) != 1 {
		t.Fatalf("expected one PUBLISH record, got %d", len(records))
	}
	fields := records[0].ContextMap()
	if fields["client"] != "" || fields["detail"] != "Topic: news Message: breaking" {
		t.Fatalf("unexpected PUBLISH fields %v", fields)
	}
}

func TestDispatchPublishPrunesBrokenSubscriber(t *testing.T) {
	fixture := newDispatchFixture()
	broken, brokenConn := newTestSession("10.0.0.1:1000")
	healthy, healthyConn := newTestSession("10.0.0.2:1000")
	publisher, _ := newTestSession("10.0.0.3:1000")

	fixture.dispatcher.Dispatch(broken, "SUBSCRIBE news")
	fixture.dispatcher.Dispatch(healthy, "SUBSCRIBE news")
	brokenConn.FailWrites(errBrokenPipe)

	fixture.dispatcher.Dispatch(publisher, "PUBLISH news one")
	fixture.dispatcher.Dispatch(publisher, "PUBLISH news two")

	lines := healthyConn.Lines()
	if len(lines) != 3 || !strings.HasSuffix(lines[2], "Data: two") {
		t.Fatalf("healthy subscriber lines %q", lines)
	}
	if !brokenConn.Closed() {
		t.Fatalf("broken subscriber was not closed")
	}
	if ids := fixture.topics.SubscriberIDs("news"); len(ids) != 1 || ids[0] != healthy.ID() {
		t.Fatalf("subscribers after prune %v", ids)
	}

	snapshot := fixture.stats.Snapshot()
	if snapshot.DeliveryFailures != 1 || snapshot.DeliveriesOut != 2 || snapshot.PublishIn != 2 {
		t.Fatalf("unexpected stats %+v", snapshot)
	}
	if n := fixture.logs.FilterField(zap.String("action", ActionDeliveryFailed)).Len(); n != 1 {
		t.Fatalf("expected one DELIVERY_FAILED record, got %d", n)
	}
}

var errBrokenPipe = errors.New("broken pipe")
