package broker

import (
	"go.uber.org/zap"

	"github.com/Thejuampi/topicbus/protocol"
)

// Dispatcher routes parsed command lines to the registries and writes the
// replies. Commands are not gated on CONNECT: an unregistered connection may
// subscribe and publish, it just has no client metadata in the event log.
type Dispatcher struct {
	clients *ClientRegistry
	topics  *TopicRegistry
	stats   *Stats
	events  eventLog
	logger  *zap.Logger
}

// NewDispatcher returns a Dispatcher over the given registries. A nil stats
// gets a private counter set.
func NewDispatcher(clients *ClientRegistry, topics *TopicRegistry, stats *Stats, logger *zap.Logger) *Dispatcher {
	if stats == nil {
		stats = new(Stats)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		clients: clients,
		topics:  topics,
		stats:   stats,
		events:  eventLog{logger: logger, clients: clients},
		logger:  logger,
	}
}

// Dispatch handles one command line from session. It returns true when the
// connection must terminate.
func (dispatcher *Dispatcher) Dispatch(session *Session, line string) bool {
	command := protocol.ParseLine(line)
	if command.Keyword == "" {
		return false
	}
	dispatcher.stats.commandsIn.Add(1)

	switch command.Keyword {
	case protocol.KeywordConnect:
		dispatcher.connect(session, command.Args)
	case protocol.KeywordDisconnect:
		dispatcher.disconnect(session)
		return true
	case protocol.KeywordSubscribe:
		dispatcher.subscribe(session, command.Args)
	case protocol.KeywordUnsubscribe:
		dispatcher.unsubscribe(session, command.Args)
	case protocol.KeywordPublish:
		dispatcher.publish(session, command.Args)
	default:
		dispatcher.stats.unknownCommands.Add(1)
		dispatcher.reply(session, protocol.Error("Unknown command: "+command.Keyword))
	}
	return false
}

func (dispatcher *Dispatcher) reply(session *Session, line string) {
	if err := session.WriteLine(line); err != nil {
		dispatcher.logger.Debug("reply failed", zap.Stringer("conn_id", session.ID()), zap.Error(err))
	}
}

func (dispatcher *Dispatcher) connect(session *Session, args string) {
	connect, err := protocol.ParseConnect(args)
	if err != nil {
		dispatcher.events.record(ActionConnectionError, session, "Client connect message is malformed.")
		return
	}

	name := dispatcher.clients.Register(session.ID(), Registration{
		Name:          connect.Name,
		PID:           connect.PID,
		AnnouncedPort: connect.Port,
		IP:            session.RemoteIP(),
		ClientPort:    session.RemotePort(),
		ServerPort:    session.LocalPort(),
	})
	dispatcher.events.record(ActionConnect, session, "success")
	dispatcher.reply(session, protocol.Info("Connected as "+name))
}

func (dispatcher *Dispatcher) disconnect(session *Session) {
	dispatcher.events.record(ActionDisconnect, session, "success")
	dispatcher.detach(session)
	dispatcher.reply(session, protocol.Info("Disconnected"))
	_ = session.Close()
}

// detach removes session from both registries. It is idempotent.
func (dispatcher *Dispatcher) detach(session *Session) {
	dispatcher.topics.UnsubscribeAll(session.ID())
	dispatcher.clients.Unregister(session.ID())
}

func (dispatcher *Dispatcher) subscribe(session *Session, args string) {
	topic, outcome := dispatcher.topics.Subscribe(session, args)
	switch outcome {
	case OutcomeInvalidTopic:
		dispatcher.reply(session, protocol.Error(invalidTopicText))
	case OutcomeAlreadySubscribed:
		dispatcher.reply(session, protocol.Info("Already subscribed to "+topic))
	default:
		dispatcher.events.record(ActionSubscribe, session, "Topic: "+topic)
		dispatcher.reply(session, protocol.Info("Subscribed to "+topic))
	}
}

func (dispatcher *Dispatcher) unsubscribe(session *Session, args string) {
	topic, outcome := dispatcher.topics.Unsubscribe(session, args)
	switch outcome {
	case OutcomeInvalidTopic:
		dispatcher.reply(session, protocol.Error(invalidTopicText))
	case OutcomeNotSubscribed:
		dispatcher.reply(session, protocol.Error("You are not subscribed to "+topic))
	default:
		dispatcher.events.record(ActionUnsubscribe, session, "Topic: "+topic)
		dispatcher.reply(session, protocol.Info("Unsubscribed from "+topic))
	}
}

func (dispatcher *Dispatcher) publish(session *Session, args string) {
	topic, payload, ok := protocol.SplitPublish(args)
	if !ok {
		dispatcher.reply(session, protocol.Error("Invalid publish format! Topic or message missing."))
		return
	}
	dispatcher.stats.publishIn.Add(1)

	result := dispatcher.topics.Publish(topic, payload)
	switch result.Outcome {
	case OutcomeInvalidTopic:
		dispatcher.reply(session, protocol.Error(invalidTopicText))
	case OutcomeInvalidPayload:
		dispatcher.reply(session, protocol.Error(invalidMessageText))
	case OutcomeNoSubscribers:
		dispatcher.reply(session, protocol.Error("No subscribers for topic: "+result.Topic))
	default:
		dispatcher.stats.deliveriesOut.Add(uint64(result.Delivered))
		dispatcher.events.record(ActionPublish, session, "Topic: "+result.Topic+" Message: "+result.Payload)
		for _, failed := range result.Failed {
			dispatcher.stats.deliveryFailures.Add(1)
			dispatcher.logger.Warn("action",
				zap.String("action", ActionDeliveryFailed),
				zap.String("detail", "Topic: "+result.Topic),
				zap.Stringer("conn_id", failed),
			)
		}
	}
}
