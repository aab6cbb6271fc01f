package broker

import (
	"go.uber.org/zap"
)

// Actions recorded in the broker's event log.
const (
	ActionConnect         = "CONNECT"
	ActionConnectionError = "CONNECTION_ERROR"
	ActionDisconnect      = "DISCONNECT"
	ActionSubscribe       = "SUBSCRIBE"
	ActionUnsubscribe     = "UNSUBSCRIBE"
	ActionPublish         = "PUBLISH"
	ActionDeliveryFailed  = "DELIVERY_FAILED"
)

// eventLog writes one structured record per client action. Client fields are
// empty for connections that never sent CONNECT; socket fields are always set.
type eventLog struct {
	logger  *zap.Logger
	clients *ClientRegistry
}

func (events eventLog) record(action string, session *Session, detail string) {
	info, _ := events.clients.Lookup(session.ID())
	events.logger.Info("action",
		zap.String("action", action),
		zap.String("detail", detail),
		zap.String("client", info.Name),
		zap.Int("pid", info.PID),
		zap.String("ip", session.RemoteIP()),
		zap.Int("client_port", session.RemotePort()),
		zap.Int("server_port", session.LocalPort()),
		zap.Stringer("conn_id", session.ID()),
	)
}
