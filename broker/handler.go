package broker

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/Thejuampi/topicbus/protocol"
)

// handle reads command lines from session until the peer goes away, the
// session is closed, or the client sends DISCONNECT. Cleanup always runs
// through release, whichever way the loop ends.
func (server *Server) handle(session *Session) {
	defer server.release(session)

	reader := protocol.NewLineReader(session.conn, server.config.MaxLineLength)
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, protocol.ErrLineTooLong) {
			server.dispatcher.reply(session, protocol.Error("Command too long"))
			continue
		}
		if err != nil {
			server.events.record(ActionDisconnect, session, disconnectReason(err))
			if !isClosedError(err) {
				server.logger.Debug("read failed", zap.Stringer("conn_id", session.ID()), zap.Error(err))
			}
			return
		}

		if server.dispatcher.Dispatch(session, line) {
			return
		}
	}
}

func disconnectReason(err error) string {
	if errors.Is(err, io.EOF) {
		return "End of file"
	}
	return err.Error()
}
