package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/ipc-bridge/pkg/commsutil"
	"github.com/morezero/ipc-bridge/pkg/dispatcher"
	"github.com/morezero/ipc-bridge/pkg/wire"
)

const commsLogPrefix = "server:comms"

// ServeComms answers IPC requests arriving on a COMMS subject. The envelope is
// the message body; Authorization, X-IPC-Version and X-Request-Id travel as
// message headers. Each message is dispatched on its own goroutine.
func (s *Server) ServeComms(nc *comms.Conn, subject string) error {
	if subject == "" {
		subject = commsutil.SubjectRPC
	}
	s.LoadPending()

	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		go s.handleMsg(msg)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, subject, err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Subscribed to %s", commsLogPrefix, subject))
	return nil
}

func (s *Server) handleMsg(msg *comms.Msg) {
	requestID := msg.Header.Get(wire.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	out, _ := s.dispatcher.Dispatch(context.Background(), &dispatcher.Call{
		Authorization: msg.Header.Get(wire.HeaderAuthorization),
		Version:       msg.Header.Get(wire.HeaderVersion),
		RequestID:     requestID,
		Body:          msg.Data,
	})

	if msg.Reply == "" {
		slog.Debug(fmt.Sprintf("%s - id=%s: no reply subject, dropping response", commsLogPrefix, requestID))
		return
	}
	reply := comms.NewMsg(msg.Reply)
	reply.Header.Set(wire.HeaderRequestID, requestID)
	reply.Data = out
	if err := msg.RespondMsg(reply); err != nil {
		slog.Error(fmt.Sprintf("%s - id=%s: failed to respond: %v", commsLogPrefix, requestID, err))
	}
}
