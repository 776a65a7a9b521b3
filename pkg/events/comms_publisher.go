package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/ipc-bridge/pkg/commsutil"
	"github.com/morezero/ipc-bridge/pkg/wire"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// SubjectPrefix overrides the event subject prefix (e.g. from IPC_EVENT_SUBJECT_PREFIX).
	SubjectPrefix string
}

// CommsPublisher publishes server events to COMMS subjects.
type CommsPublisher struct {
	nc            *comms.Conn
	subjectPrefix string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	prefix := commsutil.SubjectEventPrefix
	if opts != nil && opts.SubjectPrefix != "" {
		prefix = opts.SubjectPrefix
	}
	return &CommsPublisher{nc: nc, subjectPrefix: prefix}
}

// Header names set on every published event.
const (
	HeaderEvent     = "Ipc-Event"
	HeaderRequestID = "X-Request-Id"
)

// Publish sends the event to its granular subject (<prefix>.<name>[.<endpoint>])
// and to the prefix subject that carries every event. The event name and
// request id travel as headers so subscribers can filter without decoding.
func (p *CommsPublisher) Publish(_ context.Context, event *Event) error {
	data, err := wire.Encode(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	granularSubject := commsutil.BuildEventSubject(p.subjectPrefix, event.Name, event.Endpoint)
	for _, subject := range []string{granularSubject, p.subjectPrefix} {
		if err := p.nc.PublishMsg(eventMsg(subject, event, data)); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
			return fmt.Errorf("%s - publish %s: %w", commsPublisherLogPrefix, subject, err)
		}
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event to %s", commsPublisherLogPrefix, event.Name, granularSubject))
	return nil
}

func eventMsg(subject string, event *Event, data []byte) *comms.Msg {
	msg := comms.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderEvent, event.Name)
	if event.RequestID != "" {
		msg.Header.Set(HeaderRequestID, event.RequestID)
	}
	return msg
}
