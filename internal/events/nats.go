package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/org/duressvault/pkg/models"
	"github.com/rs/zerolog"
)

const (
	// DefaultSubjectPrefix is the subject prefix for published events; the
	// event type is appended (e.g. duress.events.panic_triggered).
	DefaultSubjectPrefix = "duress.events"

	connectTimeout = 10 * time.Second
	reconnectWait  = 5 * time.Second
)

// NATSPublisher publishes operation events to a NATS subject per event type.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewNATSPublisher connects to NATS and returns a ready publisher.
func NewNATSPublisher(natsURL, subjectPrefix string, log zerolog.Logger) (*NATSPublisher, error) {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	conn, err := nats.Connect(natsURL,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", natsURL, err)
	}
	log.Info().Str("url", natsURL).Str("subject_prefix", subjectPrefix).Msg("nats publisher connected")
	return &NATSPublisher{conn: conn, prefix: subjectPrefix, log: log}, nil
}

// Publish sends the event as JSON with identifying headers.
func (p *NATSPublisher) Publish(_ context.Context, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	msg := nats.NewMsg(p.prefix + "." + ev.Type)
	msg.Data = data
	msg.Header.Set("x-event-id", ev.ID)
	msg.Header.Set("x-event-type", ev.Type)
	msg.Header.Set("x-event-owner", string(ev.Owner))
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	p.log.Debug().Str("event_id", ev.ID).Str("subject", msg.Subject).Msg("event published")
	return nil
}

func (p *NATSPublisher) Close() {
	p.conn.Close()
}
