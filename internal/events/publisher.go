// Package events publishes operation events to interested listeners. The
// durable copy of every event lives in storage, written inside the
// operation's transaction; publishing here is best-effort fan-out.
package events

import (
	"context"

	"github.com/org/duressvault/pkg/models"
)

// Publisher delivers committed operation events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, ev *models.Event) error
	Close()
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, *models.Event) error { return nil }
func (NopPublisher) Close()                                       {}
