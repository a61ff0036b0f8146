// Package events fans executed trades out to live subscribers and to Kafka.
package events

import (
	"context"
	"errors"

	"github.com/xtrntr/coinledger/internal/models"
)

// Publisher delivers a committed trade. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, t models.Trade) error
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, models.Trade) error { return nil }

// Fanout publishes to every publisher and joins their errors
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, t models.Trade) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
