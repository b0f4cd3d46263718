// Package notify pushes settled matches to interested parties after a
// matching run: connected websocket clients and an optional Kafka topic.
package notify

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/stocksim/internal/models"
)

// Publisher delivers the matches from one run.
type Publisher interface {
	PublishMatches(ctx context.Context, matches []models.Match) error
}

// Multi fans matches out to every publisher and joins their errors.
type Multi []Publisher

// PublishMatches implements Publisher.
func (m Multi) PublishMatches(ctx context.Context, matches []models.Match) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishMatches(ctx, matches); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Event is the payload sent for a batch of matches.
type Event struct {
	Type    string         `json:"type"`
	Matches []models.Match `json:"matches"`
	// LastPrice is the execution price of the latest match, the current
	// share price as far as charts are concerned.
	LastPrice *decimal.Decimal `json:"lastPrice,omitempty"`
}

// NewMatchEvent builds the event for one run's matches.
func NewMatchEvent(matches []models.Match) Event {
	ev := Event{Type: "matches", Matches: matches}
	if len(matches) > 0 {
		last := matches[len(matches)-1].Price
		ev.LastPrice = &last
	}
	return ev
}
