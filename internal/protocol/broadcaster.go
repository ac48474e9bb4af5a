package protocol

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/ppiankov/surety/internal/entropy"
	"github.com/ppiankov/surety/internal/eventlog"
	"github.com/ppiankov/surety/internal/model"
	"go.uber.org/zap"
)

// Broadcaster shards flight-status queries to a random index and announces them
type Broadcaster struct {
	store      *Store
	source     entropy.Source
	indexSpace int
	events     eventlog.Publisher
	log        *zap.Logger
}

// NewBroadcaster creates a broadcaster drawing indices in [0, indexSpace)
func NewBroadcaster(store *Store, source entropy.Source, indexSpace int, events eventlog.Publisher, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		store:      store,
		source:     source,
		indexSpace: indexSpace,
		events:     events,
		log:        log,
	}
}

// RequestStatus selects an index for the flight, opens the request if it does
// not exist yet and always emits StatusRequested, so repeated queries re-broadcast.
// A failed broadcast returns the key with the error and is safe to retry.
func (b *Broadcaster) RequestStatus(ctx context.Context, flight model.FlightKey) (model.RequestKey, error) {
	index := entropy.Index(b.source, b.indexSpace,
		[]byte(flight.Airline),
		[]byte(flight.Flight),
		[]byte(strconv.FormatInt(flight.Timestamp, 10)),
	)
	key := model.RequestKey{Index: index, FlightKey: flight}

	_, created := b.store.getOrCreate(key)

	_, err := b.events.Publish(ctx, model.EventStatusRequested, model.StatusRequested{
		Index:     key.Index,
		Airline:   flight.Airline,
		Flight:    flight.Flight,
		Timestamp: flight.Timestamp,
	})
	if err != nil {
		// the request stays open; calling again re-broadcasts it
		b.log.Warn("status request not broadcast",
			zap.Stringer("request", key),
			zap.Bool("created", created),
			zap.Error(err))
		return key, errors.Wrapf(err, "broadcast %s", key)
	}

	b.log.Info("status requested",
		zap.Stringer("request", key),
		zap.Bool("created", created))

	return key, nil
}
