package backend

import (
	"context"
	"errors"
	"time"

	"github.com/example/trip-sync/internal/models"
)

// ErrNotFound is returned when a trip or message id is unknown.
var ErrNotFound = errors.New("backend: not found")

// Backend is the contract the client requires from the shared store:
// row storage plus conditional updates that report whether the predicate
// matched. A false return with a nil error means the conditional write
// affected zero rows and another writer won.
type Backend interface {
	CreateTrip(ctx context.Context, t *models.Trip) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)

	// ActiveTripFor returns the actor's current non-terminal trip, or
	// ErrNotFound.
	ActiveTripFor(ctx context.Context, actorID string, role models.Role) (*models.Trip, error)

	// UpdateTrip writes the full row if the stored version still equals
	// expectedVersion.
	UpdateTrip(ctx context.Context, t *models.Trip, expectedVersion int64) (bool, error)

	// ClaimTrip atomically binds a fulfiller: the write applies only
	// while the trip is still REQUESTING with no fulfiller bound.
	ClaimTrip(ctx context.Context, tripID, fulfillerID string) (bool, error)

	// OpenRequests lists unclaimed REQUESTING trips created within the
	// recency window, newest first.
	OpenRequests(ctx context.Context, window time.Duration) ([]*models.Trip, error)

	AppendEvent(ctx context.Context, ev models.TripEvent) error

	InsertMessage(ctx context.Context, m *models.Message) error
	UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus) (bool, error)
}

// ChangePublisher fans a committed mutation out on the change feed.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ev models.ChangeEvent) error
}
