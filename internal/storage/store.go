package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/agro-freight/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a conditional write found the row in a different state than
	// the caller expected; nothing was written.
	ErrConflict = errors.New("conflicting update")
	// ErrVehicleBusy means the vehicle was claimed by another shipment first.
	ErrVehicleBusy = errors.New("vehicle not available")
	ErrDuplicate   = errors.New("duplicate")
)

type ShipmentFilter struct {
	ClientID      string
	TransporterID string
	Status        models.Status
}

// AcceptParams describes the pending -> accepted write. The store applies it only if
// the shipment is still pending and the vehicle is still free and owned by the
// transporter.
type AcceptParams struct {
	ShipmentID     string
	TransporterID  string
	VehicleID      string
	EstimatedPrice float64 // zero leaves the field unchanged
	Event          models.TrackingEvent
	At             time.Time
}

// TransitionParams describes a status change guarded by From. Exactly one of
// TransporterID or ClientID scopes the lookup.
type TransitionParams struct {
	ShipmentID     string
	TransporterID  string
	ClientID       string
	From           models.Status
	To             models.Status
	ReleaseVehicle bool
	CountDelivery  bool
	Event          *models.TrackingEvent
	At             time.Time
}

type ShipmentStore interface {
	// CreateShipment persists the shipment and its tracking record seeded with one event.
	CreateShipment(ctx context.Context, s *models.Shipment, seed models.TrackingEvent) error
	GetShipment(ctx context.Context, id string) (*models.Shipment, error)
	ListShipments(ctx context.Context, f ShipmentFilter) ([]models.Shipment, error)
	AcceptShipment(ctx context.Context, p AcceptParams) (*models.Shipment, error)
	TransitionShipment(ctx context.Context, p TransitionParams) (*models.Shipment, error)
}

type TrackingStore interface {
	// AppendLocation appends a sample and moves the shipment's current location, only
	// while the shipment is in transit with the given transporter.
	AppendLocation(ctx context.Context, shipmentID, transporterID string, sample models.LocationSample) error
	AppendEvent(ctx context.Context, shipmentID string, ev models.TrackingEvent) error
	GetTracking(ctx context.Context, shipmentID string) (*models.TrackingRecord, error)
}

type VehicleLedger interface {
	CreateVehicle(ctx context.Context, v *models.Vehicle) error
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, transporterID string) ([]models.Vehicle, error)
}

type TransporterStore interface {
	// GetTransporter returns the stored profile or a fresh available one.
	GetTransporter(ctx context.Context, id string) (*models.Transporter, error)
	SetTransporterAvailability(ctx context.Context, id string, available bool, at time.Time) (*models.Transporter, error)
	// RecordTransporterRating stores r as the current rating and appends it to the
	// transporter's rating history.
	RecordTransporterRating(ctx context.Context, id string, r models.AIRating) (*models.Transporter, error)
}

// Store is everything the lifecycle service persists.
type Store interface {
	ShipmentStore
	TrackingStore
	VehicleLedger
	TransporterStore
}

func newTransporter(id string) *models.Transporter {
	return &models.Transporter{ID: id, IsAvailable: true}
}
