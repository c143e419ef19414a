package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/agro-freight/internal/auth"
	"github.com/example/agro-freight/internal/broadcast"
	"github.com/example/agro-freight/internal/eta"
	"github.com/example/agro-freight/internal/geo"
	"github.com/example/agro-freight/internal/models"
	"github.com/example/agro-freight/internal/observability"
	"github.com/example/agro-freight/internal/storage"
)

// DefaultPricePerKm is the advisory rate in dinars per kilometre.
const DefaultPricePerKm = 100.0

// EventSink receives every committed lifecycle change.
type EventSink interface {
	PublishEvent(ctx context.Context, ev models.LifecycleEvent) error
}

// RatingQueue accepts background rating recalculations. Submit must not block.
type RatingQueue interface {
	Submit(transporterID string) bool
}

// Service is the shipment lifecycle orchestrator. It checks preconditions, then
// commits each change with a single conditional store write, then notifies.
// Publisher, Events and Ratings are optional.
type Service struct {
	Store      storage.Store
	Publisher  broadcast.Publisher
	Events     EventSink
	Ratings    RatingQueue
	PricePerKm float64
	SpeedKmh   float64
	Logger     *slog.Logger
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Create opens a pending shipment with its tracking record.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in models.ShipmentInput) (*models.Shipment, error) {
	if !actor.Role.ClientCapable() {
		return nil, fmt.Errorf("%w: only clients can create shipments", ErrForbiddenRole)
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	now := s.now()
	route := in.Route
	if route.Distance == 0 {
		route.Distance = geo.Round2(geo.Distance(in.Pickup.Location, in.Delivery.Location))
	}
	if route.Duration == 0 {
		route.Duration = eta.Minutes(route.Distance, s.SpeedKmh)
	}
	priceStatus := in.PriceStatus
	if priceStatus == "" {
		priceStatus = models.PriceProposed
	}
	sh := &models.Shipment{
		ID:              uuid.NewString(),
		ClientID:        actor.UserID,
		ProductType:     in.ProductType,
		Quantity:        in.Quantity,
		Weight:          in.Weight,
		Pickup:          in.Pickup,
		Delivery:        models.Delivery{Address: in.Delivery.Address, Location: in.Delivery.Location},
		Route:           route,
		Status:          models.StatusPending,
		Price:           in.Price,
		PriceStatus:     priceStatus,
		CurrentLocation: in.Pickup.Location,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	seed := models.SystemEvent(models.EventPickup, "Shipment request created", now)
	pickup := in.Pickup.Location
	seed.Location = &pickup
	if err := s.Store.CreateShipment(ctx, sh, seed); err != nil {
		return nil, fmt.Errorf("create shipment: %w", err)
	}
	observability.ShipmentTransitions.WithLabelValues(string(models.StatusPending)).Inc()
	s.log().Info("shipment created", "shipment_id", sh.ID, "client_id", sh.ClientID, "distance_km", route.Distance)
	s.emit(ctx, models.LifecycleEvent{Kind: models.LifecycleCreated, ShipmentID: sh.ID, Status: sh.Status, Location: &pickup, At: now})
	return sh, nil
}

// Accept assigns a pending shipment to transporterID using one of their vehicles.
func (s *Service) Accept(ctx context.Context, shipmentID, transporterID, vehicleID string) (*models.Shipment, error) {
	if vehicleID == "" {
		return nil, fmt.Errorf("%w: vehicleId is required", ErrValidation)
	}
	sh, err := s.Store.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, fromStore(err, "shipment", ErrInvalidState)
	}
	if sh.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: shipment is no longer available", ErrInvalidState)
	}
	v, err := s.Store.GetVehicle(ctx, vehicleID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get vehicle: %w", err)
	}
	if err != nil || v.TransporterID != transporterID {
		return nil, fmt.Errorf("%w: vehicle not found or not owned by transporter", ErrNotFound)
	}
	if v.Capacity < sh.Weight {
		return nil, fmt.Errorf("%w: capacity %.1ft below weight %.1ft", ErrCapacityExceeded, v.Capacity, sh.Weight)
	}
	if !v.IsAvailable {
		return nil, fmt.Errorf("%w: vehicle is not available", ErrInvalidState)
	}

	now := s.now()
	var estimate float64
	if sh.Route.Distance > 0 {
		estimate = math.Round(sh.Route.Distance * s.pricePerKm())
	}
	out, err := s.Store.AcceptShipment(ctx, storage.AcceptParams{
		ShipmentID:     shipmentID,
		TransporterID:  transporterID,
		VehicleID:      vehicleID,
		EstimatedPrice: estimate,
		Event:          models.SystemEvent(models.EventAccepted, "Shipment accepted by transporter", now),
		At:             now,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: shipment is no longer available", ErrInvalidState)
		}
		return nil, fromStore(err, "shipment", ErrInvalidState)
	}
	s.committed(ctx, out, now)
	return out, nil
}

// UpdateStatus moves one of transporterID's shipments along the status graph.
func (s *Service) UpdateStatus(ctx context.Context, shipmentID, transporterID string, to models.Status) (*models.Shipment, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	sh, err := s.transporterShipment(ctx, shipmentID, transporterID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(sh.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sh.Status, to)
	}
	now := s.now()
	ev := models.SystemEvent(eventFor(to), fmt.Sprintf("Status changed to %s", to), now)
	out, err := s.Store.TransitionShipment(ctx, storage.TransitionParams{
		ShipmentID:     shipmentID,
		TransporterID:  transporterID,
		From:           sh.Status,
		To:             to,
		ReleaseVehicle: to == models.StatusDelivered || to == models.StatusCancelled,
		CountDelivery:  to == models.StatusDelivered,
		Event:          &ev,
		At:             now,
	})
	if err != nil {
		return nil, fromStore(err, "shipment", ErrInvalidTransition)
	}
	if to == models.StatusDelivered && s.Ratings != nil {
		s.Ratings.Submit(transporterID)
	}
	s.committed(ctx, out, now)
	return out, nil
}

// Cancel withdraws a client's shipment while it is still pending.
func (s *Service) Cancel(ctx context.Context, shipmentID, clientID string) (*models.Shipment, error) {
	sh, err := s.Store.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, fromStore(err, "shipment", ErrInvalidState)
	}
	if sh.ClientID != clientID {
		return nil, fmt.Errorf("%w: shipment", ErrNotFound)
	}
	if sh.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: cannot cancel a shipment that is %s", ErrInvalidState, sh.Status)
	}
	now := s.now()
	ev := models.SystemEvent(models.EventCancelled, "Shipment cancelled by client", now)
	out, err := s.Store.TransitionShipment(ctx, storage.TransitionParams{
		ShipmentID: shipmentID,
		ClientID:   clientID,
		From:       models.StatusPending,
		To:         models.StatusCancelled,
		Event:      &ev,
		At:         now,
	})
	if err != nil {
		return nil, fromStore(err, "shipment", ErrInvalidState)
	}
	s.committed(ctx, out, now)
	return out, nil
}

// RecordLocation appends a GPS sample to an in-transit shipment and fans it out.
func (s *Service) RecordLocation(ctx context.Context, shipmentID, transporterID string, sample models.LocationSample) (*models.LocationSample, error) {
	if !models.ValidCoord(sample.Coordinates) {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	sh, err := s.transporterShipment(ctx, shipmentID, transporterID)
	if err != nil {
		return nil, err
	}
	if sh.Status != models.StatusInTransit {
		return nil, fmt.Errorf("%w: shipment is %s, not in transit", ErrInvalidState, sh.Status)
	}
	sample.Timestamp = s.now()
	if err := s.Store.AppendLocation(ctx, shipmentID, transporterID, sample); err != nil {
		return nil, fromStore(err, "shipment", ErrInvalidState)
	}
	observability.LocationSamples.Inc()
	s.publish(ctx, broadcast.LocationUpdate(shipmentID, sample))
	loc := sample.Coordinates
	s.emit(ctx, models.LifecycleEvent{
		Kind:        models.LifecycleLocation,
		ShipmentID:  shipmentID,
		Status:      models.StatusInTransit,
		Transporter: transporterID,
		VehicleID:   sh.VehicleID,
		Location:    &loc,
		Speed:       sample.Speed,
		Heading:     sample.Heading,
		At:          sample.Timestamp,
	})
	return &sample, nil
}

// RecordEvent appends a transporter-reported event in any status.
func (s *Service) RecordEvent(ctx context.Context, shipmentID, transporterID string, in models.EventInput) (*models.TrackingEvent, error) {
	ev, err := models.NewEvent(in, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if _, err := s.transporterShipment(ctx, shipmentID, transporterID); err != nil {
		return nil, err
	}
	if err := s.Store.AppendEvent(ctx, shipmentID, ev); err != nil {
		return nil, fromStore(err, "tracking record", ErrInvalidState)
	}
	return &ev, nil
}

// History returns the full trail of a shipment with its travelled distance.
func (s *Service) History(ctx context.Context, shipmentID, requesterID string) (*models.History, error) {
	tr, err := s.Tracking(ctx, shipmentID, requesterID)
	if err != nil {
		return nil, err
	}
	points := make([]models.Coord, len(tr.Locations))
	for i, l := range tr.Locations {
		points[i] = l.Coordinates
	}
	return &models.History{
		Locations:     tr.Locations,
		Events:        tr.Events,
		TotalDistance: geo.PathDistance(points),
	}, nil
}

// Tracking returns the current tracking record.
func (s *Service) Tracking(ctx context.Context, shipmentID, requesterID string) (*models.TrackingRecord, error) {
	if _, err := s.Get(ctx, shipmentID, requesterID); err != nil {
		return nil, err
	}
	tr, err := s.Store.GetTracking(ctx, shipmentID)
	if err != nil {
		return nil, fromStore(err, "tracking record", ErrInvalidState)
	}
	return tr, nil
}

// Get returns a shipment to one of its parties.
func (s *Service) Get(ctx context.Context, shipmentID, requesterID string) (*models.Shipment, error) {
	sh, err := s.Store.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, fromStore(err, "shipment", ErrInvalidState)
	}
	if !sh.HasParty(requesterID) {
		return nil, fmt.Errorf("%w: not a party to this shipment", ErrForbidden)
	}
	return sh, nil
}

// Authorize checks that requesterID may follow shipmentID live.
func (s *Service) Authorize(ctx context.Context, shipmentID, requesterID string) error {
	_, err := s.Get(ctx, shipmentID, requesterID)
	return err
}

func (s *Service) ListForClient(ctx context.Context, clientID string, status models.Status) ([]models.Shipment, error) {
	return s.list(ctx, storage.ShipmentFilter{ClientID: clientID, Status: status})
}

func (s *Service) ListForTransporter(ctx context.Context, transporterID string, status models.Status) ([]models.Shipment, error) {
	return s.list(ctx, storage.ShipmentFilter{TransporterID: transporterID, Status: status})
}

// ListAvailable returns pending shipments, or nothing when the transporter is off
// duty or has no free vehicle.
func (s *Service) ListAvailable(ctx context.Context, transporterID string) ([]models.Shipment, error) {
	tp, err := s.Store.GetTransporter(ctx, transporterID)
	if err != nil {
		return nil, fmt.Errorf("get transporter: %w", err)
	}
	if !tp.IsAvailable {
		return []models.Shipment{}, nil
	}
	vehicles, err := s.Store.ListVehicles(ctx, transporterID)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", err)
	}
	free := false
	for _, v := range vehicles {
		if v.IsAvailable {
			free = true
			break
		}
	}
	if !free {
		return []models.Shipment{}, nil
	}
	return s.list(ctx, storage.ShipmentFilter{Status: models.StatusPending})
}

func (s *Service) list(ctx context.Context, f storage.ShipmentFilter) ([]models.Shipment, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	out, err := s.Store.ListShipments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list shipments: %w", err)
	}
	return out, nil
}

// RegisterVehicle adds a free vehicle to the actor's fleet.
func (s *Service) RegisterVehicle(ctx context.Context, actor auth.Actor, in models.VehicleInput) (*models.Vehicle, error) {
	if actor.Role != auth.RoleTransporter {
		return nil, fmt.Errorf("%w: only transporters register vehicles", ErrForbiddenRole)
	}
	now := s.now()
	if err := in.Validate(now); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	v := &models.Vehicle{
		ID:            uuid.NewString(),
		TransporterID: actor.UserID,
		Type:          in.Type,
		Capacity:      in.Capacity,
		LicensePlate:  in.LicensePlate,
		Model:         in.Model,
		Year:          in.Year,
		IsAvailable:   true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Location != nil {
		v.CurrentLocation = *in.Location
	}
	if err := s.Store.CreateVehicle(ctx, v); err != nil {
		return nil, fromStore(err, "vehicle", ErrInvalidState)
	}
	return s.Store.GetVehicle(ctx, v.ID)
}

func (s *Service) ListVehicles(ctx context.Context, transporterID string) ([]models.Vehicle, error) {
	return s.Store.ListVehicles(ctx, transporterID)
}

// SetAvailability toggles whether the actor sees open requests.
func (s *Service) SetAvailability(ctx context.Context, actor auth.Actor, available bool) (*models.Transporter, error) {
	if actor.Role != auth.RoleTransporter {
		return nil, fmt.Errorf("%w: only transporters have an availability", ErrForbiddenRole)
	}
	return s.Store.SetTransporterAvailability(ctx, actor.UserID, available, s.now())
}

// Transporter returns a transporter's profile, including their rating history.
func (s *Service) Transporter(ctx context.Context, transporterID string) (*models.Transporter, error) {
	if transporterID == "" {
		return nil, fmt.Errorf("%w: transporter id is required", ErrValidation)
	}
	return s.Store.GetTransporter(ctx, transporterID)
}

func (s *Service) transporterShipment(ctx context.Context, shipmentID, transporterID string) (*models.Shipment, error) {
	sh, err := s.Store.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, fromStore(err, "shipment", ErrInvalidState)
	}
	if transporterID == "" || sh.Transporter != transporterID {
		return nil, fmt.Errorf("%w: shipment", ErrNotFound)
	}
	return sh, nil
}

func (s *Service) pricePerKm() float64 {
	if s.PricePerKm > 0 {
		return s.PricePerKm
	}
	return DefaultPricePerKm
}

// committed runs the notifications that follow a status change.
func (s *Service) committed(ctx context.Context, sh *models.Shipment, at time.Time) {
	observability.ShipmentTransitions.WithLabelValues(string(sh.Status)).Inc()
	s.log().Info("shipment status changed", "shipment_id", sh.ID, "status", sh.Status, "transporter_id", sh.Transporter)
	s.publish(ctx, broadcast.StatusUpdate(sh.ID, sh.Status, at))
	s.emit(ctx, models.LifecycleEvent{
		Kind:        models.LifecycleStatus,
		ShipmentID:  sh.ID,
		Status:      sh.Status,
		Transporter: sh.Transporter,
		VehicleID:   sh.VehicleID,
		At:          at,
	})
}

func (s *Service) publish(ctx context.Context, msg broadcast.Message) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, msg); err != nil {
		s.log().Warn("broadcast publish failed", "shipment_id", msg.ShipmentID, "type", msg.Type, "error", err)
	}
}

func (s *Service) emit(ctx context.Context, ev models.LifecycleEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishEvent(ctx, ev); err != nil {
		observability.LifecycleEvents.WithLabelValues("failed").Inc()
		s.log().Warn("lifecycle event not published", "shipment_id", ev.ShipmentID, "kind", ev.Kind, "error", err)
		return
	}
	observability.LifecycleEvents.WithLabelValues("published").Inc()
}
