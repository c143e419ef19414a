package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/agro-freight/internal/models"
)

// MemoryStore keeps everything in maps behind one mutex, which is what makes the
// conditional writes atomic.
type MemoryStore struct {
	mu           sync.RWMutex
	shipments    map[string]*models.Shipment
	tracking     map[string]*models.TrackingRecord
	vehicles     map[string]*models.Vehicle
	plates       map[string]string
	transporters map[string]*models.Transporter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shipments:    make(map[string]*models.Shipment),
		tracking:     make(map[string]*models.TrackingRecord),
		vehicles:     make(map[string]*models.Vehicle),
		plates:       make(map[string]string),
		transporters: make(map[string]*models.Transporter),
	}
}

func (m *MemoryStore) CreateShipment(_ context.Context, s *models.Shipment, seed models.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shipments[s.ID]; ok {
		return fmt.Errorf("shipment %s: %w", s.ID, ErrDuplicate)
	}
	m.shipments[s.ID] = cloneShipment(s)
	m.tracking[s.ID] = &models.TrackingRecord{
		ShipmentID: s.ID,
		Locations:  []models.LocationSample{},
		Events:     []models.TrackingEvent{seed},
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.CreatedAt,
	}
	return nil
}

func (m *MemoryStore) GetShipment(_ context.Context, id string) (*models.Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shipments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneShipment(s), nil
}

func (m *MemoryStore) ListShipments(_ context.Context, f ShipmentFilter) ([]models.Shipment, error) {
	m.mu.RLock()
	out := make([]models.Shipment, 0)
	for _, s := range m.shipments {
		if f.ClientID != "" && s.ClientID != f.ClientID {
			continue
		}
		if f.TransporterID != "" && s.Transporter != f.TransporterID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, *cloneShipment(s))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) AcceptShipment(_ context.Context, p AcceptParams) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[p.ShipmentID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.StatusPending {
		return nil, fmt.Errorf("shipment %s is %s: %w", s.ID, s.Status, ErrConflict)
	}
	v, ok := m.vehicles[p.VehicleID]
	if !ok || v.TransporterID != p.TransporterID {
		return nil, fmt.Errorf("vehicle %s: %w", p.VehicleID, ErrNotFound)
	}
	if !v.IsAvailable {
		return nil, fmt.Errorf("vehicle %s: %w", p.VehicleID, ErrVehicleBusy)
	}

	s.Transporter = p.TransporterID
	s.VehicleID = p.VehicleID
	s.Status = models.StatusAccepted
	if p.EstimatedPrice > 0 {
		s.EstimatedPrice = p.EstimatedPrice
	}
	s.UpdatedAt = p.At
	v.IsAvailable = false
	v.UpdatedAt = p.At
	m.appendEventLocked(s.ID, p.Event, p.At)
	return cloneShipment(s), nil
}

func (m *MemoryStore) TransitionShipment(_ context.Context, p TransitionParams) (*models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[p.ShipmentID]
	if !ok {
		return nil, ErrNotFound
	}
	if p.TransporterID != "" && s.Transporter != p.TransporterID {
		return nil, ErrNotFound
	}
	if p.ClientID != "" && s.ClientID != p.ClientID {
		return nil, ErrNotFound
	}
	if s.Status != p.From {
		return nil, fmt.Errorf("shipment %s is %s, expected %s: %w", s.ID, s.Status, p.From, ErrConflict)
	}

	s.Status = p.To
	s.UpdatedAt = p.At
	if p.To == models.StatusDelivered {
		at := p.At
		s.Delivery.Date = &at
	}
	if p.ReleaseVehicle && s.VehicleID != "" {
		if v, ok := m.vehicles[s.VehicleID]; ok {
			v.IsAvailable = true
			v.UpdatedAt = p.At
		}
	}
	if p.CountDelivery && s.Transporter != "" {
		t := m.transporterLocked(s.Transporter)
		t.TotalDeliveries++
		t.UpdatedAt = p.At
	}
	if p.Event != nil {
		m.appendEventLocked(s.ID, *p.Event, p.At)
	}
	return cloneShipment(s), nil
}

func (m *MemoryStore) AppendLocation(_ context.Context, shipmentID, transporterID string, sample models.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[shipmentID]
	if !ok || s.Transporter != transporterID {
		return ErrNotFound
	}
	if s.Status != models.StatusInTransit {
		return fmt.Errorf("shipment %s is %s: %w", s.ID, s.Status, ErrConflict)
	}
	tr, ok := m.tracking[shipmentID]
	if !ok {
		return fmt.Errorf("tracking %s: %w", shipmentID, ErrNotFound)
	}
	tr.Locations = append(tr.Locations, sample)
	tr.UpdatedAt = sample.Timestamp
	s.CurrentLocation = sample.Coordinates
	s.UpdatedAt = sample.Timestamp
	if v, ok := m.vehicles[s.VehicleID]; ok {
		v.CurrentLocation = sample.Coordinates
	}
	return nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, shipmentID string, ev models.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tracking[shipmentID]; !ok {
		return ErrNotFound
	}
	m.appendEventLocked(shipmentID, ev, ev.Timestamp)
	return nil
}

func (m *MemoryStore) GetTracking(_ context.Context, shipmentID string) (*models.TrackingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.tracking[shipmentID]
	if !ok {
		return nil, ErrNotFound
	}
	return tr.Clone(), nil
}

func (m *MemoryStore) CreateVehicle(_ context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plate := strings.ToUpper(v.LicensePlate)
	if _, ok := m.plates[plate]; ok {
		return fmt.Errorf("license plate %s: %w", plate, ErrDuplicate)
	}
	cp := *v
	cp.LicensePlate = plate
	m.vehicles[v.ID] = &cp
	m.plates[plate] = v.ID
	return nil
}

func (m *MemoryStore) GetVehicle(_ context.Context, id string) (*models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) ListVehicles(_ context.Context, transporterID string) ([]models.Vehicle, error) {
	m.mu.RLock()
	out := make([]models.Vehicle, 0)
	for _, v := range m.vehicles {
		if v.TransporterID == transporterID {
			out = append(out, *v)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetTransporter(_ context.Context, id string) (*models.Transporter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.transporters[id]; ok {
		return cloneTransporter(t), nil
	}
	return newTransporter(id), nil
}

func (m *MemoryStore) SetTransporterAvailability(_ context.Context, id string, available bool, at time.Time) (*models.Transporter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.transporterLocked(id)
	t.IsAvailable = available
	t.UpdatedAt = at
	return cloneTransporter(t), nil
}

func (m *MemoryStore) RecordTransporterRating(_ context.Context, id string, r models.AIRating) (*models.Transporter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.transporterLocked(id)
	t.Rating = r.Score
	t.AIRating = &r
	t.RatingHistory = append(t.RatingHistory, models.RatingEntry{Score: r.Score, Category: r.Category, At: r.LastUpdated})
	t.UpdatedAt = r.LastUpdated
	return cloneTransporter(t), nil
}

func (m *MemoryStore) transporterLocked(id string) *models.Transporter {
	t, ok := m.transporters[id]
	if !ok {
		t = newTransporter(id)
		m.transporters[id] = t
	}
	return t
}

func cloneTransporter(t *models.Transporter) *models.Transporter {
	cp := *t
	if t.AIRating != nil {
		ai := *t.AIRating
		cp.AIRating = &ai
	}
	cp.RatingHistory = append([]models.RatingEntry(nil), t.RatingHistory...)
	return &cp
}

func (m *MemoryStore) appendEventLocked(shipmentID string, ev models.TrackingEvent, at time.Time) {
	tr, ok := m.tracking[shipmentID]
	if !ok {
		return
	}
	tr.Events = append(tr.Events, ev)
	tr.UpdatedAt = at
}

func cloneShipment(s *models.Shipment) *models.Shipment {
	cp := *s
	if s.Delivery.Date != nil {
		d := *s.Delivery.Date
		cp.Delivery.Date = &d
	}
	return &cp
}
