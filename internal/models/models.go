package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Status is the lifecycle state of a shipment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusInTransit, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses have no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Active statuses hold a vehicle.
func (s Status) Active() bool {
	return s == StatusAccepted || s == StatusInTransit
}

type PriceStatus string

const (
	PriceProposed    PriceStatus = "proposed"
	PriceNegotiating PriceStatus = "negotiating"
	PriceAgreed      PriceStatus = "agreed"
)

func (p PriceStatus) Valid() bool {
	return p == PriceProposed || p == PriceNegotiating || p == PriceAgreed
}

type Pickup struct {
	Address  string    `json:"address"`
	Location Coord     `json:"location"`
	Date     time.Time `json:"date"`
}

type Delivery struct {
	Address  string     `json:"address"`
	Location Coord      `json:"location"`
	Date     *time.Time `json:"date,omitempty"`
}

// Route metrics are filled opportunistically and may be zero.
type Route struct {
	Distance float64 `json:"distance,omitempty"` // km
	Duration float64 `json:"duration,omitempty"` // minutes
	Polyline string  `json:"polyline,omitempty"`
}

type Shipment struct {
	ID          string `json:"id"`
	ClientID    string `json:"client"`
	Transporter string `json:"transporter,omitempty"`
	VehicleID   string `json:"vehicle,omitempty"`

	ProductType string  `json:"productType"`
	Quantity    float64 `json:"quantity"`
	Weight      float64 `json:"weight"` // tonnes

	Pickup   Pickup   `json:"pickup"`
	Delivery Delivery `json:"delivery"`
	Route    Route    `json:"route"`

	Status         Status      `json:"status"`
	Price          float64     `json:"price"`
	PriceStatus    PriceStatus `json:"priceStatus"`
	EstimatedPrice float64     `json:"estimatedPrice,omitempty"`

	CurrentLocation Coord  `json:"currentLocation"`
	Notes           string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasParty reports whether userID is the client or the assigned transporter.
func (s *Shipment) HasParty(userID string) bool {
	if userID == "" {
		return false
	}
	return s.ClientID == userID || (s.Transporter != "" && s.Transporter == userID)
}

type VehicleType string

const (
	VehicleTruck    VehicleType = "camion"
	VehicleSemi     VehicleType = "semi-remorque"
	VehicleVan      VehicleType = "camionnette"
	VehicleBoxTruck VehicleType = "fourgon"
)

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleTruck, VehicleSemi, VehicleVan, VehicleBoxTruck:
		return true
	}
	return false
}

type Vehicle struct {
	ID              string      `json:"id"`
	TransporterID   string      `json:"transporter"`
	Type            VehicleType `json:"vehicleType"`
	Capacity        float64     `json:"capacity"` // tonnes
	LicensePlate    string      `json:"licensePlate"`
	Model           string      `json:"model"`
	Year            int         `json:"year"`
	IsAvailable     bool        `json:"isAvailable"`
	CurrentLocation Coord       `json:"currentLocation"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Transporter is the transporter-side profile keyed by user id. Rating mirrors
// AIRating.Score once the rating service has scored the transporter.
type Transporter struct {
	ID              string        `json:"id"`
	IsAvailable     bool          `json:"isAvailable"`
	TotalDeliveries int           `json:"totalDeliveries"`
	Rating          float64       `json:"rating"`
	AIRating        *AIRating     `json:"aiRating,omitempty"`
	RatingHistory   []RatingEntry `json:"ratingHistory,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// AIRating is the latest score returned by the rating service.
type AIRating struct {
	Score       float64   `json:"score"`
	Category    string    `json:"category"`
	TotalTrips  int       `json:"totalTripsAnalyzed"`
	Consistency float64   `json:"consistency"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// RatingEntry is one past score, oldest first in RatingHistory.
type RatingEntry struct {
	Score    float64   `json:"score"`
	Category string    `json:"category"`
	At       time.Time `json:"date"`
}

type LocationSample struct {
	Coordinates Coord     `json:"coordinates"`
	Timestamp   time.Time `json:"timestamp"`
	Speed       float64   `json:"speed"`   // km/h
	Heading     float64   `json:"heading"` // degrees, 0..360
}

type TrackingRecord struct {
	ShipmentID string           `json:"shipment"`
	Locations  []LocationSample `json:"locations"`
	Events     []TrackingEvent  `json:"events"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy so callers cannot alias store internals.
func (t *TrackingRecord) Clone() *TrackingRecord {
	out := *t
	out.Locations = make([]LocationSample, len(t.Locations))
	copy(out.Locations, t.Locations)
	out.Events = make([]TrackingEvent, len(t.Events))
	for i, e := range t.Events {
		if e.Location != nil {
			loc := *e.Location
			e.Location = &loc
		}
		out.Events[i] = e
	}
	return &out
}

// History is the derived view returned for a shipment's full trail.
type History struct {
	Locations     []LocationSample `json:"locations"`
	Events        []TrackingEvent  `json:"events"`
	TotalDistance float64          `json:"totalDistance"` // km
}

// LifecycleEvent is emitted for every committed change to a shipment and is what
// downstream consumers (kafka topic, live position index) see.
type LifecycleEvent struct {
	Kind        string    `json:"kind"` // created, status, location
	ShipmentID  string    `json:"shipment_id"`
	Status      Status    `json:"status"`
	Transporter string    `json:"transporter,omitempty"`
	VehicleID   string    `json:"vehicle,omitempty"`
	Location    *Coord    `json:"location,omitempty"`
	Speed       float64   `json:"speed,omitempty"`
	Heading     float64   `json:"heading,omitempty"`
	At          time.Time `json:"at"`
}

const (
	LifecycleCreated  = "created"
	LifecycleStatus   = "status"
	LifecycleLocation = "location"
)
