package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/agro-freight/internal/models"
	"github.com/example/agro-freight/internal/observability"
)

const (
	TypeLocationUpdate = "location-update"
	TypeStatusUpdate   = "status-update"
)

// Message is what subscribers of a shipment receive.
type Message struct {
	Type       string        `json:"type"`
	ShipmentID string        `json:"shipmentId"`
	Location   *models.Coord `json:"location,omitempty"`
	Speed      float64       `json:"speed,omitempty"`
	Heading    float64       `json:"heading,omitempty"`
	Status     models.Status `json:"status,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

func LocationUpdate(shipmentID string, sample models.LocationSample) Message {
	loc := sample.Coordinates
	return Message{
		Type:       TypeLocationUpdate,
		ShipmentID: shipmentID,
		Location:   &loc,
		Speed:      sample.Speed,
		Heading:    sample.Heading,
		Timestamp:  sample.Timestamp,
	}
}

func StatusUpdate(shipmentID string, status models.Status, at time.Time) Message {
	return Message{Type: TypeStatusUpdate, ShipmentID: shipmentID, Status: status, Timestamp: at}
}

// Publisher delivers a message to the subscribers of msg.ShipmentID.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber is one connection's outbound side. Send must not block: it returns
// false when the message could not be queued.
type Subscriber interface {
	ID() string
	Send(payload []byte) bool
}

// Hub keeps the shipment -> subscribers membership for this process.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Subscriber
	joined map[string]map[string]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[string]Subscriber),
		joined: make(map[string]map[string]struct{}),
		logger: logger,
	}
}

// Join is idempotent. Nothing published before the join is replayed.
func (h *Hub) Join(sub Subscriber, shipmentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[shipmentID]
	if !ok {
		room = make(map[string]Subscriber)
		h.rooms[shipmentID] = room
	}
	room[sub.ID()] = sub
	set, ok := h.joined[sub.ID()]
	if !ok {
		set = make(map[string]struct{})
		h.joined[sub.ID()] = set
	}
	set[shipmentID] = struct{}{}
}

func (h *Hub) Leave(sub Subscriber, shipmentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sub.ID(), shipmentID)
}

// Disconnect removes sub from every shipment it joined.
func (h *Hub) Disconnect(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for shipmentID := range h.joined[sub.ID()] {
		h.leaveLocked(sub.ID(), shipmentID)
	}
	delete(h.joined, sub.ID())
}

func (h *Hub) leaveLocked(subID, shipmentID string) {
	if room, ok := h.rooms[shipmentID]; ok {
		delete(room, subID)
		if len(room) == 0 {
			delete(h.rooms, shipmentID)
		}
	}
	if set, ok := h.joined[subID]; ok {
		delete(set, shipmentID)
		if len(set) == 0 {
			delete(h.joined, subID)
		}
	}
}

// Publish hands msg to every current subscriber of its shipment. Delivery is at most
// once: a full subscriber buffer drops the message.
func (h *Hub) Publish(_ context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.rooms[msg.ShipmentID] {
		if sub.Send(payload) {
			observability.BroadcastDeliveries.Inc()
			continue
		}
		observability.BroadcastDrops.Inc()
		h.logger.Warn("broadcast dropped", "shipment_id", msg.ShipmentID, "subscriber", sub.ID(), "type", msg.Type)
	}
	return nil
}

// Subscribers returns how many connections currently follow shipmentID.
func (h *Hub) Subscribers(shipmentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[shipmentID])
}

// Rooms returns the number of shipments with at least one subscriber.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
