package rating

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/agro-freight/internal/models"
	"github.com/example/agro-freight/internal/observability"
	"github.com/example/agro-freight/internal/storage"
)

// defaultTripHours stands in for trips whose route duration is unknown.
const defaultTripHours = 2

// Source is the slice of the store the worker reads trips from and writes ratings to.
type Source interface {
	ListShipments(ctx context.Context, f storage.ShipmentFilter) ([]models.Shipment, error)
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	RecordTransporterRating(ctx context.Context, id string, r models.AIRating) (*models.Transporter, error)
}

// Worker recalculates transporter ratings in the background from a bounded queue.
type Worker struct {
	rater   Rater
	source  Source
	queue   chan string
	workers int
	logger  *slog.Logger
	now     func() time.Time
}

func NewWorker(rater Rater, source Source, workers, queueSize int, logger *slog.Logger) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{rater: rater, source: source, queue: make(chan string, queueSize), workers: workers, logger: logger, now: time.Now}
}

// Submit queues a recalculation for transporterID. It never blocks; false means the
// queue was full and the task was dropped.
func (w *Worker) Submit(transporterID string) bool {
	select {
	case w.queue <- transporterID:
		observability.RatingTasks.WithLabelValues("queued").Inc()
		return true
	default:
		observability.RatingTasks.WithLabelValues("dropped").Inc()
		w.logger.Warn("rating queue full", "transporter_id", transporterID)
		return false
	}
}

// Run processes tasks with the configured number of goroutines until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-w.queue:
					w.process(ctx, id)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (w *Worker) process(ctx context.Context, transporterID string) {
	if _, err := w.Recalculate(ctx, transporterID); err != nil {
		observability.RatingTasks.WithLabelValues("failed").Inc()
		w.logger.Error("rating recalculation failed", "transporter_id", transporterID, "error", err)
		return
	}
	observability.RatingTasks.WithLabelValues("rated").Inc()
}

// Recalculate scores transporterID from all of their delivered shipments and
// records the result. It returns nil without calling the service when there is
// nothing to score.
func (w *Worker) Recalculate(ctx context.Context, transporterID string) (*models.AIRating, error) {
	shipments, err := w.source.ListShipments(ctx, storage.ShipmentFilter{TransporterID: transporterID, Status: models.StatusDelivered})
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	if len(shipments) == 0 {
		return nil, nil
	}
	trips := make([]Trip, 0, len(shipments))
	for _, s := range shipments {
		trips = append(trips, w.trip(ctx, s))
	}
	res, err := w.rater.RateDriver(ctx, transporterID, trips)
	if err != nil {
		return nil, fmt.Errorf("rate driver: %w", err)
	}
	r := models.AIRating{
		Score:       res.OverallRating,
		Category:    res.Category,
		TotalTrips:  res.TotalTrips,
		Consistency: res.Consistency,
		LastUpdated: w.now().UTC(),
	}
	if r.TotalTrips == 0 {
		r.TotalTrips = len(trips)
	}
	if _, err := w.source.RecordTransporterRating(ctx, transporterID, r); err != nil {
		return nil, fmt.Errorf("store rating: %w", err)
	}
	w.logger.Info("transporter rated", "transporter_id", transporterID, "rating", r.Score, "category", r.Category, "trips", len(trips))
	return &r, nil
}

// EstimatePrice asks the rating service for a fare suggestion.
func (w *Worker) EstimatePrice(ctx context.Context, q PriceQuery) (PriceEstimate, error) {
	return w.rater.EstimatePrice(ctx, q)
}

func (w *Worker) trip(ctx context.Context, s models.Shipment) Trip {
	t := Trip{
		Vehicle:  string(models.VehicleTruck),
		Product:  s.ProductType,
		City:     s.Delivery.Address,
		Weight:   s.Weight,
		Duration: defaultTripHours,
		Price:    s.Price,
	}
	if s.Route.Duration > 0 {
		t.Duration = s.Route.Duration / 60
	}
	if s.VehicleID != "" {
		if v, err := w.source.GetVehicle(ctx, s.VehicleID); err == nil {
			t.Vehicle = string(v.Type)
		}
	}
	return t
}
