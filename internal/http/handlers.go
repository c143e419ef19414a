package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/agro-freight/internal/auth"
	"github.com/example/agro-freight/internal/broadcast"
	"github.com/example/agro-freight/internal/geo"
	"github.com/example/agro-freight/internal/lifecycle"
	"github.com/example/agro-freight/internal/models"
	"github.com/example/agro-freight/internal/rating"
)

// Check is a named readiness check.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Ratings runs on-demand rating work against the AI service. *rating.Worker
// implements it.
type Ratings interface {
	Recalculate(ctx context.Context, transporterID string) (*models.AIRating, error)
	EstimatePrice(ctx context.Context, q rating.PriceQuery) (rating.PriceEstimate, error)
}

type Server struct {
	svc     *lifecycle.Service
	auth    *auth.Service
	hub     *broadcast.Hub
	geo     geo.Geo
	ratings Ratings
	checks  []Check
	logger  *slog.Logger
	mux     *mux.Router
}

type Deps struct {
	Service *lifecycle.Service
	Auth    *auth.Service
	Hub     *broadcast.Hub
	Geo     geo.Geo
	Ratings Ratings
	Checks  []Check
	Logger  *slog.Logger
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:     d.Service,
		auth:    d.Auth,
		hub:     d.Hub,
		geo:     d.Geo,
		ratings: d.Ratings,
		checks:  d.Checks,
		logger:  logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/readyz", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS).Methods("GET")

	api := s.mux.NewRoute().Subrouter()
	api.Use(s.authMiddleware)

	clientRoles := []auth.Role{auth.RoleClient, auth.RoleAdmin}
	api.HandleFunc("/shipments", s.require(s.handleCreate, clientRoles...)).Methods("POST")
	api.HandleFunc("/shipments/my-requests", s.require(s.handleMyRequests, clientRoles...)).Methods("GET")
	api.HandleFunc("/shipments/available", s.require(s.handleAvailable, auth.RoleTransporter)).Methods("GET")
	api.HandleFunc("/shipments/my-deliveries", s.require(s.handleMyDeliveries, auth.RoleTransporter)).Methods("GET")
	api.HandleFunc("/shipments/{id}", s.handleGet).Methods("GET")
	api.HandleFunc("/shipments/{id}/accept", s.require(s.handleAccept, auth.RoleTransporter)).Methods("POST")
	api.HandleFunc("/shipments/{id}/status", s.require(s.handleStatus, auth.RoleTransporter)).Methods("PUT")
	api.HandleFunc("/shipments/{id}", s.require(s.handleCancel, clientRoles...)).Methods("DELETE")

	api.HandleFunc("/tracking/{id}", s.handleTracking).Methods("GET")
	api.HandleFunc("/tracking/{id}/update", s.require(s.handleLocation, auth.RoleTransporter)).Methods("POST")
	api.HandleFunc("/tracking/{id}/event", s.require(s.handleEvent, auth.RoleTransporter)).Methods("POST")
	api.HandleFunc("/tracking/{id}/history", s.handleHistory).Methods("GET")

	api.HandleFunc("/vehicles", s.require(s.handleRegisterVehicle, auth.RoleTransporter)).Methods("POST")
	api.HandleFunc("/vehicles/mine", s.require(s.handleMyVehicles, auth.RoleTransporter)).Methods("GET")
	api.HandleFunc("/transporters/me/availability", s.require(s.handleAvailability, auth.RoleTransporter)).Methods("PUT")
	api.HandleFunc("/fleet/live", s.require(s.handleFleetLive, auth.RoleAdmin)).Methods("GET")

	api.HandleFunc("/ratings/driver/{id}", s.handleDriverRating).Methods("GET")
	api.HandleFunc("/ratings/calculate/{id}", s.require(s.handleCalculateRating, auth.RoleTransporter, auth.RoleAdmin)).Methods("POST")
	api.HandleFunc("/ratings/estimate-price", s.handleEstimatePrice).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, c := range s.checks {
		if err := c.Fn(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "check", c.Name, "error", err)
			http.Error(w, c.Name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(200)
	w.Write([]byte("ready"))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in models.ShipmentInput
	if !s.decode(w, r, &in) {
		return
	}
	sh, err := s.svc.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Shipment request created", Data: sh})
}

func (s *Server) handleMyRequests(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ListForClient(r.Context(), actorFrom(r.Context()).UserID, statusParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, out)
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ListAvailable(r.Context(), actorFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, out)
}

func (s *Server) handleMyDeliveries(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ListForTransporter(r.Context(), actorFrom(r.Context()).UserID, statusParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sh, err := s.svc.Get(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: sh})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VehicleID string `json:"vehicleId"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	sh, err := s.svc.Accept(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).UserID, body.VehicleID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Shipment accepted", Data: sh})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.Status `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	sh, err := s.svc.UpdateStatus(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).UserID, body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Status updated", Data: sh})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sh, err := s.svc.Cancel(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Shipment cancelled", Data: sh})
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	tr, err := s.svc.Tracking(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: tr})
}

type locationBody struct {
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
	Speed     float64  `json:"speed"`
	Heading   float64  `json:"heading"`
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var body locationBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Longitude == nil || body.Latitude == nil {
		s.fail(w, r, validation("longitude and latitude are required"))
		return
	}
	sample := models.LocationSample{
		Coordinates: models.Coord{Lat: *body.Latitude, Lon: *body.Longitude},
		Speed:       body.Speed,
		Heading:     body.Heading,
	}
	out, err := s.svc.RecordLocation(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).UserID, sample)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Location updated", Data: out})
}

type eventBody struct {
	Type      models.EventType `json:"type"`
	Note      string           `json:"note"`
	Longitude *float64         `json:"longitude"`
	Latitude  *float64         `json:"latitude"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var body eventBody
	if !s.decode(w, r, &body) {
		return
	}
	in := models.EventInput{Type: body.Type, Note: body.Note}
	switch {
	case body.Longitude != nil && body.Latitude != nil:
		in.Location = &models.Coord{Lat: *body.Latitude, Lon: *body.Longitude}
	case body.Longitude != nil || body.Latitude != nil:
		s.fail(w, r, validation("longitude and latitude go together"))
		return
	}
	ev, err := s.svc.RecordEvent(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).UserID, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Event recorded", Data: ev})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.svc.History(r.Context(), mux.Vars(r)["id"], actorFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: h})
}

func (s *Server) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	var in models.VehicleInput
	if !s.decode(w, r, &in) {
		return
	}
	v, err := s.svc.RegisterVehicle(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Vehicle registered", Data: v})
}

func (s *Server) handleMyVehicles(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ListVehicles(r.Context(), actorFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, out)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsAvailable *bool `json:"isAvailable"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.IsAvailable == nil {
		s.fail(w, r, validation("isAvailable is required"))
		return
	}
	tp, err := s.svc.SetAvailability(r.Context(), actorFrom(r.Context()), *body.IsAvailable)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: tp})
}

func (s *Server) handleFleetLive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || !models.ValidCoord(models.Coord{Lat: lat, Lon: lon}) {
		s.fail(w, r, validation("lat and lon are required"))
		return
	}
	radius := 50.0
	if v := q.Get("radius"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			s.fail(w, r, validation("radius must be a positive number of km"))
			return
		}
		radius = f
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, r, validation("limit must be a positive integer"))
			return
		}
		limit = n
	}
	if s.geo == nil {
		writeList(w, []geo.Position{})
		return
	}
	out, err := s.geo.Nearby(r.Context(), models.Coord{Lat: lat, Lon: lon}, radius, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, out)
}

func statusParam(r *http.Request) models.Status {
	return models.Status(r.URL.Query().Get("status"))
}
