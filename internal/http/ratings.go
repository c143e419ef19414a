package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/agro-freight/internal/auth"
	"github.com/example/agro-freight/internal/lifecycle"
	"github.com/example/agro-freight/internal/models"
	"github.com/example/agro-freight/internal/rating"
)

type ratingView struct {
	TransporterID string               `json:"transporterId"`
	Rating        float64              `json:"rating"`
	AIRating      *models.AIRating     `json:"aiRating"`
	History       []models.RatingEntry `json:"history"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

func (s *Server) handleDriverRating(w http.ResponseWriter, r *http.Request) {
	tp, err := s.svc.Transporter(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v := ratingView{TransporterID: tp.ID, Rating: tp.Rating, AIRating: tp.AIRating, History: tp.RatingHistory, UpdatedAt: tp.UpdatedAt}
	if v.History == nil {
		v.History = []models.RatingEntry{}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: v})
}

// handleCalculateRating rescores a transporter now instead of waiting for the next
// delivery. Transporters may only rescore themselves.
func (s *Server) handleCalculateRating(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := actorFrom(r.Context())
	if actor.Role == auth.RoleTransporter && actor.UserID != id {
		s.fail(w, r, lifecycle.ErrForbidden)
		return
	}
	if s.ratings == nil {
		s.fail(w, r, rating.ErrUnavailable)
		return
	}
	ai, err := s.ratings.Recalculate(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ai == nil {
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: "No delivered trips to analyse"})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Rating updated", Data: ai})
}

func (s *Server) handleEstimatePrice(w http.ResponseWriter, r *http.Request) {
	var q rating.PriceQuery
	if !s.decode(w, r, &q) {
		return
	}
	switch {
	case !models.VehicleType(q.Vehicle).Valid():
		s.fail(w, r, validation("vehicule must be one of camion, semi-remorque, camionnette, fourgon"))
		return
	case q.Product == "" || q.City == "":
		s.fail(w, r, validation("produit and ville are required"))
		return
	case q.Weight <= 0 || q.Duration <= 0:
		s.fail(w, r, validation("poids and duree must be positive"))
		return
	}
	if s.ratings == nil {
		s.fail(w, r, rating.ErrUnavailable)
		return
	}
	est, err := s.ratings.EstimatePrice(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: est})
}
