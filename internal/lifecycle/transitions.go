package lifecycle

import "github.com/example/agro-freight/internal/models"

// transporterTransitions lists the moves UpdateStatus may make. pending leaves only
// through Accept or a client Cancel.
var transporterTransitions = map[models.Status][]models.Status{
	models.StatusAccepted:  {models.StatusInTransit, models.StatusCancelled},
	models.StatusInTransit: {models.StatusDelivered, models.StatusCancelled},
}

// CanTransition reports whether a transporter may move a shipment from one status to
// another.
func CanTransition(from, to models.Status) bool {
	for _, s := range transporterTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func eventFor(to models.Status) models.EventType {
	switch to {
	case models.StatusInTransit:
		return models.EventInTransit
	case models.StatusDelivered:
		return models.EventDelivered
	default:
		return models.EventCancelled
	}
}
