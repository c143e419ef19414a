package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidInput = errors.New("invalid input")

// ShipmentInput is what a client supplies when creating a shipment.
type ShipmentInput struct {
	ProductType string      `json:"productType"`
	Quantity    float64     `json:"quantity"`
	Weight      float64     `json:"weight"`
	Pickup      Pickup      `json:"pickup"`
	Delivery    Delivery    `json:"delivery"`
	Route       Route       `json:"route"`
	Price       float64     `json:"price"`
	PriceStatus PriceStatus `json:"priceStatus"`
	Notes       string      `json:"notes"`
}

const MinWeight = 0.1

// Validate returns every problem with the input joined together.
func (in *ShipmentInput) Validate() error {
	var errs []error
	if strings.TrimSpace(in.ProductType) == "" {
		errs = append(errs, errors.New("productType is required"))
	}
	if in.Quantity <= 0 {
		errs = append(errs, errors.New("quantity must be positive"))
	}
	if in.Weight < MinWeight {
		errs = append(errs, fmt.Errorf("weight must be at least %.1f", MinWeight))
	}
	if strings.TrimSpace(in.Pickup.Address) == "" {
		errs = append(errs, errors.New("pickup.address is required"))
	}
	if !ValidCoord(in.Pickup.Location) {
		errs = append(errs, errors.New("pickup.location out of range"))
	}
	if in.Pickup.Date.IsZero() {
		errs = append(errs, errors.New("pickup.date is required"))
	}
	if strings.TrimSpace(in.Delivery.Address) == "" {
		errs = append(errs, errors.New("delivery.address is required"))
	}
	if !ValidCoord(in.Delivery.Location) {
		errs = append(errs, errors.New("delivery.location out of range"))
	}
	if in.Delivery.Date != nil {
		errs = append(errs, errors.New("delivery.date is set on delivery"))
	}
	if in.Price <= 0 {
		errs = append(errs, errors.New("price must be positive"))
	}
	if in.PriceStatus != "" && !in.PriceStatus.Valid() {
		errs = append(errs, fmt.Errorf("unknown priceStatus %q", in.PriceStatus))
	}
	if in.Route.Distance < 0 || in.Route.Duration < 0 {
		errs = append(errs, errors.New("route metrics must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

type VehicleInput struct {
	Type         VehicleType `json:"vehicleType"`
	Capacity     float64     `json:"capacity"`
	LicensePlate string      `json:"licensePlate"`
	Model        string      `json:"model"`
	Year         int         `json:"year"`
	Location     *Coord      `json:"currentLocation,omitempty"`
}

const (
	MinCapacity = 0.5
	MinYear     = 1990
)

func (in *VehicleInput) Validate(now time.Time) error {
	var errs []error
	if !in.Type.Valid() {
		errs = append(errs, fmt.Errorf("unknown vehicleType %q", in.Type))
	}
	if in.Capacity < MinCapacity {
		errs = append(errs, fmt.Errorf("capacity must be at least %.1f", MinCapacity))
	}
	if strings.TrimSpace(in.LicensePlate) == "" {
		errs = append(errs, errors.New("licensePlate is required"))
	}
	if strings.TrimSpace(in.Model) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if in.Year < MinYear || in.Year > now.Year()+1 {
		errs = append(errs, fmt.Errorf("year must be between %d and %d", MinYear, now.Year()+1))
	}
	if in.Location != nil && !ValidCoord(*in.Location) {
		errs = append(errs, errors.New("currentLocation out of range"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}
