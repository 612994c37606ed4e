package models

import (
	"time"

	"github.com/google/uuid"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

type DeliveryStatus string

const (
	DeliveryPendingAssignment DeliveryStatus = "pending_assignment"
	DeliveryAssigned          DeliveryStatus = "assigned"
	DeliveryPickedUp          DeliveryStatus = "picked_up"
	DeliveryDelivered         DeliveryStatus = "delivered"
	DeliveryFailed            DeliveryStatus = "failed"
	DeliveryCancelled         DeliveryStatus = "cancelled"
)

// Open reports whether the delivery can still be dispatched or driven.
func (s DeliveryStatus) Open() bool {
	return s == DeliveryPendingAssignment || s == DeliveryAssigned || s == DeliveryPickedUp
}

// Route is the last directions result stored for a delivery.
type Route struct {
	Polyline        string    `json:"polyline"`
	DistanceKm      float64   `json:"distance_km"`
	DurationSeconds int       `json:"duration_seconds"`
	EtaMinutes      int       `json:"eta_minutes"`
	RefreshedAt     time.Time `json:"refreshed_at"`
	Origin          Point     `json:"origin"`
}

type Delivery struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	OrderID            uuid.UUID      `json:"order_id" db:"order_id"`
	DriverID           *uuid.UUID     `json:"driver_id,omitempty" db:"driver_id"`
	Status             DeliveryStatus `json:"status" db:"status"`
	Pickup             Point          `json:"pickup"`
	Dropoff            Point          `json:"dropoff"`
	Current            *Point         `json:"current,omitempty"`
	LastLocationUpdate *time.Time     `json:"last_location_update,omitempty" db:"last_location_update"`
	Route              *Route         `json:"route,omitempty"`
	DispatchRound      int            `json:"dispatch_round" db:"dispatch_round"`
	NextDispatchAt     *time.Time     `json:"next_dispatch_at,omitempty" db:"next_dispatch_at"`
	PickedUpAt         *time.Time     `json:"picked_up_at,omitempty" db:"picked_up_at"`
	DeliveredAt        *time.Time     `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// AssignedTo reports whether driverID is the delivery's driver.
func (d *Delivery) AssignedTo(driverID uuid.UUID) bool {
	return d.DriverID != nil && *d.DriverID == driverID
}

// LegDestination is the pickup point until the goods are collected.
func (d *Delivery) LegDestination() Point {
	if d.Status == DeliveryPickedUp {
		return d.Dropoff
	}
	return d.Pickup
}

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferDeclined  OfferStatus = "declined"
	OfferExpired   OfferStatus = "expired"
	OfferWithdrawn OfferStatus = "withdrawn"
)

// DeliveryOffer is an exclusive, time-bounded proposal to one driver.
type DeliveryOffer struct {
	ID         uuid.UUID   `json:"id"`
	DeliveryID uuid.UUID   `json:"delivery_id"`
	OrderID    uuid.UUID   `json:"order_id"`
	DriverID   uuid.UUID   `json:"driver_id"`
	Round      int         `json:"round"`
	Status     OfferStatus `json:"status"`
	DistanceKm float64     `json:"distance_km"`
	Pickup     Point       `json:"pickup"`
	Dropoff    Point       `json:"dropoff"`
	ExpiresAt  time.Time   `json:"expires_at"`
	CreatedAt  time.Time   `json:"created_at"`
}

// DriverCandidate is an available driver ranked by distance to pickup.
type DriverCandidate struct {
	DriverID   uuid.UUID
	DistanceKm float64
}

// TrackView is the customer-facing tracking snapshot.
type TrackView struct {
	DeliveryID         uuid.UUID      `json:"delivery_id"`
	Status             DeliveryStatus `json:"status"`
	CurrentLat         *float64       `json:"current_lat"`
	CurrentLng         *float64       `json:"current_lng"`
	Polyline           *string        `json:"polyline"`
	DistanceKm         *float64       `json:"distance_km"`
	EtaMinutes         *int           `json:"eta_minutes"`
	LastLocationUpdate *time.Time     `json:"last_location_update"`
}

// DriverState is a driver's idle position and availability.
// DriverAvailability is what manual assignment needs to know about a driver.
type DriverAvailability struct {
	DriverID    uuid.UUID
	IsActive    bool
	IsAvailable bool
	Busy        bool
}

type DriverState struct {
	DriverID    uuid.UUID  `json:"driver_id"`
	IsAvailable bool       `json:"is_available"`
	Position    *Point     `json:"position,omitempty"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
}
