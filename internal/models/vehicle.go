package models

import "time"

// RawReport is one vehicle state as delivered by the feed.
// Coordinates are pointers so a missing field can be told apart from 0.
type RawReport struct {
	BikeID         string     `json:"bike_id"`
	Lat            *float64   `json:"lat"`
	Lon            *float64   `json:"lon"`
	IsReserved     bool       `json:"is_reserved"`
	IsDisabled     bool       `json:"is_disabled"`
	VehicleTypeID  *string    `json:"vehicle_type_id,omitempty"`
	FetchTimestamp *time.Time `json:"fetch_timestamp,omitempty"`
}

// RawLocation is a validated report as written to the raw_locations log.
type RawLocation struct {
	BikeID        string    `json:"bike_id" db:"bike_id"`
	Lat           float64   `json:"lat" db:"lat"`
	Lon           float64   `json:"lon" db:"lon"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	IsReserved    bool      `json:"is_reserved" db:"is_reserved"`
	IsDisabled    bool      `json:"is_disabled" db:"is_disabled"`
	VehicleTypeID *string   `json:"vehicle_type_id,omitempty" db:"vehicle_type_id"`
}
