// Package events announces newly registered source images to downstream
// systems. A Bus fans events out asynchronously to MQTT and Kafka
// publishers so review and tiling never block on a broker.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event sources.
const (
	SourceFishnet = "fishnet"
	SourceImport  = "import"
)

// SourceImageRegistered is emitted when a raster first becomes reviewable,
// either as fishnet cells or as imported points of interest.
type SourceImageRegistered struct {
	VendorID     string    `json:"vendor_id"`
	ProjectID    uint      `json:"project_id"`
	EPSG         int       `json:"epsg"`
	Source       string    `json:"source"`
	RunID        string    `json:"run_id,omitempty"`
	Cells        int       `json:"cells,omitempty"`
	Points       int       `json:"points,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Key partitions events by source image.
func (e SourceImageRegistered) Key() string {
	return e.VendorID
}

// Payload encodes the event as JSON.
func (e SourceImageRegistered) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events to one destination.
type Publisher interface {
	// Name identifies the publisher in metrics and logs.
	Name() string

	// PublishSourceImage delivers a single event.
	PublishSourceImage(ctx context.Context, event SourceImageRegistered) error

	// Close releases broker connections.
	Close() error
}

// BusStats contains runtime statistics for monitoring.
type BusStats struct {
	EventsReceived   uint64
	EventsSuppressed uint64
	EventsProcessed  uint64
	EventsDropped    uint64
	PublisherErrors  uint64
}
