// Package events publishes artifact lifecycle events for downstream
// consumers. Publishing is best effort: a failed publish is logged by the
// caller and never undoes the change it describes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypePublished = "artifact.published"
	TypeArchived  = "artifact.archived"
	TypeDeleted   = "artifact.deleted"
	TypeReindexed = "artifact.reindexed"
	TypeRebuilt   = "index.rebuilt"
)

// Event describes one change to an artifact or the index.
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	ProjectID    string         `json:"projectId"`
	ArtifactKind string         `json:"artifactKind,omitempty"`
	ArtifactID   string         `json:"artifactId,omitempty"`
	From         string         `json:"from,omitempty"`
	To           string         `json:"to,omitempty"`
	Actor        string         `json:"actor"`
	OccurredAt   time.Time      `json:"occurredAt"`
	Data         map[string]any `json:"data,omitempty"`
}

// Key is the partition key of the event. Events of one artifact share a
// key so consumers see them in order.
func (e *Event) Key() string {
	if e.ArtifactID != "" {
		return e.ArtifactID
	}
	return e.ProjectID
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// stamp fills the id and timestamp when unset.
func stamp(e *Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.Actor == "" {
		e.Actor = "system"
	}
}

func encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// New builds the publisher selected by cfg.
func New(cfg *Config, logger *slog.Logger) (Publisher, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	switch cfg.Sink {
	case SinkNone, "":
		return Noop{}, nil
	case SinkLog:
		return NewLogPublisher(logger), nil
	case SinkKafka:
		return NewKafkaPublisher(cfg)
	}
	return nil, fmt.Errorf("unknown event sink %q", cfg.Sink)
}

// Noop discards events.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	stamp(&e)
	p.logger.InfoContext(ctx, "lifecycle event", "eventID", e.ID, "type", e.Type,
		"projectID", e.ProjectID, "artifactID", e.ArtifactID, "from", e.From, "to", e.To, "actor", e.Actor)
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error { return nil }
