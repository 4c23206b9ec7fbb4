// Package events delivers spawn decisions to the game and receives
// collection notifications from it.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/Tutortoise/trash-spawn-service/models"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sink receives spawn decisions.
type Sink interface {
	Spawn(ctx context.Context, d models.SpawnDecision) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, d models.SpawnDecision) error

func (f SinkFunc) Spawn(ctx context.Context, d models.SpawnDecision) error {
	return f(ctx, d)
}

// Fanout delivers every decision to all sinks. Errors are joined; one failing
// sink does not stop the rest.
type Fanout []Sink

func (f Fanout) Spawn(ctx context.Context, d models.SpawnDecision) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Spawn(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each decision to the log.
type LogSink struct {
	Logger logrus.FieldLogger
}

func NewLogSink(l logrus.FieldLogger) *LogSink {
	return &LogSink{Logger: log.Component(l, "spawn")}
}

func (s *LogSink) Spawn(ctx context.Context, d models.SpawnDecision) error {
	log.Or(s.Logger).WithFields(logrus.Fields{
		"cycle_id":    d.CycleID,
		"entity_type": d.EntityType,
		"label":       d.Label,
		"confidence":  d.Confidence,
		"x":           d.WorldPosition.X,
		"y":           d.WorldPosition.Y,
		"z":           d.WorldPosition.Z,
	}).Info("spawn")
	return nil
}

// Message types on the wire.
const (
	TypeSpawn     = "spawn"
	TypeCollected = "collected"
)

// Envelope wraps every message exchanged with game clients.
type Envelope struct {
	Type       string                `json:"type"`
	Spawn      *models.SpawnDecision `json:"spawn,omitempty"`
	EntityType string                `json:"entity_type,omitempty"`
	Time       time.Time             `json:"time"`
}

// EncodeSpawn builds the wire form of a spawn decision.
func EncodeSpawn(d models.SpawnDecision) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeSpawn, Spawn: &d, Time: time.Now().UTC()})
}
