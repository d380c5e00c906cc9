// Package server exposes the relay's HTTP surface: health, readiness, status, redacted
// configuration and Prometheus metrics.
package server

import (
	"context"
	"database/sql"

	"github.com/onnwee/cliprelay/config"
	"github.com/onnwee/cliprelay/routing"
)

// Pipeline is the live view of the relay the handlers report on.
type Pipeline interface {
	Started() bool
	ActiveDeliveries() int
	MaxConcurrentDeliveries() int
}

// PostedCounter counts posted-clip records.
type PostedCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Deps are the handler dependencies. Routes are the destinations after channel
// resolution; Config is only used for the redacted /config view.
type Deps struct {
	DB           *sql.DB
	Store        PostedCounter
	Pipeline     Pipeline
	MetadataMode string
	Routes       []routing.Route
	Config       *config.Config
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db       *sql.DB
	store    PostedCounter
	pipeline Pipeline
	mode     string
	routes   []routing.Route
	cfg      *config.Config
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		db:       d.DB,
		store:    d.Store,
		pipeline: d.Pipeline,
		mode:     d.MetadataMode,
		routes:   d.Routes,
		cfg:      d.Config,
	}
}
