package services

import (
	"github.com/fyrsmithlabs/fixd/internal/engine"
	"github.com/fyrsmithlabs/fixd/internal/oracle"
	"github.com/fyrsmithlabs/fixd/internal/validation"
	"github.com/fyrsmithlabs/fixd/internal/vcs"
)

// Registry provides access to all fixd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Engine() engine.Service
	Oracle() oracle.Oracle
	Runner() validation.Runner
	Publisher() vcs.Publisher
	Store() engine.Store
}

// Options configures the registry with service instances.
type Options struct {
	Engine    engine.Service
	Oracle    oracle.Oracle
	Runner    validation.Runner
	Publisher vcs.Publisher
	Store     engine.Store
}

// registry is the concrete implementation of Registry.
type registry struct {
	engine    engine.Service
	oracle    oracle.Oracle
	runner    validation.Runner
	publisher vcs.Publisher
	store     engine.Store
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		engine:    opts.Engine,
		oracle:    opts.Oracle,
		runner:    opts.Runner,
		publisher: opts.Publisher,
		store:     opts.Store,
	}
}

func (r *registry) Engine() engine.Service    { return r.engine }
func (r *registry) Oracle() oracle.Oracle     { return r.oracle }
func (r *registry) Runner() validation.Runner { return r.runner }
func (r *registry) Publisher() vcs.Publisher  { return r.publisher }
func (r *registry) Store() engine.Store       { return r.store }
