// Package services provides the centralized service registry for fixd.
//
// Every collaborator (engine, oracle, validation runner, vcs publisher,
// store) is constructed exactly once at process start and handed to the
// registry; consumers receive the registry by reference rather than reaching
// for global state.
package services
