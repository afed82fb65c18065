// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

package service

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/mverrier/vigil/pipeline"
)

// Pipeline supervises a record pipeline's lifecycle. The pipeline's
// consumer goroutine starts at construction, so Serve only has to wait for
// shutdown and run the graceful drain.
//
// A drained pipeline is terminal: Serve returns suture.ErrDoNotRestart so
// the supervisor removes the service instead of spinning on restarts of
// something that cannot run again.
//
// Example usage:
//
//	pipe := pipeline.New(cfg.Pipeline, sink)
//	tree.Add(service.NewPipeline(pipe))
type Pipeline struct {
	pipe *pipeline.Pipeline
	name string
}

// NewPipeline wraps pipe as a supervised service.
func NewPipeline(pipe *pipeline.Pipeline) *Pipeline {
	return &Pipeline{
		pipe: pipe,
		name: "record-pipeline",
	}
}

// Serve implements suture.Service. It blocks until the context is
// cancelled, then closes the pipeline, which flushes every accepted record
// before returning.
func (s *Pipeline) Serve(ctx context.Context) error {
	if s.pipe.State() == pipeline.StateStopped {
		return suture.ErrDoNotRestart
	}

	<-ctx.Done()

	if err := s.pipe.Close(); err != nil {
		return fmt.Errorf("pipeline drain failed: %w", err)
	}
	return suture.ErrDoNotRestart
}

// String implements fmt.Stringer for supervision logs.
func (s *Pipeline) String() string {
	return s.name
}
