// Vigil - Cross-Cutting Instrumentation for Go Web Services
// Copyright 2026 M. Verrier (mverrier)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mverrier/vigil

/*
Package service runs Vigil's long-lived pieces under a suture supervision
tree.

Two adapters translate component lifecycles into suture.Service:

  - Pipeline waits for shutdown, then drains the record pipeline. Every
    record accepted before the drain is flushed, and the pipeline is
    terminal afterwards, so the service reports suture.ErrDoNotRestart
    rather than restart-looping a stopped pipeline.
  - HTTP runs an http.Server, converting ListenAndServe/Shutdown into the
    context-aware Serve contract with a bounded graceful drain.

NewTree builds the supervisor with supervision events logged through
sutureslog into the process logger.

# Shutdown

Cancelling the tree's context stops every service together; suture does
not sequence siblings. That is fine for producers that stop on the same
cancellation, such as supervised worker loops: they quit emitting the
moment the pipeline starts draining. An HTTP server is different, because
Shutdown lets in-flight handlers run on after cancellation; records those
handlers emit once the drain has begun are rejected and counted, not
flushed. Hosts that want the final requests' records delivered keep the
pipeline out of the tree and close it after Serve returns:

	tree := service.NewTree("checkout", nil, service.DefaultTreeConfig())
	tree.Add(service.NewHTTP(srv, 10*time.Second))
	err := tree.Serve(ctx)
	pipe.Close()
*/
package service
