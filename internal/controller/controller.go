/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package controller runs the operator: it bootstraps the service account,
// starts the resource watcher and serializes reconcile sweeps.
package controller

import (
	"context"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	guacamolev1 "github.com/ukserp/guacamole-operator/api/v1"
	"github.com/ukserp/guacamole-operator/internal/reconcile"
	"github.com/ukserp/guacamole-operator/internal/source"
)

const (
	// Periodic full sweep, catching drift the watch cannot see.
	resyncInterval = 5 * time.Minute

	// Fixed delay before retrying a failed sweep.
	retryDelay = 60 * time.Second
)

// Source delivers resource change events.
type Source interface {
	Run(ctx context.Context, handler source.Handler) error
}

// Reconciler performs one full sweep.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Result, error)
}

// Controller owns the event loop. At most one reconcile runs at a time;
// concurrent triggers collapse into a single queued follow-up sweep.
type Controller struct {
	source     Source
	reconciler Reconciler

	resyncInterval time.Duration
	retryDelay     time.Duration
}

// New creates a Controller with the default resync and retry intervals.
func New(src Source, reconciler Reconciler) *Controller {
	return &Controller{
		source:         src,
		reconciler:     reconciler,
		resyncInterval: resyncInterval,
		retryDelay:     retryDelay,
	}
}

// Run starts the watcher and loops until the context is cancelled or a
// non-recoverable error occurs. Every trigger, whether a resource event, the
// periodic ticker or a retry, results in the same whole-namespace sweep.
func (c *Controller) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("controller")

	// 1-buffered dirty bit: any number of pending triggers collapse into
	// one queued sweep.
	dirty := make(chan struct{}, 1)
	mark := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}

	sourceErr := make(chan error, 1)
	go func() {
		sourceErr <- c.source.Run(ctx, func(eventType source.EventType, resource *guacamolev1.GuacamoleConnection) {
			logger.V(1).Info("Resource event", "type", string(eventType), "resource", resource.ResourceKey())
			mark()
		})
	}()

	ticker := time.NewTicker(c.resyncInterval)
	defer ticker.Stop()

	// Initial sweep regardless of whether the watch delivers anything.
	mark()

	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			return nil

		case err := <-sourceErr:
			if err != nil {
				return fmt.Errorf("resource watch failed: %w", err)
			}
			return nil

		case <-dirty:
		case <-ticker.C:
		case <-retry:
			retry = nil
		}

		if _, err := c.reconciler.Reconcile(ctx); err != nil {
			if ctx.Err() != nil {
				logger.Info("Shutting down")
				return nil
			}
			logger.Error(err, "Reconcile failed, scheduling retry", "delay", c.retryDelay)
			retry = time.After(c.retryDelay)
		} else {
			retry = nil
		}
	}
}
