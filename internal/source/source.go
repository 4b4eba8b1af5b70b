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

// Package source watches GuacamoleConnection resources and keeps an
// in-memory map of the live set. The watch protocol is list-then-watch: on
// start and after every stream loss the source re-lists, reconciles its map
// against the listed set with synthetic events, and resumes watching from
// the list's resource version. A 410 Gone is expected and restarts the
// cycle; any other failure is reported to the caller.
package source

import (
	"context"
	"fmt"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"sigs.k8s.io/controller-runtime/pkg/log"

	guacamolev1 "github.com/ukserp/guacamole-operator/api/v1"
)

// EventType is the kind of change observed on a resource.
type EventType string

// Event types delivered to the handler. Synthetic events issued after a
// resync use the same values as live watch events.
const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"
)

// Watch stream timeout requested from the server.
const watchTimeoutSeconds = int64(600)

// Handler receives each observed change. Events for the same resource are
// delivered in order; no ordering holds across resources.
type Handler func(eventType EventType, resource *guacamolev1.GuacamoleConnection)

// Source watches the guacamoleconnections resource in one namespace.
type Source struct {
	client    dynamic.Interface
	namespace string

	mu      sync.RWMutex
	tracked map[string]*guacamolev1.GuacamoleConnection
}

// New creates a Source for the given namespace.
func New(client dynamic.Interface, namespace string) *Source {
	return &Source{
		client:    client,
		namespace: namespace,
		tracked:   make(map[string]*guacamolev1.GuacamoleConnection),
	}
}

// Snapshot returns a copy of the currently tracked resources. The reconciler
// takes one snapshot at the start of each sweep.
func (s *Source) Snapshot() []guacamolev1.GuacamoleConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]guacamolev1.GuacamoleConnection, 0, len(s.tracked))
	for _, resource := range s.tracked {
		resources = append(resources, *resource.DeepCopy())
	}
	return resources
}

// Run lists and watches until the context is cancelled or a non-recoverable
// error occurs. Stream loss and 410 Gone restart the cycle internally.
func (s *Source) Run(ctx context.Context, handler Handler) error {
	logger := log.FromContext(ctx).WithName("source")

	for {
		err := s.cycle(ctx, handler)

		if ctx.Err() != nil {
			logger.Info("Halting watcher")
			return nil
		}

		switch {
		case err == nil:
			// Stream ended normally; re-list and resume
			logger.V(1).Info("Watch stream ended, restarting")
		case apierrors.IsGone(err) || apierrors.IsResourceExpired(err):
			logger.Info("Watcher restarting after 410 Gone")
		default:
			return fmt.Errorf("watch failed: %w", err)
		}
	}
}

// cycle performs one list + resync + watch pass.
func (s *Source) cycle(ctx context.Context, handler Handler) error {
	logger := log.FromContext(ctx).WithName("source")
	resource := s.client.Resource(guacamolev1.GroupVersionResource()).Namespace(s.namespace)

	list, err := resource.List(ctx, metav1.ListOptions{})
	if err != nil {
		return err
	}

	listed := make(map[string]*guacamolev1.GuacamoleConnection, len(list.Items))
	for i := range list.Items {
		conn, err := convert(&list.Items[i])
		if err != nil {
			logger.Error(err, "Skipping malformed resource", "name", list.Items[i].GetName())
			continue
		}
		listed[conn.ResourceKey()] = conn
	}
	logger.Info("Discovered resources", "count", len(listed))

	s.resync(listed, handler)

	timeout := watchTimeoutSeconds
	stream, err := resource.Watch(ctx, metav1.ListOptions{
		ResourceVersion: list.GetResourceVersion(),
		TimeoutSeconds:  &timeout,
	})
	if err != nil {
		return err
	}
	defer stream.Stop()

	return s.consume(ctx, stream, handler)
}

// resync reconciles the tracked map against a freshly listed set, issuing
// synthetic events for anything the watch may have missed: DELETED for
// tracked resources no longer listed, ADDED for new ones, MODIFIED for
// resources that were already tracked.
func (s *Source) resync(listed map[string]*guacamolev1.GuacamoleConnection, handler Handler) {
	s.mu.Lock()
	var deleted []*guacamolev1.GuacamoleConnection
	for key, resource := range s.tracked {
		if _, ok := listed[key]; !ok {
			deleted = append(deleted, resource)
			delete(s.tracked, key)
		}
	}

	var added, modified []*guacamolev1.GuacamoleConnection
	for key, resource := range listed {
		if _, ok := s.tracked[key]; ok {
			modified = append(modified, resource)
		} else {
			added = append(added, resource)
		}
		s.tracked[key] = resource
	}
	s.mu.Unlock()

	for _, resource := range deleted {
		handler(Deleted, resource)
	}
	for _, resource := range added {
		handler(Added, resource)
	}
	for _, resource := range modified {
		handler(Modified, resource)
	}
}

// consume forwards watch events until the stream ends, errors, or the
// context is cancelled.
func (s *Source) consume(ctx context.Context, stream watch.Interface, handler Handler) error {
	logger := log.FromContext(ctx).WithName("source")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-stream.ResultChan():
			if !ok {
				return nil
			}

			switch event.Type {
			case watch.Added, watch.Modified:
				conn, err := s.record(event.Object)
				if err != nil {
					logger.Error(err, "Skipping malformed watch event", "type", event.Type)
					continue
				}
				handler(EventType(event.Type), conn)

			case watch.Deleted:
				conn, err := s.forget(event.Object)
				if err != nil {
					logger.Error(err, "Skipping malformed watch event", "type", event.Type)
					continue
				}
				handler(Deleted, conn)

			case watch.Bookmark:
				// Nothing to do

			case watch.Error:
				return apierrors.FromObject(event.Object)
			}
		}
	}
}

func (s *Source) record(obj runtime.Object) (*guacamolev1.GuacamoleConnection, error) {
	conn, err := convertObject(obj)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tracked[conn.ResourceKey()] = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *Source) forget(obj runtime.Object) (*guacamolev1.GuacamoleConnection, error) {
	conn, err := convertObject(obj)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.tracked, conn.ResourceKey())
	s.mu.Unlock()
	return conn, nil
}

func convertObject(obj runtime.Object) (*guacamolev1.GuacamoleConnection, error) {
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		return nil, fmt.Errorf("unexpected object type %T", obj)
	}
	return convert(u)
}

func convert(u *unstructured.Unstructured) (*guacamolev1.GuacamoleConnection, error) {
	conn := &guacamolev1.GuacamoleConnection{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, conn); err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", u.GetName(), err)
	}
	return conn, nil
}
