/*
Copyright 2025 The Kubernetes Authors.

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

// Package reconciler turns file system changes and periodic resyncs into
// retried reconcile calls.
package reconciler

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// EventType is the source of a reconcile event.
type EventType string

const (
	// FileEvent is sent for a created, written or removed file.
	FileEvent EventType = "file"
	// TimerEvent is sent on every resync.
	TimerEvent EventType = "timer"
)

// ResyncKey is the key of timer events.
const ResyncKey = "resync"

// Event is a unit of reconcile work. Events with the same type and key are merged.
type Event struct {
	Type EventType
	Key  string
	Op   fsnotify.Op
}

func (e Event) sameAs(other Event) bool {
	return e.Type == other.Type && e.Key == other.Key
}

// Handler reconciles a single event. A returned error schedules a retry.
type Handler interface {
	Reconcile(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Reconcile implements Handler.
func (f HandlerFunc) Reconcile(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Config tunes the reconciler.
type Config struct {
	// WatchPath is the directory to watch, empty disables file events.
	WatchPath string
	// FileSuffix limits file events to names with this suffix.
	FileSuffix string
	// ResyncInterval sends a timer event periodically, zero disables it.
	ResyncInterval time.Duration

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	Logger logr.Logger
}

// DefaultConfig returns the configuration for qemu-server pid files.
func DefaultConfig(logger logr.Logger) Config {
	return Config{
		WatchPath:  "/run/qemu-server",
		FileSuffix: ".pid",
		MaxRetries: 5,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Logger:     logger,
	}
}

// Backoff returns the delay before the given retry attempt.
func (c Config) Backoff(attempt int) time.Duration {
	delay := c.BaseDelay << attempt
	if delay <= 0 || delay > c.MaxDelay {
		return c.MaxDelay
	}

	return delay
}

type pending struct {
	event     Event
	attempts  int
	nextRetry time.Time
}

// Reconciler delivers events to a handler one at a time.
type Reconciler struct {
	config  Config
	handler Handler
	logger  logr.Logger

	events chan Event
}

// New returns a reconciler.
func New(config Config, handler Handler) *Reconciler {
	return &Reconciler{
		config:  config,
		handler: handler,
		logger:  config.Logger,
		events:  make(chan Event, 100),
	}
}

// Send queues an event. It blocks while the queue is full.
func (r *Reconciler) Send(ctx context.Context, event Event) {
	select {
	case r.events <- event:
	case <-ctx.Done():
	}
}

// Run processes events until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if r.config.WatchPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}

		defer watcher.Close() //nolint:errcheck

		if err := watcher.Add(r.config.WatchPath); err != nil {
			return fmt.Errorf("failed to watch path %s: %w", r.config.WatchPath, err)
		}

		wg.Go(func() { r.watchFiles(ctx, watcher) })
	}

	if r.config.ResyncInterval > 0 {
		wg.Go(func() { r.watchTimer(ctx) })
	}

	r.process(ctx)
	wg.Wait()

	return nil
}

func (r *Reconciler) watchFiles(ctx context.Context, watcher *fsnotify.Watcher) {
	r.logger.V(1).Info("Starting file watcher", "path", r.config.WatchPath)

	relevantOps := fsnotify.Create | fsnotify.Write | fsnotify.Remove

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Op&relevantOps == 0 || !strings.HasSuffix(filepath.Base(event.Name), r.config.FileSuffix) {
				continue
			}

			r.logger.V(3).Info("File system event received", "name", event.Name, "op", event.Op)
			r.Send(ctx, Event{Type: FileEvent, Key: event.Name, Op: event.Op})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			r.logger.Error(err, "File watcher error")

		case <-ctx.Done():
			r.logger.V(1).Info("File watcher shutting down")

			return
		}
	}
}

func (r *Reconciler) watchTimer(ctx context.Context) {
	ticker := time.NewTicker(r.config.ResyncInterval)
	defer ticker.Stop()

	r.Send(ctx, Event{Type: TimerEvent, Key: ResyncKey})

	for {
		select {
		case <-ticker.C:
			r.Send(ctx, Event{Type: TimerEvent, Key: ResyncKey})

		case <-ctx.Done():
			return
		}
	}
}

// process runs the handler for new events and due retries.
// A new event replaces a pending retry of the same key.
func (r *Reconciler) process(ctx context.Context) {
	retryTicker := time.NewTicker(time.Second)
	defer retryTicker.Stop()

	queue := []pending{}

	for {
		select {
		case event := <-r.events:
			queue = slices.DeleteFunc(queue, func(p pending) bool { return p.event.sameAs(event) })

			if retry := r.reconcile(ctx, pending{event: event}); retry != nil {
				queue = append(queue, *retry)
			}

		case now := <-retryTicker.C:
			next := queue[:0]

			for _, p := range queue {
				if now.Before(p.nextRetry) {
					next = append(next, p)

					continue
				}

				if retry := r.reconcile(ctx, p); retry != nil {
					next = append(next, *retry)
				}
			}

			queue = next

		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context, p pending) *pending {
	r.logger.V(1).Info("Reconciling", "type", p.event.Type, "key", p.event.Key, "attempts", p.attempts)

	err := r.handler.Reconcile(ctx, p.event)

	switch {
	case err != nil && p.attempts < r.config.MaxRetries:
		delay := r.config.Backoff(p.attempts)

		r.logger.Error(err, "Reconciliation failed, scheduling retry",
			"key", p.event.Key,
			"attempt", p.attempts+1,
			"maxRetries", r.config.MaxRetries,
			"retryIn", delay)

		return &pending{
			event:     p.event,
			attempts:  p.attempts + 1,
			nextRetry: time.Now().Add(delay),
		}
	case err != nil:
		r.logger.Error(err, "Reconciliation permanently failed", "key", p.event.Key, "attempts", p.attempts)
	default:
		r.logger.V(1).Info("Reconciliation succeeded", "type", p.event.Type, "key", p.event.Key)
	}

	return nil
}
