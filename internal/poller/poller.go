// Package poller watches video synthesis jobs until they reach a terminal
// status. Each topic key has at most one watcher; stopping a watcher only
// stops local observation and never cancels the remote job.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/orchestrator"
	"github.com/p-n-ai/pai-learn/internal/progress"
)

const (
	defaultInterval  = 5 * time.Second
	defaultMaxErrors = 5
)

// Source performs a single status poll for a topic's video job and returns
// the stored task afterwards. *orchestrator.Orchestrator implements it.
type Source interface {
	PollVideo(ctx context.Context, key curriculum.TopicKey) (progress.VideoTask, error)
}

// Config holds poller settings.
type Config struct {
	Interval  time.Duration // between polls (default 5s)
	MaxErrors int           // consecutive failures before giving up (default 5)
	// OnTerminal is called from the watcher goroutine once a task completes or
	// fails. It may call Stop or Watch.
	OnTerminal func(key curriculum.TopicKey, task progress.VideoTask)
}

// Poller owns the video watchers of one session.
type Poller struct {
	source     Source
	interval   time.Duration
	maxErrors  int
	onTerminal func(curriculum.TopicKey, progress.VideoTask)

	mu       sync.Mutex
	watchers map[curriculum.TopicKey]*watcher
	closed   bool
}

type watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller over source.
func New(source Source, cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	maxErrors := cfg.MaxErrors
	if maxErrors <= 0 {
		maxErrors = defaultMaxErrors
	}
	return &Poller{
		source:     source,
		interval:   interval,
		maxErrors:  maxErrors,
		onTerminal: cfg.OnTerminal,
		watchers:   make(map[curriculum.TopicKey]*watcher),
	}
}

// Watch starts polling the video job of key. The first poll happens
// immediately. It returns false when key is already watched or the poller is
// closed.
func (p *Poller) Watch(key curriculum.TopicKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if _, ok := p.watchers[key]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{cancel: cancel, done: make(chan struct{})}
	p.watchers[key] = w
	go p.run(ctx, key, w)
	return true
}

// Watching reports whether key has an active watcher.
func (p *Poller) Watching(key curriculum.TopicKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watchers[key]
	return ok
}

// Stop cancels the watcher of key, if any, and waits for it to exit.
func (p *Poller) Stop(key curriculum.TopicKey) {
	p.mu.Lock()
	w, ok := p.watchers[key]
	delete(p.watchers, key)
	p.mu.Unlock()

	if ok {
		w.cancel()
		<-w.done
	}
}

// StopAll cancels every watcher and waits for them to exit.
func (p *Poller) StopAll() {
	p.mu.Lock()
	watchers := p.watchers
	p.watchers = make(map[curriculum.TopicKey]*watcher)
	p.mu.Unlock()

	for _, w := range watchers {
		w.cancel()
	}
	for _, w := range watchers {
		<-w.done
	}
}

// Close stops all watchers and refuses new ones.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.StopAll()
}

// release removes w from the registry if it is still the watcher of key.
func (p *Poller) release(key curriculum.TopicKey, w *watcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watchers[key] == w {
		delete(p.watchers, key)
	}
}

func (p *Poller) run(ctx context.Context, key curriculum.TopicKey, w *watcher) {
	defer close(w.done)
	defer w.cancel()

	slog.Info("video watcher started", "topic_key", key.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		task, err := p.source.PollVideo(ctx, key)
		switch {
		case ctx.Err() != nil:
			p.release(key, w)
			slog.Info("video watcher stopped", "topic_key", key.String())
			return

		case errors.Is(err, orchestrator.ErrMissingPrerequisite):
			p.release(key, w)
			slog.Info("video watcher stopped, no task", "topic_key", key.String())
			return

		case errors.Is(err, orchestrator.ErrInFlight):
			// another poll for the same key is outstanding; try next tick

		case err != nil:
			failures++
			if failures >= p.maxErrors {
				p.release(key, w)
				slog.Warn("video watcher giving up",
					"topic_key", key.String(),
					"task_id", task.TaskID,
					"failures", failures,
					"error", err,
				)
				return
			}

		case task.Status.Terminal():
			p.release(key, w)
			slog.Info("video task finished",
				"topic_key", key.String(),
				"task_id", task.TaskID,
				"status", string(task.Status),
			)
			if p.onTerminal != nil {
				p.onTerminal(key, task)
			}
			return

		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			p.release(key, w)
			slog.Info("video watcher stopped", "topic_key", key.String())
			return
		case <-ticker.C:
		}
	}
}
