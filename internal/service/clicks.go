package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"snaplink/internal/model"
)

const (
	defaultWorkers    = 4
	defaultQueueDepth = 1024

	// taskTimeout bounds each background write so a stalled store cannot
	// pin a worker forever
	taskTimeout = 5 * time.Second
)

// RecordClick appends a click event off the request path. Failures are
// logged and never reach the redirect response.
func (s *LinkService) RecordClick(shortCode, clientIP, userAgent, referrer string) {
	event := &model.ClickEvent{
		ShortCode:  shortCode,
		ClickedAt:  time.Now().UTC(),
		ClientIP:   clientIP,
		UserAgent:  userAgent,
		Referrer:   referrer,
		DeviceType: DeviceType(userAgent),
	}
	s.queue.enqueue("click_event", func(ctx context.Context) error {
		return s.clicks.Append(ctx, event)
	})
}

// DeviceType derives a coarse device class from the user agent
func DeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "mobile"
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		return "tablet"
	default:
		return "desktop"
	}
}

type task struct {
	name string
	run  func(ctx context.Context) error
}

// taskQueue is a bounded worker pool for fire-and-forget writes: click
// events, access bumps and title enrichment. Enqueueing never blocks the
// caller; when the buffer is full the task is dropped and logged, because
// redirect latency must not depend on write-path latency.
type taskQueue struct {
	tasks  chan task
	wg     sync.WaitGroup
	logger *zap.Logger
}

func newTaskQueue(workers, depth int, logger *zap.Logger) *taskQueue {
	q := &taskQueue{
		tasks:  make(chan task, depth),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *taskQueue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		// Background tasks get their own context; the originating request
		// may already be gone.
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		if err := t.run(ctx); err != nil {
			q.logger.Error("background task failed",
				zap.String("task", t.name), zap.Error(err))
		}
		cancel()
	}
}

func (q *taskQueue) enqueue(name string, run func(ctx context.Context) error) {
	select {
	case q.tasks <- task{name: name, run: run}:
	default:
		q.logger.Warn("task queue full, dropping task", zap.String("task", name))
	}
}

// close stops accepting tasks and waits for in-flight ones to finish
func (q *taskQueue) close() {
	close(q.tasks)
	q.wg.Wait()
}
