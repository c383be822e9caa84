package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	updateBufferSize = 64
	updateTimeout    = 30 * time.Second
)

type updateJob struct {
	messageID string
	text      string
	userID    string
	roomID    string
}

// updateWorker applies post-send learning off the message path: store the
// message embedding, update the social graph. One goroutine drains a bounded
// queue; a full queue drops the update rather than blocking a send.
type updateWorker struct {
	orch    *Orchestrator
	logger  *slog.Logger
	jobs    chan updateJob
	done    chan struct{}
	dropped atomic.Int64
}

func newUpdateWorker(o *Orchestrator, logger *slog.Logger) *updateWorker {
	w := &updateWorker{
		orch:   o,
		logger: logger,
		jobs:   make(chan updateJob, updateBufferSize),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

// UpdateFromMessage queues post-send learning for a delivered message.
// Fire-and-forget: it never blocks and reports only whether the job was
// accepted.
func (o *Orchestrator) UpdateFromMessage(messageID, text, userID, roomID string) bool {
	if text == "" || userID == "" || roomID == "" {
		return false
	}
	return o.updates.submit(updateJob{
		messageID: messageID,
		text:      text,
		userID:    userID,
		roomID:    roomID,
	})
}

// Dropped reports how many updates were discarded because the queue was full.
func (o *Orchestrator) Dropped() int64 { return o.updates.dropped.Load() }

func (w *updateWorker) submit(job updateJob) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warn("background update queue full, dropping",
			"room_id", job.roomID, "dropped_total", w.dropped.Load())
		return false
	}
}

func (w *updateWorker) run() {
	defer close(w.done)
	for job := range w.jobs {
		w.process(job)
	}
}

func (w *updateWorker) process(job updateJob) {
	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()

	if w.orch.narrative != nil && job.messageID != "" {
		if !w.orch.narrative.StoreMessageEmbedding(ctx, job.messageID, job.text) {
			w.logger.Warn("background embedding store failed", "message_id", job.messageID)
		}
	}
	if w.orch.social != nil {
		w.orch.social.UpdateFromMessage(ctx, job.text, job.userID, job.roomID)
	}
}

// close stops the worker after draining queued jobs.
func (w *updateWorker) close() {
	close(w.jobs)
	<-w.done
}
