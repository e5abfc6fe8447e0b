package matrix

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"
	"maunium.net/go/mautrix/event"

	"github.com/anicolao/morpheum/internal/format"
)

// ErrQueueClosed is returned by Send after Close.
var ErrQueueClosed = errors.New("send queue closed")

// PostFunc delivers one message event to a room.
type PostFunc func(ctx context.Context, roomID string, content *event.MessageEventContent) error

// MessageContent builds an m.text event. html, when non-empty, becomes
// the org.matrix.custom.html formatted body.
func MessageContent(text, html string) *event.MessageEventContent {
	c := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	if html != "" {
		c.Format = event.FormatHTML
		c.FormattedBody = html
	}
	return c
}

type sendJob struct {
	ctx     context.Context
	content *event.MessageEventContent
	done    chan error
}

// Queue delivers messages to each room in the order Send was called.
// Rooms are independent: a slow room does not delay another.
type Queue struct {
	post   PostFunc
	logger *slog.Logger

	// closeMu is held for reading while a job is enqueued so Close
	// never closes a channel under a sender.
	closeMu sync.RWMutex
	mu      sync.Mutex
	rooms   map[string]chan sendJob
	closed  bool
	wg      conc.WaitGroup
}

// NewQueue creates a Queue delivering through post.
func NewQueue(post PostFunc, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		post:   post,
		logger: logger,
		rooms:  make(map[string]chan sendJob),
	}
}

// Send enqueues a message for roomID and waits until it is delivered or
// ctx ends.
func (q *Queue) Send(ctx context.Context, roomID, text, html string) error {
	job := sendJob{ctx: ctx, content: MessageContent(text, html), done: make(chan error, 1)}

	q.closeMu.RLock()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.closeMu.RUnlock()
		return ErrQueueClosed
	}
	ch, ok := q.rooms[roomID]
	if !ok {
		ch = make(chan sendJob, 64)
		q.rooms[roomID] = ch
		q.wg.Go(func() { q.drain(roomID, ch) })
	}
	q.mu.Unlock()

	select {
	case ch <- job:
		q.closeMu.RUnlock()
	case <-ctx.Done():
		q.closeMu.RUnlock()
		return ctx.Err()
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) drain(roomID string, ch <-chan sendJob) {
	for job := range ch {
		if err := job.ctx.Err(); err != nil {
			job.done <- err
			continue
		}
		err := q.post(job.ctx, roomID, job.content)
		if err != nil {
			q.logger.Warn("message delivery failed", "room", roomID, "error", err)
		}
		job.done <- err
	}
}

// Sender returns a format.Sender bound to roomID.
func (q *Queue) Sender(roomID string) format.Sender {
	return format.SenderFunc(func(ctx context.Context, text, html string) error {
		return q.Send(ctx, roomID, text, html)
	})
}

// Close stops accepting messages, delivers what is queued and waits
// for the room workers to exit.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.rooms {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
