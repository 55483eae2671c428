package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/teatribe/tribes/internal/model"
)

const sendTimeout = 10 * time.Second

// Broadcaster delivers an event to the live connections of a group.
type Broadcaster interface {
	Broadcast(group, event string, payload any)
}

// MemberSource loads a tribe with its members.
type MemberSource interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Tribe, error)
}

type job struct {
	tribeID uuid.UUID

	event   string
	payload any

	push    bool
	exclude uuid.UUID
	tag     model.MessageTag
	title   string
	body    string
}

// Dispatcher queues fan-out work and processes it on a fixed worker pool, so callers
// never wait on the realtime hub or a push provider. Jobs are dropped when the queue
// is full.
type Dispatcher struct {
	hub     Broadcaster
	members MemberSource
	senders map[model.DeviceType]Sender
	log     *zap.Logger

	queue   chan job
	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher constructs a dispatcher. Platforms missing from senders are skipped.
func NewDispatcher(
	hub Broadcaster, members MemberSource, senders map[model.DeviceType]Sender,
	queueSize, workers int, log *zap.Logger,
) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		hub:     hub,
		members: members,
		senders: senders,
		log:     log,
		queue:   make(chan job, queueSize),
		workers: workers,
	}
}

// Start launches the workers. Stop drains the queue and waits for them.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.queue {
				d.handle(j)
			}
		}()
	}
}

// Stop closes the queue and waits for queued jobs to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) BroadcastToTribe(tribeID uuid.UUID, event string, payload any) {
	d.enqueue(job{tribeID: tribeID, event: event, payload: payload})
}

func (d *Dispatcher) PushToTribe(tribeID, exclude uuid.UUID, tag model.MessageTag, title, body string) {
	d.enqueue(job{tribeID: tribeID, push: true, exclude: exclude, tag: tag, title: title, body: body})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- j:
	default:
		d.log.Warn("fan-out queue full, dropping", zap.Stringer("tribe", j.tribeID), zap.Bool("push", j.push))
	}
}

func (d *Dispatcher) handle(j job) {
	if !j.push {
		d.hub.Broadcast(j.tribeID.String(), j.event, j.payload)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	t, err := d.members.Get(ctx, j.tribeID)
	if err != nil {
		d.log.Warn("push: load tribe", zap.Stringer("tribe", j.tribeID), zap.Error(err))
		return
	}
	title := j.title
	if title == "" {
		title = t.Name
	}
	meta := map[string]string{"tribeId": t.ID.String(), "tag": string(j.tag)}

	for _, m := range t.Members {
		acc := m.Account
		if acc.ID == j.exclude || !acc.HasPushBinding() {
			continue
		}
		sender, ok := d.senders[acc.DeviceType]
		if !ok {
			continue
		}
		p, err := BuildPayload(acc.DeviceType, title, j.body, meta)
		if err != nil {
			d.log.Warn("push: build payload", zap.Stringer("account", acc.ID), zap.Error(err))
			continue
		}
		if err := sender.Send(ctx, acc.DeviceToken, p); err != nil {
			d.log.Warn("push: send", zap.Stringer("account", acc.ID), zap.String("platform", string(acc.DeviceType)), zap.Error(err))
		}
	}
}
