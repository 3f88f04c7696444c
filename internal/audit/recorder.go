package audit

import (
	"context"
	"sync"
	"time"

	"github.com/mssola/user_agent"
	"github.com/sirupsen/logrus"
)

// RequestMeta describes who triggered a change. HTTP middleware stores it on
// the request context.
type RequestMeta struct {
	ActorID   string
	IPAddress string
	UserAgent string
}

type metaKey struct{}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

func MetaFrom(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(metaKey{}).(RequestMeta)
	return meta, ok
}

const recorderQueueSize = 256

// Recorder writes audit entries on a fire-and-forget, log-only basis. Record
// only enqueues; one background writer drains the bounded queue, and when the
// queue is full the entry is logged and dropped so callers never wait on the
// audit store.
type Recorder struct {
	store   Store
	log     logrus.FieldLogger
	timeout time.Duration

	mu     sync.RWMutex
	queue  chan Entry
	closed bool
	done   chan struct{}
}

func NewRecorder(store Store, log logrus.FieldLogger) *Recorder {
	r := &Recorder{store: store, log: log, timeout: 3 * time.Second}
	if store != nil {
		r.queue = make(chan Entry, recorderQueueSize)
		r.done = make(chan struct{})
		go r.run()
	}
	return r
}

func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil || r.store == nil {
		return
	}
	if meta, ok := MetaFrom(ctx); ok {
		if entry.ActorID == "" {
			entry.ActorID = meta.ActorID
		}
		entry.IPAddress = meta.IPAddress
		entry.UserAgent = meta.UserAgent
		entry.Device = DescribeDevice(meta.UserAgent)
	}
	if entry.Source == "" {
		entry.Source = "system"
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped(entry, "recorder closed")
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.dropped(entry, "audit queue full")
	}
}

// Close stops accepting entries and waits until the queued ones are written.
func (r *Recorder) Close() {
	if r == nil || r.queue == nil {
		return
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *Recorder) write(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.Insert(ctx, &entry); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"booking_id": entry.BookingID,
			"action":     entry.Action,
		}).Error("failed to write audit entry")
	}
}

func (r *Recorder) dropped(entry Entry, reason string) {
	r.log.WithFields(logrus.Fields{
		"booking_id": entry.BookingID,
		"action":     entry.Action,
	}).Error("audit entry dropped: " + reason)
}

func (r *Recorder) List(ctx context.Context, bookingID string) ([]Entry, error) {
	return r.store.ListByBooking(ctx, bookingID)
}

// DescribeDevice summarises a User-Agent as "<browser> on <os>" plus a device
// class.
func DescribeDevice(raw string) string {
	if raw == "" {
		return ""
	}
	ua := user_agent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	browser, _ := ua.Browser()
	class := "desktop"
	if ua.Mobile() {
		class = "mobile"
	}
	os := ua.OS()
	if os == "" {
		os = "unknown os"
	}
	return browser + " on " + os + " (" + class + ")"
}
