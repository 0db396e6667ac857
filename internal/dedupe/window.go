// ABOUTME: Time- and size-bounded window of recently seen dispatch keys
// ABOUTME: Drops events replayed across reconnects before they reach handlers

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/2389/gatewaykit/internal/entity"
	"github.com/2389/gatewaykit/internal/gateway"
)

const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 10000
)

type entry struct {
	key  string
	seen time.Time
}

// Window is a TTL window over event keys. Entries are kept in the order
// they were last seen, so expiry and eviction both work from the front.
type Window struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

// New returns a window that forgets keys after ttl and holds at most
// maxSize of them. Non-positive values select the defaults.
func New(ttl time.Duration, maxSize int) *Window {
	return newWindow(ttl, maxSize, time.Now)
}

func newWindow(ttl time.Duration, maxSize int, now func() time.Time) *Window {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	w := &Window{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		stop:    make(chan struct{}),
	}
	go w.sweepLoop()
	return w
}

// Observe records key and reports whether it was already inside the window.
func (w *Window) Observe(key string) (duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if el, ok := w.index[key]; ok {
		e := el.Value.(*entry)
		duplicate = now.Sub(e.seen) < w.ttl
		e.seen = now
		w.order.MoveToBack(el)
		return duplicate
	}

	for len(w.index) >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.index[key] = w.order.PushBack(&entry{key: key, seen: now})
	return false
}

// Contains reports whether key is inside the window without recording it.
func (w *Window) Contains(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	el, ok := w.index[key]
	return ok && w.now().Sub(el.Value.(*entry).seen) < w.ttl
}

// Len returns the number of keys held, expired ones included until the
// next sweep.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.index)
}

// Reset forgets every key.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index = make(map[string]*list.Element)
	w.order.Init()
}

func (w *Window) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	w.order.Remove(el)
	delete(w.index, el.Value.(*entry).key)
}

// sweep drops expired keys from the front of the order.
func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Sub(el.Value.(*entry).seen) < w.ttl {
			return
		}
		w.removeLocked(el)
	}
}

func (w *Window) sweepLoop() {
	interval := w.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stop:
			return
		}
	}
}

// Close stops the background sweep. Safe to call more than once.
func (w *Window) Close() {
	w.closeOnce.Do(func() { close(w.stop) })
}

// Key derives the dedupe key of a dispatch event as "NAME:id". Edits carry
// their edit timestamp so distinct edits of one message stay distinct.
// Events without an id have no key, and neither do guild events: the same
// guild legitimately arrives again after a fresh identify or an outage.
func Key(ev gateway.Event) (string, bool) {
	switch e := ev.(type) {
	case gateway.MessageCreate:
		if e.Message == nil {
			return "", false
		}
		return gateway.EventMessageCreate + ":" + e.Message.ID.String(), true
	case gateway.Ready:
		if e.Data == nil || e.Data.SessionID == "" {
			return "", false
		}
		return gateway.EventReady + ":" + e.Data.SessionID, true
	case gateway.Dispatch:
		return dispatchKey(e)
	}
	return "", false
}

func dispatchKey(d gateway.Dispatch) (string, bool) {
	if d.Name == gateway.EventGuildCreate {
		return "", false
	}
	switch v := d.Entity.(type) {
	case *entity.Message:
		if v.EditedTimestamp != nil {
			return d.Name + ":" + v.ID.String() + "@" + *v.EditedTimestamp, true
		}
		return d.Name + ":" + v.ID.String(), true
	case *entity.Guild:
		return "", false
	case *entity.MessageDelete:
		return d.Name + ":" + v.ID.String(), true
	}

	id := gjson.GetBytes(d.Payload, "id")
	if !id.Exists() || id.String() == "" {
		return "", false
	}
	key := d.Name + ":" + id.String()
	if edited := gjson.GetBytes(d.Payload, "edited_timestamp"); edited.Type == gjson.String {
		key += "@" + edited.String()
	}
	return key, true
}
