package cohort

import (
	"sync"
	"time"
)

// Level classifies a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Notification is a non-blocking message for the user.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier receives user notifications. Implementations must not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notification) {}

// defaultInboxSize bounds an Inbox nobody drains.
const defaultInboxSize = 50

// Inbox queues notifications until they are drained, e.g. by the next page
// render. When full, the oldest notification is dropped.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
	max   int
}

// NewInbox creates an inbox holding at most max notifications.
func NewInbox(max int) *Inbox {
	if max <= 0 {
		max = defaultInboxSize
	}
	return &Inbox{max: max}
}

// Notify queues n.
func (b *Inbox) Notify(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max <= 0 {
		b.max = defaultInboxSize
	}
	if len(b.items) >= b.max {
		b.items = b.items[1:]
	}
	b.items = append(b.items, n)
}

// Drain returns and removes all queued notifications.
func (b *Inbox) Drain() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// Len returns the number of queued notifications.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
