package assist

import (
	"sync"
	"time"
)

// NoticeLevel orders notices by urgency.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is an operator-facing message.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	URL     string      `json:"url,omitempty"`
	Time    time.Time   `json:"time"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// NoticeBuffer collects notices until drained.
type NoticeBuffer struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier.
func (b *NoticeBuffer) Notify(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, n)
}

// Drain returns and clears the buffered notices.
func (b *NoticeBuffer) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}

// Len returns the number of buffered notices.
func (b *NoticeBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notices)
}
