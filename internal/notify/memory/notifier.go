// Package memory contains an in-memory notifier for tests and demo runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

// Notifier records notifications for inspection.
type Notifier struct {
	mu            sync.RWMutex
	notifications []feedback.Notification
	err           error
	block         bool
	onNotify      func(feedback.Notification)
}

// New returns a memory Notifier. onNotify, when set, runs after each
// successful notification; demo runs use it to start a simulated pipeline.
func New(onNotify func(feedback.Notification)) *Notifier {
	return &Notifier{onNotify: onNotify}
}

// Notify records n and returns a pseudo acknowledgement.
func (n *Notifier) Notify(ctx context.Context, note feedback.Notification) (string, error) {
	n.mu.RLock()
	block, err := n.block, n.err
	n.mu.RUnlock()

	if block {
		<-ctx.Done()
		return "", fmt.Errorf("notify: %w", ctx.Err())
	}
	if err != nil {
		return "", err
	}

	n.mu.Lock()
	n.notifications = append(n.notifications, note)
	count := len(n.notifications)
	n.mu.Unlock()

	if n.onNotify != nil {
		n.onNotify(note)
	}
	return fmt.Sprintf("notification %d recorded", count), nil
}

// Fail makes subsequent calls return err; nil restores success.
func (n *Notifier) Fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Hang makes subsequent calls block until their context ends.
func (n *Notifier) Hang(block bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.block = block
}

// Notifications returns the recorded notifications.
func (n *Notifier) Notifications() []feedback.Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]feedback.Notification, len(n.notifications))
	copy(out, n.notifications)
	return out
}
