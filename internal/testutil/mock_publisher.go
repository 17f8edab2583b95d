package testutil

import (
	"context"
	"sync"

	"github.com/pewsoft/subscriptions/internal/reminder"
)

var _ reminder.Publisher = (*MockReminderPublisher)(nil)

// MockReminderPublisher collects published reminders in memory
type MockReminderPublisher struct {
	mu        sync.Mutex
	reminders []*reminder.Reminder
	Err       error
}

func NewMockReminderPublisher() *MockReminderPublisher {
	return &MockReminderPublisher{}
}

func (p *MockReminderPublisher) Publish(ctx context.Context, r *reminder.Reminder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.reminders = append(p.reminders, r)
	return nil
}

// Reminders returns what was published so far
func (p *MockReminderPublisher) Reminders() []*reminder.Reminder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*reminder.Reminder(nil), p.reminders...)
}

func (p *MockReminderPublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reminders = nil
	p.Err = nil
}
