// Package memory contains an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/politefetch/internal/publisher"
)

// Publisher stores published messages for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []publisher.Message
	err      error
}

var _ publisher.Publisher = (*Publisher)(nil)

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err. Nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, msg publisher.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, msg)
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []publisher.Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]publisher.Message, len(p.messages))
	copy(out, p.messages)
	return out
}
