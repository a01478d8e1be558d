package delivery

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/tripwell/notify/internal/domain"
)

// Manager fans a notification out across its requested channels and
// collects one DeliveryResult per channel. Per-channel sends run
// concurrently; a failure (or panic) in one transport never aborts the
// others, and channels with no registered or enabled transport yield a
// synthetic FAILED result instead of being dropped.
type Manager struct {
	mu         sync.RWMutex
	transports map[domain.DeliveryChannel]Transport
	disabled   map[domain.DeliveryChannel]bool
}

// NewManager creates a delivery manager with the given transports.
func NewManager(transports ...Transport) *Manager {
	m := &Manager{
		transports: make(map[domain.DeliveryChannel]Transport),
		disabled:   make(map[domain.DeliveryChannel]bool),
	}
	for _, t := range transports {
		m.transports[t.Channel()] = t
	}
	return m
}

// Register adds or replaces the transport for a channel.
func (m *Manager) Register(t Transport) {
	m.mu.Lock()
	m.transports[t.Channel()] = t
	m.mu.Unlock()
}

// SetEnabled administratively enables or disables a channel. Disabled
// channels produce synthetic FAILED results without a transport attempt.
func (m *Manager) SetEnabled(ch domain.DeliveryChannel, enabled bool) {
	m.mu.Lock()
	m.disabled[ch] = !enabled
	m.mu.Unlock()
}

// Deliver sends the notification on every requested channel and returns
// exactly one result per requested channel, in the notification's channel
// order.
func (m *Manager) Deliver(ctx context.Context, n *domain.Notification) []domain.DeliveryResult {
	results := make([]domain.DeliveryResult, len(n.Channels))

	var wg sync.WaitGroup
	for i, ch := range n.Channels {
		m.mu.RLock()
		transport, registered := m.transports[ch]
		off := m.disabled[ch]
		m.mu.RUnlock()

		if !registered {
			log.Printf("[Delivery] No transport registered for channel %s (notification %s)", ch, n.ID)
			results[i] = *domain.FailedResult(n.ID, ch, fmt.Sprintf("no transport registered for channel %s", ch))
			continue
		}
		if off {
			log.Printf("[Delivery] Channel %s administratively disabled (notification %s)", ch, n.ID)
			results[i] = *domain.FailedResult(n.ID, ch, fmt.Sprintf("channel %s is disabled", ch))
			continue
		}

		wg.Add(1)
		go func(i int, ch domain.DeliveryChannel, t Transport) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[Delivery] Transport %s panicked for %s: %v", ch, n.ID, r)
					results[i] = *domain.FailedResult(n.ID, ch, fmt.Sprintf("transport panic: %v", r))
				}
			}()
			results[i] = *t.Send(ctx, n)
		}(i, ch, transport)
	}
	wg.Wait()

	return results
}

// ValidateAllHandlers reports per-channel transport readiness for startup
// health checks.
func (m *Manager) ValidateAllHandlers() map[domain.DeliveryChannel]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[domain.DeliveryChannel]bool, len(m.transports))
	for ch, t := range m.transports {
		out[ch] = t.ValidateConfig() && !m.disabled[ch]
	}
	return out
}

// AvailableChannels returns the channels with a registered, enabled
// transport, in a stable order.
func (m *Manager) AvailableChannels() []domain.DeliveryChannel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.DeliveryChannel, 0, len(m.transports))
	for ch := range m.transports {
		if !m.disabled[ch] {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
