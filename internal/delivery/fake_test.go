package delivery

import (
	"context"
	"fmt"

	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/domain"
)

// fakeDirectory is an in-memory Directory for transport tests.
type fakeDirectory struct {
	addresses map[string]*directory.ChannelAddresses
	behaviors map[string]*domain.UserBehaviorData
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		addresses: make(map[string]*directory.ChannelAddresses),
		behaviors: make(map[string]*domain.UserBehaviorData),
	}
}

func (f *fakeDirectory) Addresses(_ context.Context, userID string) (*directory.ChannelAddresses, error) {
	if a, ok := f.addresses[userID]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("user %s not found", userID)
}

func (f *fakeDirectory) Behavior(_ context.Context, userID string) (*domain.UserBehaviorData, error) {
	if b, ok := f.behaviors[userID]; ok {
		return b, nil
	}
	return &domain.UserBehaviorData{UserID: userID, Timezone: "UTC"}, nil
}

func (f *fakeDirectory) SaveBehavior(_ context.Context, b *domain.UserBehaviorData) error {
	f.behaviors[b.UserID] = b
	return nil
}

// stubTransport returns a canned result for manager tests.
type stubTransport struct {
	channel domain.DeliveryChannel
	result  *domain.DeliveryResult
	valid   bool
	panics  bool
}

func (s *stubTransport) Channel() domain.DeliveryChannel { return s.channel }
func (s *stubTransport) ValidateConfig() bool            { return s.valid }

func (s *stubTransport) Send(_ context.Context, n *domain.Notification) *domain.DeliveryResult {
	if s.panics {
		panic("provider client exploded")
	}
	r := *s.result
	r.NotificationID = n.ID
	return &r
}

func testNotification(channels ...domain.DeliveryChannel) *domain.Notification {
	return &domain.Notification{
		ID:     "n-test",
		UserID: "u-test",
		Type:   domain.TypeTravelReminder,
		Content: domain.NotificationContent{
			Subject: "Your trip starts tomorrow",
			Body:    "Pack your bags — Lisbon is waiting.",
		},
		Channels: channels,
	}
}
