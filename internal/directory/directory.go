// Package directory resolves channel-specific addresses and behavior
// snapshots for users. The delivery transports and intelligence services
// depend on the Directory interface; production wires the Postgres
// implementation, tests substitute fakes.
package directory

import (
	"context"

	"github.com/tripwell/notify/internal/domain"
)

// ChannelAddresses holds every delivery identifier known for one user.
// A missing identifier is not an error at this layer; transports convert
// it into a per-channel FAILED result.
type ChannelAddresses struct {
	UserID            string   `json:"user_id"`
	Email             string   `json:"email,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	DeviceTokens      []string `json:"device_tokens,omitempty"`
	PushSubscriptions []string `json:"push_subscriptions,omitempty"`
}

// Directory is the user-profile collaborator consumed by the core.
type Directory interface {
	// Addresses returns the channel identifiers for a user.
	Addresses(ctx context.Context, userID string) (*ChannelAddresses, error)
	// Behavior returns the user's engagement snapshot. Implementations
	// return a zero-history snapshot rather than an error for unknown
	// users, so prediction degrades to neutral defaults.
	Behavior(ctx context.Context, userID string) (*domain.UserBehaviorData, error)
	// SaveBehavior replaces a user's stored behavior snapshot. Only the
	// timing optimizer's model-update routine calls this.
	SaveBehavior(ctx context.Context, behavior *domain.UserBehaviorData) error
}
