package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripwell/notify/internal/domain"
)

func sentStub(ch domain.DeliveryChannel) *stubTransport {
	return &stubTransport{
		channel: ch,
		valid:   true,
		result:  &domain.DeliveryResult{Channel: ch, Status: domain.StatusSent, ProviderID: "prov-1"},
	}
}

func failedStub(ch domain.DeliveryChannel, msg string) *stubTransport {
	return &stubTransport{
		channel: ch,
		valid:   true,
		result:  domain.FailedResult("", ch, msg),
	}
}

func TestDeliver_OneResultPerRequestedChannel(t *testing.T) {
	m := NewManager(
		sentStub(domain.ChannelEmail),
		failedStub(domain.ChannelSMS, "network error: connection refused"),
		sentStub(domain.ChannelPush),
	)

	n := testNotification(domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush)
	results := m.Deliver(context.Background(), n)

	require.Len(t, results, 3, "exactly one result per requested channel")
	assert.Equal(t, domain.ChannelEmail, results[0].Channel)
	assert.Equal(t, domain.ChannelSMS, results[1].Channel)
	assert.Equal(t, domain.ChannelPush, results[2].Channel)
	for _, r := range results {
		assert.Equal(t, "n-test", r.NotificationID)
	}
}

// Scenario: email succeeds, sms hits a network error. Both channels must
// report, sms with a non-empty error message.
func TestDeliver_PartialFailureIsolation(t *testing.T) {
	m := NewManager(
		sentStub(domain.ChannelEmail),
		failedStub(domain.ChannelSMS, "network error: connection refused"),
	)

	results := m.Deliver(context.Background(), testNotification(domain.ChannelEmail, domain.ChannelSMS))

	require.Len(t, results, 2)
	assert.Equal(t, domain.StatusSent, results[0].Status)
	assert.Equal(t, domain.StatusFailed, results[1].Status)
	assert.NotEmpty(t, results[1].Error)
}

func TestDeliver_MissingTransport(t *testing.T) {
	m := NewManager(sentStub(domain.ChannelEmail))

	results := m.Deliver(context.Background(), testNotification(domain.ChannelEmail, domain.ChannelBrowser))

	require.Len(t, results, 2)
	assert.Equal(t, domain.StatusFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "browser", "error names the missing channel")
}

func TestDeliver_DisabledChannel(t *testing.T) {
	m := NewManager(sentStub(domain.ChannelEmail), sentStub(domain.ChannelSMS))
	m.SetEnabled(domain.ChannelSMS, false)

	results := m.Deliver(context.Background(), testNotification(domain.ChannelEmail, domain.ChannelSMS))

	require.Len(t, results, 2)
	assert.Equal(t, domain.StatusSent, results[0].Status)
	assert.Equal(t, domain.StatusFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "disabled")
}

func TestDeliver_PanickingTransportIsIsolated(t *testing.T) {
	m := NewManager(
		sentStub(domain.ChannelEmail),
		&stubTransport{channel: domain.ChannelPush, valid: true, panics: true},
	)

	results := m.Deliver(context.Background(), testNotification(domain.ChannelEmail, domain.ChannelPush))

	require.Len(t, results, 2)
	assert.Equal(t, domain.StatusSent, results[0].Status)
	assert.Equal(t, domain.StatusFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "panic")
}

func TestValidateAllHandlers(t *testing.T) {
	m := NewManager(
		sentStub(domain.ChannelEmail),
		&stubTransport{channel: domain.ChannelSMS, valid: false, result: domain.FailedResult("", domain.ChannelSMS, "x")},
	)
	m.SetEnabled(domain.ChannelEmail, false)

	health := m.ValidateAllHandlers()
	assert.False(t, health[domain.ChannelEmail], "disabled channel reports unhealthy")
	assert.False(t, health[domain.ChannelSMS], "misconfigured transport reports unhealthy")
}

func TestAvailableChannels(t *testing.T) {
	m := NewManager(sentStub(domain.ChannelPush), sentStub(domain.ChannelEmail), sentStub(domain.ChannelSMS))
	m.SetEnabled(domain.ChannelSMS, false)

	assert.Equal(t, []domain.DeliveryChannel{domain.ChannelEmail, domain.ChannelPush}, m.AvailableChannels())
}
