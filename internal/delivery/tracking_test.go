package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripwell/notify/internal/domain"
	"github.com/tripwell/notify/internal/ingest"
)

const testTrackingBase = "https://track.tripwell.io"

func TestTrackedActionURL_RoutesThroughClickRedirect(t *testing.T) {
	n := testNotification(domain.ChannelPush)
	n.Content.ActionURL = "https://tripwell.io/trips/lisbon"

	got := trackedActionURL(testTrackingBase, n, domain.ChannelPush)

	token := ingest.EncodeTrackingData(n.ID, n.UserID, domain.ChannelPush, n.Content.ActionURL)
	assert.Equal(t, testTrackingBase+"/track/click/"+token, got)
}

func TestTrackedActionURL_PassthroughWhenDisabled(t *testing.T) {
	n := testNotification(domain.ChannelPush)
	n.Content.ActionURL = "https://tripwell.io/trips/lisbon"

	assert.Equal(t, n.Content.ActionURL, trackedActionURL("", n, domain.ChannelPush))

	n.Content.ActionURL = ""
	assert.Empty(t, trackedActionURL(testTrackingBase, n, domain.ChannelPush))
}

func TestTrackedHTML_RewritesLinksAndAddsPixel(t *testing.T) {
	n := testNotification(domain.ChannelEmail)
	n.Content.ActionURL = "https://tripwell.io/trips/lisbon"
	html := `<html><body><a href="https://tripwell.io/trips/lisbon">View trip</a></body></html>`

	got := trackedHTML(testTrackingBase, html, n, domain.ChannelEmail)

	clickToken := ingest.EncodeTrackingData(n.ID, n.UserID, domain.ChannelEmail, n.Content.ActionURL)
	openToken := ingest.EncodeTrackingData(n.ID, n.UserID, domain.ChannelEmail, "")
	assert.Contains(t, got, "/track/click/"+clickToken)
	assert.Contains(t, got, "/track/open/"+openToken)
	assert.NotContains(t, got, `href="https://tripwell.io/trips/lisbon"`, "raw link replaced by the redirect")
	assert.Less(t, strings.Index(got, "/track/open/"), strings.Index(got, "</body>"), "pixel sits inside the body")
}

func TestTrackedHTML_PixelAppendedWithoutBodyTag(t *testing.T) {
	n := testNotification(domain.ChannelEmail)

	got := trackedHTML(testTrackingBase, "<p>Pack your bags</p>", n, domain.ChannelEmail)

	assert.True(t, strings.HasPrefix(got, "<p>Pack your bags</p>"))
	assert.Contains(t, got, "/track/open/")
}

func TestEmailSend_BodyCarriesTracking(t *testing.T) {
	ses := &fakeSES{}
	tr, _ := emailTransportFor(ses)
	tr.tracking = testTrackingBase

	n := testNotification(domain.ChannelEmail)
	n.Content.ActionURL = "https://tripwell.io/trips/lisbon"
	n.Content.HTMLBody = `<html><body><a href="https://tripwell.io/trips/lisbon">View trip</a></body></html>`

	result := tr.Send(context.Background(), n)

	require.Equal(t, domain.StatusSent, result.Status)
	require.NotNil(t, ses.lastInput)
	htmlSent := *ses.lastInput.Content.Simple.Body.Html.Data
	assert.Contains(t, htmlSent, testTrackingBase+"/track/click/")
	assert.Contains(t, htmlSent, testTrackingBase+"/track/open/")
	assert.NotContains(t, htmlSent, `href="https://tripwell.io/trips/lisbon"`)
}

func TestPushSend_ActionURLRoutedThroughTracking(t *testing.T) {
	var gotData map[string]string
	tr := pushTransportFor(t, []string{"tok-1"}, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Data map[string]string `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotData = req.Data
		json.NewEncoder(w).Encode(map[string]string{"message_id": "push-1"})
	})
	tr.tracking = testTrackingBase

	n := testNotification(domain.ChannelPush)
	n.Content.ActionURL = "https://tripwell.io/trips/lisbon"

	result := tr.Send(context.Background(), n)

	require.Equal(t, domain.StatusSent, result.Status)
	token := ingest.EncodeTrackingData(n.ID, n.UserID, domain.ChannelPush, n.Content.ActionURL)
	assert.Equal(t, testTrackingBase+"/track/click/"+token, gotData["action_url"])
}
