package delivery

import (
	"fmt"
	"strings"

	"github.com/tripwell/notify/internal/domain"
	"github.com/tripwell/notify/internal/ingest"
)

// trackedActionURL routes the notification's action link through the
// ingest click redirect so clicks feed the engagement pipeline. Returns
// the raw link when tracking is disabled or there is no link.
func trackedActionURL(base string, n *domain.Notification, ch domain.DeliveryChannel) string {
	if base == "" || n.Content.ActionURL == "" {
		return n.Content.ActionURL
	}
	token := ingest.EncodeTrackingData(n.ID, n.UserID, ch, n.Content.ActionURL)
	return fmt.Sprintf("%s/track/click/%s", strings.TrimRight(base, "/"), token)
}

// trackedHTML rewrites action links through the click redirect and
// appends the open pixel. The pixel goes just before </body> when the
// markup has one, otherwise at the end.
func trackedHTML(base, html string, n *domain.Notification, ch domain.DeliveryChannel) string {
	if base == "" || html == "" {
		return html
	}

	if n.Content.ActionURL != "" {
		html = strings.ReplaceAll(html, n.Content.ActionURL, trackedActionURL(base, n, ch))
	}

	openToken := ingest.EncodeTrackingData(n.ID, n.UserID, ch, "")
	pixel := fmt.Sprintf(`<img src="%s/track/open/%s" width="1" height="1" alt="" style="display:none">`,
		strings.TrimRight(base, "/"), openToken)

	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		return html[:idx] + pixel + html[idx:]
	}
	return html + pixel
}
