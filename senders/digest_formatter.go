package senders

import (
	"fmt"
	"strings"

	"github.com/fiffu/feedbucket/lib/models"
)

// FormatDigestEmail renders an assembled digest into an email subject
// and HTML body.
func FormatDigestEmail(d *models.Digest) (subject, body string) {
	subject = fmt.Sprintf("Feedbucket digest: %d items from %d feeds", d.TotalItems, d.FeedCount)

	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Digest for %s &ndash; %s</h2>",
		d.Window.Since.Format("Jan 2"), d.Window.Until.Format("Jan 2, 2006"))
	fmt.Fprintf(&b, "<p>%d items, %d feeds, about %d min of reading.</p>",
		d.TotalItems, d.FeedCount, d.ReadingTimeMinutes)

	for _, group := range d.Groups {
		fmt.Fprintf(&b, "<h3>%s (%d)</h3><ul>", group.FeedName, len(group.Items))
		for _, item := range group.Items {
			fmt.Fprintf(&b, `<li><a href="%s">%s</a> &mdash; %s, %d min</li>`,
				item.URL, item.Title, item.Priority, item.ReadingTime())
		}
		b.WriteString("</ul>")
	}

	if d.TotalItems == 0 {
		b.WriteString("<p><em>No items in this window.</em></p>")
	}

	return subject, b.String()
}
