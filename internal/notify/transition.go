package notify

import "caliberscan/internal/models"

// Notification kinds.
const (
	KindFailed              = "feed.failed"
	KindWarning             = "feed.warning"
	KindRecovered           = "feed.recovered"
	KindSubscriptionExpired = "subscription.expired"
)

// Decide maps a feed status transition to the notification kind to send,
// or "" for silence. WARNING -> WARNING is explicitly suppressed so a
// persistently noisy feed notifies once, not every run.
func Decide(previous, current string) string {
	switch current {
	case models.FeedFailed:
		switch previous {
		case models.FeedHealthy, models.FeedWarning, models.FeedPending:
			return KindFailed
		}
	case models.FeedWarning:
		switch previous {
		case models.FeedHealthy, models.FeedPending:
			return KindWarning
		}
	case models.FeedHealthy:
		switch previous {
		case models.FeedFailed, models.FeedWarning:
			return KindRecovered
		}
	}
	return ""
}

// Recipient returns the first contact that opted into communication, or
// nil when the dealer has none; the gate then skips silently.
func Recipient(d *models.Dealer) *models.Contact {
	for i := range d.Contacts {
		if d.Contacts[i].CommunicationOptIn {
			return &d.Contacts[i]
		}
	}
	return nil
}
