package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"caliberscan/internal/models"

	"github.com/google/uuid"
)

// Message is one outbound notification, transport-agnostic.
type Message struct {
	Kind      string                 `json:"kind"`
	DealerID  string                 `json:"dealer_id"`
	FeedID    string                 `json:"feed_id,omitempty"`
	Recipient string                 `json:"recipient,omitempty"`
	Subject   string                 `json:"subject"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notifier delivers a message. Implementations must not block forever;
// the gate treats every error as non-fatal.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Store is the slice of the repository the gate needs.
type Store interface {
	ClaimSubscriptionNotice(ctx context.Context, dealerID string, now time.Time) (bool, error)
	InsertNotification(ctx context.Context, id, dealerID, feedID, kind, recipient, subject, body string) error
}

// Gate turns feed status transitions and subscription expiries into
// notifications. Every path is best-effort: a delivery failure is logged
// and swallowed so it can never fail an ingest run.
type Gate struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewGate(store Store, notifier Notifier) *Gate {
	return &Gate{store: store, notifier: notifier, now: time.Now}
}

// FeedTransition inspects previous -> current and sends at most one
// notification per the transition table.
func (g *Gate) FeedTransition(ctx context.Context, dealer *models.Dealer, feed *models.Feed, previous, current string, run *models.FeedRun) {
	kind := Decide(previous, current)
	if kind == "" {
		return
	}

	contact := Recipient(dealer)
	if contact == nil {
		log.Printf("[notify] dealer %s has no opted-in contact, skipping %s", dealer.ID, kind)
		return
	}

	msg := Message{
		Kind:      kind,
		DealerID:  dealer.ID,
		FeedID:    feed.ID,
		Recipient: contact.Email,
		Subject:   subjectFor(kind, feed),
		Body:      bodyFor(kind, feed, run),
	}
	if run != nil {
		msg.Data = map[string]interface{}{
			"run_id":             run.ID,
			"total":              run.Total,
			"indexed":            run.Indexed,
			"quarantined":        run.Quarantined,
			"rejected":           run.Rejected,
			"primary_error_code": run.PrimaryErrorCode,
		}
	}
	g.deliver(ctx, msg)
}

// SubscriptionExpired sends the grace/expiry notice, at most once per 24
// hours per dealer. The conditional store update is the rate limiter; only
// the worker whose claim succeeds sends.
func (g *Gate) SubscriptionExpired(ctx context.Context, dealer *models.Dealer) {
	ok, err := g.store.ClaimSubscriptionNotice(ctx, dealer.ID, g.now())
	if err != nil {
		log.Printf("[notify] subscription notice claim for %s failed: %v", dealer.ID, err)
		return
	}
	if !ok {
		return
	}

	contact := Recipient(dealer)
	if contact == nil {
		log.Printf("[notify] dealer %s has no opted-in contact, skipping %s", dealer.ID, KindSubscriptionExpired)
		return
	}

	g.deliver(ctx, Message{
		Kind:      KindSubscriptionExpired,
		DealerID:  dealer.ID,
		Recipient: contact.Email,
		Subject:   "Your subscription has expired",
		Body: fmt.Sprintf("Feeds for %s are paused because the subscription expired. "+
			"Renew to resume ingestion.", dealer.BusinessName),
	})
}

func (g *Gate) deliver(ctx context.Context, msg Message) {
	if err := g.notifier.Send(ctx, msg); err != nil {
		log.Printf("[notify] send %s to %s failed: %v", msg.Kind, msg.Recipient, err)
		return
	}
	err := g.store.InsertNotification(ctx, uuid.NewString(), msg.DealerID, msg.FeedID,
		msg.Kind, msg.Recipient, msg.Subject, msg.Body)
	if err != nil {
		log.Printf("[notify] audit write for %s failed: %v", msg.Kind, err)
	}
}

func subjectFor(kind string, feed *models.Feed) string {
	switch kind {
	case KindFailed:
		return fmt.Sprintf("Feed %q failed", feed.Name)
	case KindWarning:
		return fmt.Sprintf("Feed %q has quality problems", feed.Name)
	case KindRecovered:
		return fmt.Sprintf("Feed %q recovered", feed.Name)
	}
	return kind
}

func bodyFor(kind string, feed *models.Feed, run *models.FeedRun) string {
	switch kind {
	case KindFailed:
		code := ""
		if run != nil {
			code = run.PrimaryErrorCode
		}
		return fmt.Sprintf("The last run of feed %q failed (%s). "+
			"The feed is paused until it is re-enabled.", feed.Name, code)
	case KindWarning:
		if run != nil {
			return fmt.Sprintf("Feed %q processed %d records: %d indexed, %d quarantined, %d rejected. "+
				"Review the quarantine lane for details.", feed.Name, run.Total, run.Indexed, run.Quarantined, run.Rejected)
		}
		return fmt.Sprintf("Feed %q is reporting quality problems.", feed.Name)
	case KindRecovered:
		return fmt.Sprintf("Feed %q is healthy again.", feed.Name)
	}
	return ""
}
