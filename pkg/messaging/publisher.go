package messaging

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/payoutd/internal/payout"
)

// Publisher adapts the Client to the pipeline and payments event interfaces.
// Failures are logged and dropped; a tick never blocks on the bus.
type Publisher struct {
	client *Client
	log    *logrus.Entry
}

// NewPublisher builds a Publisher over an open client.
func NewPublisher(client *Client, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{client: client, log: logger.WithField("component", "events")}
}

func (p *Publisher) publish(subject string, event any) {
	if err := p.client.Publish(subject, event); err != nil {
		p.log.WithError(err).WithField("subject", subject).Warn("failed to publish event")
	}
}

func (p *Publisher) payoutEvent(pay payout.Payment) PayoutEvent {
	return PayoutEvent{
		EventID:     uuid.New(),
		PayoutID:    pay.ID,
		Reference:   pay.Reference,
		State:       string(pay.State),
		Destination: pay.Destination,
		Amount:      pay.Amount.String(),
		Sequence:    pay.Sequence,
		ErrorKind:   pay.ErrorKind,
		Fatal:       pay.Fatal,
		Timestamp:   time.Now().UTC(),
	}
}

func (p *Publisher) PayoutCreated(pay payout.Payment) {
	p.publish(SubjectPayoutCreated, p.payoutEvent(pay))
}

func (p *Publisher) PayoutSigned(pay payout.Payment) {
	p.publish(SubjectPayoutSigned, p.payoutEvent(pay))
}

func (p *Publisher) PayoutSubmitted(pay payout.Payment) {
	p.publish(SubjectPayoutSubmitted, p.payoutEvent(pay))
}

func (p *Publisher) PayoutConfirmed(pay payout.Payment) {
	p.publish(SubjectPayoutConfirmed, p.payoutEvent(pay))
}

func (p *Publisher) PayoutAborted(pay payout.Payment) {
	p.publish(SubjectPayoutAborted, p.payoutEvent(pay))
}

func (p *Publisher) PayoutFailed(pay payout.Payment, kind string, fatal bool) {
	event := p.payoutEvent(pay)
	event.ErrorKind = kind
	event.Fatal = fatal
	p.publish(SubjectPayoutFailed, event)
}

func (p *Publisher) PayoutsResigned(fromID int64, count int64) {
	p.publish(SubjectPayoutsResigned, ResignEvent{
		EventID:   uuid.New(),
		FromID:    fromID,
		Cleared:   count,
		Timestamp: time.Now().UTC(),
	})
}
