package attendance

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Ack is the backend's answer to a notification request.
type Ack struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	TotalSent   int      `json:"totalSent,omitempty"`
	TotalFailed int      `json:"totalFailed,omitempty"`
	SentTo      []string `json:"sentTo,omitempty"`
	Failed      []string `json:"failed,omitempty"`
}

// Dispatcher sends parent notifications through the backend.
type Dispatcher interface {
	NotifyIndividual(ctx context.Context, record Record) (Ack, error)
	NotifyBulk(ctx context.Context, records []Record) (Ack, error)
}

// Notifier selects recipients from the store's committed cache.
type Notifier struct {
	store      *Store
	dispatcher Dispatcher
	log        *zap.Logger
}

// NewNotifier creates a notifier over store.
func NewNotifier(store *Store, dispatcher Dispatcher, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{store: store, dispatcher: dispatcher, log: log}
}

// NotifyRecord sends the current status of record id to its parent.
func (n *Notifier) NotifyRecord(ctx context.Context, id string) (Ack, error) {
	rec, err := n.store.Lookup(id)
	if err != nil {
		return Ack{}, err
	}
	if !rec.HasNotificationTarget() {
		return Ack{}, fmt.Errorf("%w for %s", ErrNoNotificationTarget, rec.Name)
	}
	ack, err := n.dispatcher.NotifyIndividual(ctx, rec)
	if err != nil {
		return Ack{}, fmt.Errorf("notify %s: %w", id, err)
	}
	n.log.Info("notification sent", zap.String("id", id), zap.String("message", ack.Message))
	return ack, nil
}

// Absentees returns the cached Absent records that have a notification target.
func (n *Notifier) Absentees() []Record {
	var out []Record
	for r := range n.store.FilterByStatus(StatusAbsent) {
		if r.HasNotificationTarget() {
			out = append(out, r)
		}
	}
	return out
}

// NotifyAbsent sends one bulk request covering every absentee.
func (n *Notifier) NotifyAbsent(ctx context.Context) (Ack, error) {
	recipients := n.Absentees()
	if len(recipients) == 0 {
		return Ack{}, ErrNoRecipients
	}
	ack, err := n.dispatcher.NotifyBulk(ctx, recipients)
	if err != nil {
		return Ack{}, fmt.Errorf("bulk notify %d recipients: %w", len(recipients), err)
	}
	n.log.Info("bulk notification sent",
		zap.Int("recipients", len(recipients)),
		zap.Int("sent", ack.TotalSent),
		zap.Int("failed", ack.TotalFailed))
	return ack, nil
}
