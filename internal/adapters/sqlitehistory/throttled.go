package sqlitehistory

import (
	"context"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"chat-notifications/internal/domain/notify"
)

// Throttled ограничивает частоту чтений истории: при большом окне и частых
// ресайзах движок иначе засыпает базу запросами страниц.
type Throttled struct {
	next    notify.HistoryStore
	limiter *rate.Limiter
}

var _ notify.HistoryStore = (*Throttled)(nil)

// NewThrottled оборачивает store лимитером rps запросов в секунду. rps <= 0 — без лимита.
func NewThrottled(store notify.HistoryStore, rps int) *Throttled {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit, burst = rate.Limit(rps), rps
	}
	return &Throttled{next: store, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Throttled) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "history rate limit")
	}
	return nil
}

func (t *Throttled) PageGroups(ctx context.Context, after notify.GroupKey, limit int) ([]notify.StoredGroup, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.PageGroups(ctx, after, limit)
}

func (t *Throttled) PageNotifications(ctx context.Context, group notify.GroupID, before notify.NotificationID, beforeMessage notify.MessageID, limit int) ([]notify.Notification, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.next.PageNotifications(ctx, group, before, beforeMessage, limit)
}

func (t *Throttled) LoadGroup(ctx context.Context, group notify.GroupID) (notify.StoredGroup, error) {
	if err := t.wait(ctx); err != nil {
		return notify.StoredGroup{}, err
	}
	return t.next.LoadGroup(ctx, group)
}
