package sqlitehistory

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-notifications/internal/domain/notify"
	"chat-notifications/internal/infra/logger"
)

const (
	recorderBuffer  = 256
	recorderTimeout = 5 * time.Second
)

// Recorder — потребитель дельт, который передаёт их дальше и архивирует
// показанные уведомления в Store: после рестарта движок поднимает окно из истории.
// Запись идёт в отдельной горутине (Run), чтобы цикл движка не ждал диска.
// Пуши и звонки не архивируются: первые восстанавливает журнал, вторые живут
// только в памяти.
type Recorder struct {
	store *Store
	next  notify.Consumer
	queue chan recordBatch
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

type recordBatch struct {
	group   notify.GroupID
	updates []notify.Update
}

var _ notify.Consumer = (*Recorder)(nil)

// NewRecorder создаёт Recorder поверх next.
func NewRecorder(store *Store, next notify.Consumer) *Recorder {
	return &Recorder{
		store: store,
		next:  next,
		queue: make(chan recordBatch, recorderBuffer),
		done:  make(chan struct{}),
	}
}

// ApplyUpdates отдаёт пакет next и ставит его копию в очередь записи.
// После Close пакеты только передаются дальше.
func (r *Recorder) ApplyUpdates(group notify.GroupID, updates []notify.Update) {
	r.next.ApplyUpdates(group, updates)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.queue <- recordBatch{group: group, updates: copyUpdates(updates)}
}

func (r *Recorder) SetPendingState(haveDelayed, haveUnreceived bool) {
	r.next.SetPendingState(haveDelayed, haveUnreceived)
}

// Run пишет пакеты до Close.
func (r *Recorder) Run() {
	defer close(r.done)
	for b := range r.queue {
		r.record(b)
	}
}

// Close дописывает очередь и ждёт выхода Run. Вызывается после остановки движка.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *Recorder) record(b recordBatch) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
	defer cancel()

	for _, u := range b.updates {
		if u.Type == notify.GroupCalls {
			continue
		}
		switch u.Kind {
		case notify.UpdateEdit:
			r.save(ctx, u, u.Notification)
		case notify.UpdateGroup:
			for _, n := range u.Added {
				r.save(ctx, u, n)
			}
			// Нулевой счётчик приходит с уходом группы из окна: в истории
			// остаётся последний известный.
			if u.TotalCount <= 0 {
				continue
			}
			if err := r.store.SetTotalCount(ctx, u.Group, u.TotalCount); err != nil {
				logger.Warn("History: failed to store total count", zap.Int32("group", int32(u.Group)), zap.Error(err))
			}
		}
	}
}

func (r *Recorder) save(ctx context.Context, u notify.Update, n notify.Notification) {
	if n.Payload == nil || n.Payload.IsTemporary() {
		return
	}
	key := notify.GroupKey{Group: u.Group, Dialog: u.Dialog, Date: n.Date}
	if err := r.store.SaveNotification(ctx, key, u.Type, n); err != nil {
		logger.Warn("History: failed to archive notification",
			zap.Int32("group", int32(u.Group)), zap.Int32("id", int32(n.ID)), zap.Error(err))
	}
}

func copyUpdates(in []notify.Update) []notify.Update {
	out := make([]notify.Update, len(in))
	for i, u := range in {
		u.Added = slices.Clone(u.Added)
		u.Removed = slices.Clone(u.Removed)
		out[i] = u
	}
	return out
}
