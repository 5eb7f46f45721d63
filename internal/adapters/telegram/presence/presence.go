// Package presence переводит статусы Telegram (tg.UserStatusClass) в сигналы
// присутствия движка уведомлений.
//
// «Локальный» клиент — этот процесс, его активность отмечается через
// SetLocalOnline. «Удалённый» — другая сессия того же аккаунта: о ней говорят
// апдейты UpdateUserStatus для собственного user id.
package presence

import (
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"github.com/juju/clock"

	"chat-notifications/internal/domain/notify"
	"chat-notifications/internal/infra/logger"
)

// Tracker копит сигналы и отдаёт их в sink при каждом изменении.
// Потокобезопасен.
type Tracker struct {
	mu     sync.Mutex
	clock  clock.Clock
	selfID int64
	sink   func(notify.Presence)
	state  notify.Presence
}

// NewTracker создаёт трекер для аккаунта selfID. sink вызывается под локом
// трекера и не должен в него возвращаться.
func NewTracker(clk clock.Clock, selfID int64, sink func(notify.Presence)) *Tracker {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Tracker{clock: clk, selfID: selfID, sink: sink}
}

// SetLocalOnline отмечает переход этого клиента в online/offline.
func (t *Tracker) SetLocalOnline(online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if t.state.LocalOnline && !online {
		t.state.LocalSeenAt = now
	}
	if online {
		t.state.LocalSeenAt = now
	}
	t.state.LocalOnline = online
	t.publishLocked()
}

// HandleUpdate принимает апдейт статуса; чужие пользователи игнорируются.
func (t *Tracker) HandleUpdate(u *tg.UpdateUserStatus) {
	if u == nil || u.UserID != t.selfID {
		return
	}
	t.SetRemoteStatus(u.Status)
}

// SetRemoteStatus применяет статус другой сессии аккаунта.
func (t *Tracker) SetRemoteStatus(status tg.UserStatusClass) {
	t.mu.Lock()
	defer t.mu.Unlock()

	online, seen := RemoteFromStatus(status, t.clock.Now())
	t.state.RemoteOnline = online
	if seen.After(t.state.RemoteSeenAt) {
		t.state.RemoteSeenAt = seen
	}
	t.publishLocked()
}

// Snapshot возвращает текущие сигналы.
func (t *Tracker) Snapshot() notify.Presence {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) publishLocked() {
	if logger.IsDebugEnabled() {
		logger.Debugf("Presence: local=%v remote=%v", t.state.LocalOnline, t.state.RemoteOnline)
	}
	if t.sink != nil {
		t.sink(t.state)
	}
}

// RemoteFromStatus возвращает «онлайн ли сейчас» и момент последнего
// присутствия. Размытые статусы (recently, last week) точного времени не дают.
func RemoteFromStatus(status tg.UserStatusClass, now time.Time) (bool, time.Time) {
	switch s := status.(type) {
	case *tg.UserStatusOnline:
		if int64(s.Expires) > now.Unix() {
			return true, now
		}
		return false, time.Unix(int64(s.Expires), 0)
	case *tg.UserStatusOffline:
		return false, time.Unix(int64(s.WasOnline), 0)
	default:
		return false, time.Time{}
	}
}
