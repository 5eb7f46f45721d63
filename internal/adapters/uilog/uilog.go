// Package uilog — консольный потребитель дельт движка уведомлений.
// Держит зеркало видимых уведомлений по группам, печатает каждую дельту
// одной строкой и сверяет дельты с зеркалом.
package uilog

import (
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"

	"chat-notifications/internal/domain/notify"
	"chat-notifications/internal/infra/logger"
	"chat-notifications/internal/infra/pr"
)

// Console реализует notify.Consumer. Потокобезопасен, хотя движок вызывает
// его из одного цикла: Shown читается снаружи.
type Console struct {
	mu         sync.Mutex
	groups     map[notify.GroupID][]notify.NotificationID
	totals     map[notify.GroupID]int32
	delayed    bool
	unreceived bool
}

// New создаёт пустой Console.
func New() *Console {
	return &Console{
		groups: make(map[notify.GroupID][]notify.NotificationID),
		totals: make(map[notify.GroupID]int32),
	}
}

// ApplyUpdates применяет пакет дельт одной группы к зеркалу.
func (c *Console) ApplyUpdates(group notify.GroupID, updates []notify.Update) {
	if logger.IsDebugEnabled() {
		logger.Debug("UI: batch", zap.Int32("group", int32(group)), zap.String("updates", pr.Pf(updates)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range updates {
		if u.Group != group {
			logger.Warn("UI: update for another group in batch",
				zap.Int32("batch", int32(group)), zap.Int32("group", int32(u.Group)))
		}
		switch u.Kind {
		case notify.UpdateEdit:
			c.applyEdit(group, u)
		case notify.UpdateGroup:
			c.applyGroup(group, u)
		default:
			logger.Warn("UI: unknown update kind", zap.Uint8("kind", uint8(u.Kind)))
		}
	}
}

func (c *Console) applyEdit(group notify.GroupID, u notify.Update) {
	if !slices.Contains(c.groups[group], u.Notification.ID) {
		logger.Warn("UI: edit of a notification that is not shown",
			zap.Int32("group", int32(group)), zap.Int32("id", int32(u.Notification.ID)))
		return
	}
	pr.Printf("[group %d] ~%d %s\n", group, u.Notification.ID, u.Notification.Payload.Kind())
}

func (c *Console) applyGroup(group notify.GroupID, u notify.Update) {
	shown := c.groups[group]
	for _, id := range u.Removed {
		i := slices.Index(shown, id)
		if i < 0 {
			logger.Warn("UI: removal of a notification that is not shown",
				zap.Int32("group", int32(group)), zap.Int32("id", int32(id)))
			continue
		}
		shown = slices.Delete(shown, i, i+1)
	}
	for _, n := range u.Added {
		if slices.Contains(shown, n.ID) {
			logger.Warn("UI: notification added twice",
				zap.Int32("group", int32(group)), zap.Int32("id", int32(n.ID)))
			continue
		}
		shown = append(shown, n.ID)
	}
	sort.Slice(shown, func(i, j int) bool { return shown[i] < shown[j] })

	if u.TotalCount == 0 {
		if len(shown) > 0 {
			logger.Warn("UI: group closed with notifications still shown", zap.Int32("group", int32(group)))
		}
		delete(c.groups, group)
		delete(c.totals, group)
	} else {
		c.groups[group] = shown
		c.totals[group] = u.TotalCount
	}

	mode := ""
	if u.Silent {
		mode = " silent"
	}
	pr.Printf("[group %d %s dialog %d] +%d -%d total %d%s\n",
		group, u.Type, u.Dialog, len(u.Added), len(u.Removed), u.TotalCount, mode)
}

// SetPendingState печатает смену состояния ожидания.
func (c *Console) SetPendingState(haveDelayed, haveUnreceived bool) {
	c.mu.Lock()
	c.delayed, c.unreceived = haveDelayed, haveUnreceived
	c.mu.Unlock()
	logger.Debug("UI: pending state",
		zap.Bool("delayed", haveDelayed), zap.Bool("unreceived", haveUnreceived))
}

// Shown возвращает видимые уведомления группы по возрастанию id.
func (c *Console) Shown(group notify.GroupID) []notify.NotificationID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.groups[group])
}

// Total возвращает последний счётчик группы; 0 — группа не показана.
func (c *Console) Total(group notify.GroupID) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[group]
}

// Pending возвращает последнее состояние ожидания.
func (c *Console) Pending() (delayed, unreceived bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delayed, c.unreceived
}
