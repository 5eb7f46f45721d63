package notify

import (
	"slices"
	"time"

	"go.uber.org/zap"

	"chat-notifications/internal/infra/logger"
)

// attrs — настройки звука и диалога, с которыми уходит групповой апдейт.
type attrs struct {
	settings DialogID
	silent   bool
}

var silentAttrs = attrs{silent: true}

// commit приводит UI к окну после мутации. before — окно до неё, touched —
// затронутая группа, её апдейт получает a. Уходящие из окна группы
// синхронизируются первыми и, если кто-то входит, сбрасываются сразу,
// чтобы UI ни в какой момент не видел больше групп, чем разрешено.
func (m *Manager) commit(before []GroupID, touched *group, a attrs) {
	after := m.index.window(m.windowSize())

	var leaving, entering []*group
	for _, id := range before {
		if slices.Contains(after, id) {
			continue
		}
		if g := m.index.get(id); g != nil {
			leaving = append(leaving, g)
		}
	}
	for _, id := range after {
		if slices.Contains(before, id) {
			continue
		}
		if g := m.index.get(id); g != nil && g != touched {
			entering = append(entering, g)
		}
	}
	enteringTouched := touched != nil && slices.Contains(after, touched.key.Group) &&
		!slices.Contains(before, touched.key.Group)

	for _, g := range leaving {
		m.sync(g, silentAttrs)
	}
	if len(leaving) > 0 && (len(entering) > 0 || enteringTouched) {
		for _, g := range leaving {
			m.flushUpdates(g.key.Group, false)
		}
	}
	if touched != nil && m.index.get(touched.key.Group) == touched {
		m.sync(touched, a)
	}
	for _, g := range entering {
		m.sync(g, silentAttrs)
		m.ensureCache(g)
	}
}

// sync сравнивает то, что UI должен видеть у группы, с тем, что ему уже
// отправлено, и ставит в очередь один групповой апдейт с разницей.
func (m *Manager) sync(g *group, a attrs) {
	var desired []Notification
	if m.index.visible(g, m.windowSize()) {
		n := min(m.maxSize, len(g.notifications))
		desired = g.notifications[len(g.notifications)-n:]
	}

	var added []Notification
	for _, n := range desired {
		if !slices.Contains(g.shown, n.ID) {
			added = append(added, n)
		}
	}
	var removed []NotificationID
	for _, id := range g.shown {
		if !slices.ContainsFunc(desired, func(n Notification) bool { return n.ID == id }) {
			removed = append(removed, id)
		}
	}

	total := g.totalCount
	if len(desired) == 0 {
		total = 0
	}
	if len(added) == 0 && len(removed) == 0 && total == g.shownTotal {
		return
	}
	if len(desired) == 0 && len(g.shown) == 0 {
		g.shownTotal = 0
		return
	}

	settings := a.settings
	if settings == 0 {
		settings = g.key.Dialog
	}
	m.enqueue(Update{
		Kind:           UpdateGroup,
		Group:          g.key.Group,
		Type:           g.typ,
		Dialog:         g.key.Dialog,
		SettingsDialog: settings,
		Silent:         a.silent || len(added) == 0,
		TotalCount:     total,
		Added:          added,
		Removed:        removed,
	})

	shown := make([]NotificationID, 0, len(desired))
	for _, n := range desired {
		shown = append(shown, n.ID)
	}
	g.shown = shown
	g.shownTotal = total
}

// evict обрезает кэш до keep size. Выброшенные уведомления уничтожаются.
func (m *Manager) evict(g *group) {
	keep := m.keepSize()
	if len(g.notifications) <= keep {
		return
	}
	cut := len(g.notifications) - keep
	drop := g.notifications[:cut]
	g.notifications = slices.Clone(g.notifications[cut:])
	g.loaded = false
	for _, n := range drop {
		if slices.Contains(g.shown, n.ID) {
			logger.Error("Notify: evicting a shown notification",
				zap.Int32("group_id", int32(g.key.Group)), zap.Int32("notification_id", int32(n.ID)))
		}
		m.released(n.ID)
	}
}

// maybeDelete удаляет группу, когда в ней ничего не осталось и ничего не загружается.
func (m *Manager) maybeDelete(g *group) {
	if !g.isEmpty() || g.loading || !g.metaReady {
		return
	}
	if m.index.get(g.key.Group) != g {
		return
	}
	id := g.key.Group
	if g.typ == GroupCalls {
		if len(m.activeCalls[g.key.Dialog]) > 0 {
			return
		}
		m.calls.release(g.key.Dialog)
	}
	m.index.delete(id)
	m.promoteTimers.cancel(id)
	if len(m.queues[id]) > 0 {
		m.flushUpdates(id, false)
	}
	logger.Debug("Notify: group deleted", zap.Int32("group_id", int32(id)))
}

// clearPending снимает отложенные уведомления группы и её таймер промоушена.
func (m *Manager) clearPending(g *group) {
	if len(g.pending) > 0 {
		m.delayedGroups--
	}
	g.pending = nil
	g.flushAt = time.Time{}
	m.promoteTimers.cancel(g.key.Group)
}
