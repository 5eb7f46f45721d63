package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"chat-notifications/internal/infra/logger"
)

// ApplySettings применяет новую конфигурацию целиком.
func (m *Manager) ApplySettings(s Settings) {
	s = s.normalized()
	m.SetDelays(s.Delays)
	m.SetMaxGroupCount(s.MaxGroupCount)
	m.SetMaxGroupSize(s.MaxGroupSize)
}

// SetDelays меняет задержки; действует на следующие добавления.
func (m *Manager) SetDelays(d Delays) {
	m.policy.delays = d
}

// SetMaxGroupCount меняет размер окна групп. 0 выключает показ.
func (m *Manager) SetMaxGroupCount(n int) {
	defer m.settle()
	n = min(max(n, 0), MaxGroupCountLimit)
	if n == m.maxCount || m.closed {
		return
	}
	logger.Infof("Notify: max group count %d -> %d", m.maxCount, n)
	m.flushAll(false)

	before := m.index.window(m.windowSize())
	grow := n > m.maxCount
	m.maxCount = n
	m.commit(before, nil, silentAttrs)
	if grow {
		m.fillWindow()
	}
	m.flushAll(false)
}

// SetMaxGroupSize меняет число видимых уведомлений в группе.
func (m *Manager) SetMaxGroupSize(n int) {
	defer m.settle()
	n = min(max(n, MinGroupSize), MaxGroupSizeLimit)
	if n == m.maxSize || m.closed {
		return
	}
	logger.Infof("Notify: max group size %d -> %d", m.maxSize, n)
	m.flushAll(false)

	m.maxSize = n
	for _, id := range m.index.window(m.windowSize()) {
		g := m.index.get(id)
		m.sync(g, silentAttrs)
		m.ensureCache(g)
	}
	for _, g := range m.index.ordered() {
		m.evict(g)
	}
	m.flushAll(false)
}

// fillWindow догружает группы и их кэш, когда окно стало больше.
func (m *Manager) fillWindow() {
	n := m.windowSize()
	window := m.index.window(n)
	for _, id := range window {
		m.ensureCache(m.index.get(id))
	}
	if missing := n - len(window); missing > 0 {
		m.loadGroupPage(missing)
	}
}

// loadGroupPage запрашивает следующую страницу групп из истории.
func (m *Manager) loadGroupPage(limit int) {
	if m.history == nil || m.groupsLoading || m.groupsExhausted || limit <= 0 {
		return
	}
	m.groupsLoading = true
	after, history := m.lastPageKey, m.history
	m.submit(LaneHistory, func(ctx context.Context) func(*Manager) {
		page, err := history.PageGroups(ctx, after, limit)
		return func(m *Manager) { m.onGroupPage(limit, page, err) }
	})
}

func (m *Manager) onGroupPage(limit int, page []StoredGroup, err error) {
	defer m.settle()
	m.groupsLoading = false
	if m.closed {
		return
	}
	if err != nil {
		logger.Warn("Notify: failed to page groups", zap.Error(err))
		m.groupsExhausted = true
		return
	}
	if len(page) < limit {
		m.groupsExhausted = true
	}
	if len(page) > 0 {
		m.lastPageKey = page[len(page)-1].Key
	}

	before := m.index.window(m.windowSize())
	for _, sg := range page {
		if sg.TotalCount <= 0 || sg.Key.Date == 0 {
			continue
		}
		if m.index.get(sg.Key.Group) != nil || m.calls.isReserved(sg.Key.Group) {
			continue
		}
		m.index.upsert(&group{
			key:        sg.Key,
			typ:        sg.Type,
			totalCount: sg.TotalCount,
			storedDate: sg.Key.Date,
			metaReady:  true,
		})
	}
	logger.Debugf("Notify: paged %d groups from history", len(page))
	m.commit(before, nil, silentAttrs)
	m.fillWindow()
}

// onGroupLoaded завершает materialize: добавляет сохранённый счётчик и дату.
func (m *Manager) onGroupLoaded(id GroupID, token uint64, stored StoredGroup, err error) {
	defer m.settle()
	g := m.index.get(id)
	if g == nil || g.metaReady || g.metaToken != token {
		return
	}
	g.metaReady = true
	if err != nil {
		if !errors.Is(err, ErrGroupNotFound) {
			logger.Warn("Notify: failed to load group", zap.Int32("group_id", int32(id)), zap.Error(err))
		}
		g.loaded = true
		m.maybeDelete(g)
		return
	}

	before := m.index.window(m.windowSize())
	g.totalCount += stored.TotalCount
	if stored.TotalCount <= 0 {
		g.loaded = true
	}
	g.storedDate = stored.Key.Date
	m.index.reposition(g, max(g.key.Date, g.currentDate()))
	m.commit(before, g, silentAttrs)
	m.ensureCache(g)
	m.maybeDelete(g)
}

// ensureCache догружает кэш видимой группы до keep size.
func (m *Manager) ensureCache(g *group) {
	if m.history == nil || g.typ == GroupCalls || g.loaded || g.loading || !g.metaReady {
		return
	}
	if !m.index.visible(g, m.windowSize()) {
		return
	}
	have := len(g.notifications)
	if int(g.totalCount) <= have {
		g.loaded = true
		return
	}
	want := m.keepSize()
	if have >= want {
		return
	}

	var (
		before    NotificationID
		beforeMsg MessageID
	)
	if have > 0 {
		before, beforeMsg = g.notifications[0].ID, g.notifications[0].Payload.MessageID()
	} else if len(g.pending) > 0 {
		before, beforeMsg = g.pending[0].ID, g.pending[0].Payload.MessageID()
	}

	g.loading = true
	m.seq++
	g.loadToken = m.seq
	token, history, id, limit := m.seq, m.history, g.key.Group, want-have
	m.submit(LaneHistory, func(ctx context.Context) func(*Manager) {
		page, err := history.PageNotifications(ctx, id, before, beforeMsg, limit)
		return func(m *Manager) { m.onNotificationsLoaded(id, token, limit, page, err) }
	})
}

// onNotificationsLoaded подкладывает страницу старых уведомлений под кэш.
func (m *Manager) onNotificationsLoaded(id GroupID, token uint64, limit int, page []Notification, err error) {
	defer m.settle()
	g := m.index.get(id)
	if g == nil || !g.loading || g.loadToken != token {
		return
	}
	g.loading = false
	if err != nil {
		logger.Warn("Notify: failed to load notifications", zap.Int32("group_id", int32(id)), zap.Error(err))
		g.loaded = true
		m.maybeDelete(g)
		return
	}
	if len(page) < limit {
		g.loaded = true
	}

	var oldest NotificationID
	if len(g.notifications) > 0 {
		oldest = g.notifications[0].ID
	} else if len(g.pending) > 0 {
		oldest = g.pending[0].ID
	}
	older := make([]Notification, 0, len(page))
	for i := len(page) - 1; i >= 0; i-- {
		n := page[i]
		if n.Payload == nil || (oldest != 0 && n.ID >= oldest) {
			continue
		}
		if k := len(older); k > 0 && n.ID <= older[k-1].ID {
			continue
		}
		older = append(older, n)
	}
	if len(older) == 0 {
		g.loaded = true
	}

	before := m.index.window(m.windowSize())
	g.notifications = append(older, g.notifications...)
	if int(g.totalCount) < len(g.notifications) {
		g.totalCount = int32(len(g.notifications))
	}
	m.index.reposition(g, g.currentDate())
	m.commit(before, g, silentAttrs)
	m.evict(g)
	m.maybeDelete(g)
}
