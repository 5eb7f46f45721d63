package notify

import (
	"slices"
	"time"
)

// group — состояние одной группы. Принадлежит groupIndex.
type group struct {
	key        GroupKey
	typ        GroupType
	totalCount int32

	// notifications — кэш в памяти, от старых к новым, не длиннее keep size.
	notifications []Notification
	// pending — ещё не промоутнутые уведомления в порядке поступления.
	pending []pendingNotification
	flushAt time.Time

	// shown — идентификаторы, о которых UI узнает после сброса очереди, от старых к новым.
	shown      []NotificationID
	shownTotal int32

	loaded    bool // в истории нет ничего старше кэша
	loading   bool // запрос PageNotifications в полёте
	metaReady bool // LoadGroup завершён или не нужен
	loadToken uint64
	metaToken uint64
	// storedDate — дата из истории, пока кэш пуст и не догружен.
	storedDate int32
}

// maxIDs — старшие id и номер сообщения группы. С permanent временные
// уведомления не учитываются: постоянное их всё равно вытеснит.
func (g *group) maxIDs(permanent bool) (NotificationID, MessageID) {
	var (
		id  NotificationID
		msg MessageID
	)
	skip := func(p Payload) bool { return permanent && p.IsTemporary() }
	for i := len(g.notifications) - 1; i >= 0; i-- {
		if n := g.notifications[i]; !skip(n.Payload) {
			id, msg = n.ID, n.Payload.MessageID()
			break
		}
	}
	for i := len(g.pending) - 1; i >= 0; i-- {
		p := g.pending[i]
		if skip(p.Payload) {
			continue
		}
		id = max(id, p.ID)
		if m := p.Payload.MessageID(); m != 0 {
			msg = max(msg, m)
		}
		break
	}
	return id, msg
}

// currentDate — дата ключа по кэшу; без кэша — дата из истории.
func (g *group) currentDate() int32 {
	var date int32
	for _, n := range g.notifications {
		date = max(date, n.Date)
	}
	if len(g.notifications) == 0 && !g.loaded {
		return g.storedDate
	}
	return date
}

func (g *group) isEmpty() bool {
	return len(g.notifications) == 0 && len(g.pending) == 0 && g.key.Date == 0
}

func (g *group) notificationIndex(id NotificationID) int {
	for i := range g.notifications {
		if g.notifications[i].ID == id {
			return i
		}
	}
	return -1
}

func (g *group) pendingIndex(id NotificationID) int {
	for i := range g.pending {
		if g.pending[i].ID == id {
			return i
		}
	}
	return -1
}

func (g *group) state() GroupState {
	st := GroupState{
		Key:        g.key,
		Type:       g.typ,
		TotalCount: g.totalCount,
		Shown:      slices.Clone(g.shown),
		Loaded:     g.loaded,
	}
	for _, n := range g.notifications {
		st.Notifications = append(st.Notifications, n.ID)
	}
	for _, p := range g.pending {
		st.Pending = append(st.Pending, p.ID)
	}
	return st
}

// groupIndex — карта групп и упорядоченный по GroupKey срез ключей.
type groupIndex struct {
	groups map[GroupID]*group
	order  []GroupKey
}

func newGroupIndex() *groupIndex {
	return &groupIndex{groups: make(map[GroupID]*group)}
}

func (x *groupIndex) get(id GroupID) *group {
	return x.groups[id]
}

func (x *groupIndex) len() int {
	return len(x.groups)
}

func (x *groupIndex) search(key GroupKey) (int, bool) {
	return slices.BinarySearchFunc(x.order, key, compareKeys)
}

func compareKeys(a, b GroupKey) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// upsert вставляет новую группу под её текущим ключом.
func (x *groupIndex) upsert(g *group) {
	if old, ok := x.groups[g.key.Group]; ok {
		x.removeKey(old.key)
	}
	x.groups[g.key.Group] = g
	pos, _ := x.search(g.key)
	x.order = slices.Insert(x.order, pos, g.key)
}

func (x *groupIndex) delete(id GroupID) {
	g, ok := x.groups[id]
	if !ok {
		return
	}
	x.removeKey(g.key)
	delete(x.groups, id)
}

func (x *groupIndex) removeKey(key GroupKey) {
	if pos, found := x.search(key); found {
		x.order = slices.Delete(x.order, pos, pos+1)
	}
}

// reposition переставляет группу под новую дату. Ключ в срезе и в группе
// меняются одной операцией.
func (x *groupIndex) reposition(g *group, date int32) bool {
	if g.key.Date == date {
		return false
	}
	x.removeKey(g.key)
	g.key.Date = date
	pos, _ := x.search(g.key)
	x.order = slices.Insert(x.order, pos, g.key)
	return true
}

// boundary возвращает ключ N-й группы и true, либо false, если групп меньше N.
func (x *groupIndex) boundary(n int) (GroupKey, bool) {
	if n <= 0 || len(x.order) < n {
		return GroupKey{}, false
	}
	return x.order[n-1], true
}

// visible — группа внутри окна из n групп.
func (x *groupIndex) visible(g *group, n int) bool {
	if n <= 0 || g.key.Date == 0 {
		return false
	}
	b, ok := x.boundary(n)
	return !ok || !b.Less(g.key)
}

// window возвращает идентификаторы видимых групп в порядке индекса.
func (x *groupIndex) window(n int) []GroupID {
	ids := make([]GroupID, 0, min(n, len(x.order)))
	for i := 0; i < len(x.order) && i < n; i++ {
		if x.order[i].Date == 0 {
			break
		}
		ids = append(ids, x.order[i].Group)
	}
	return ids
}

// ordered возвращает группы в порядке индекса.
func (x *groupIndex) ordered() []*group {
	out := make([]*group, 0, len(x.order))
	for _, k := range x.order {
		out = append(out, x.groups[k.Group])
	}
	return out
}
