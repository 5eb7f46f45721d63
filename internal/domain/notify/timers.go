package notify

import (
	"slices"
	"time"
)

// timerRegistry — дедлайны, адресованные по GroupID. Группу держит индекс,
// реестр знает только её id: сработавший дедлайн удалённой группы ничего не делает.
type timerRegistry struct {
	deadlines map[GroupID]time.Time
}

func newTimerRegistry() *timerRegistry {
	return &timerRegistry{deadlines: make(map[GroupID]time.Time)}
}

// armEarlier ставит дедлайн, если его нет или новый раньше текущего.
func (r *timerRegistry) armEarlier(id GroupID, at time.Time) bool {
	if cur, ok := r.deadlines[id]; ok && !at.Before(cur) {
		return false
	}
	r.deadlines[id] = at
	return true
}

// arm ставит дедлайн безусловно.
func (r *timerRegistry) arm(id GroupID, at time.Time) {
	r.deadlines[id] = at
}

func (r *timerRegistry) armed(id GroupID) (time.Time, bool) {
	at, ok := r.deadlines[id]
	return at, ok
}

func (r *timerRegistry) cancel(id GroupID) {
	delete(r.deadlines, id)
}

func (r *timerRegistry) next() (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, at := range r.deadlines {
		if !found || at.Before(best) {
			best, found = at, true
		}
	}
	return best, found
}

// popDue снимает и возвращает истёкшие дедлайны по времени, затем по id.
func (r *timerRegistry) popDue(now time.Time) []GroupID {
	var due []GroupID
	for id, at := range r.deadlines {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	slices.SortFunc(due, func(a, b GroupID) int {
		ta, tb := r.deadlines[a], r.deadlines[b]
		if c := ta.Compare(tb); c != 0 {
			return c
		}
		return int(a) - int(b)
	})
	for _, id := range due {
		delete(r.deadlines, id)
	}
	return due
}
