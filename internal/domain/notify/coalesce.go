package notify

import (
	"slices"

	"go.uber.org/zap"

	"chat-notifications/internal/infra/logger"
)

type idSet map[NotificationID]struct{}

func (s idSet) has(id NotificationID) bool {
	_, ok := s[id]
	return ok
}

// netOutcome — итог пакета по каждому идентификатору.
type netOutcome struct {
	added   idSet // будет показано новым добавлением
	edited  idSet // уже показано клиенту и изменено
	removed idSet // удалено после доставки
}

// needed — у идентификатора осталось видимое клиенту состояние.
func (o netOutcome) needed(id NotificationID) bool {
	return o.added.has(id) || o.edited.has(id)
}

// classify проходит пакет один раз и считает итог каждого id. Повторные
// удаления одного id без добавления между ними вычищаются сразу.
func classify(updates []Update) netOutcome {
	o := netOutcome{added: idSet{}, edited: idSet{}, removed: idSet{}}
	for i := range updates {
		u := &updates[i]
		if u.Kind == UpdateEdit {
			id := u.Notification.ID
			delete(o.added, id)
			o.edited[id] = struct{}{}
			continue
		}
		for _, n := range u.Added {
			if o.added.has(n.ID) || o.edited.has(n.ID) {
				logger.Error("Coalescer: addition after addition or edit",
					zap.Int32("group_id", int32(u.Group)), zap.Int32("notification_id", int32(n.ID)))
			}
			o.added[n.ID] = struct{}{}
			delete(o.removed, n.ID)
		}
		kept := u.Removed[:0]
		for _, id := range u.Removed {
			delete(o.added, id)
			delete(o.edited, id)
			if o.removed.has(id) {
				logger.Debugf("Coalescer: drop duplicated deletion of %d", id)
				continue
			}
			o.removed[id] = struct{}{}
			kept = append(kept, id)
		}
		u.Removed = kept
	}
	return o
}

// compact сводит очередь апдейтов группы к минимальной эквивалентной
// последовательности. hidden — группа сейчас вне окна, empty — группа удалена
// или опустела.
//
// Гарантии результата: нет двух добавлений одного id без удаления между ними;
// звук несёт только первое добавление; удаление не доставленного уведомления
// выбрасывается. Вход не изменяется.
func compact(in []Update, hidden, empty bool) []Update {
	updates := make([]Update, len(in))
	for i := range in {
		updates[i] = in[i].clone()
	}
	outcome := classify(updates)

	// Каждый проход с изменениями удаляет содержимое, поднимает удаление в
	// первый групповой апдейт (не более раза на id), глушит апдейт (не более
	// раза на апдейт) или склеивает соседей, поэтому число проходов ограничено.
	limit := 2*(contentSize(updates)+len(updates)) + 2
	changed := true
	passes := 0
	for changed && len(updates) > 0 {
		if passes == limit {
			logger.Error("Coalescer: compaction pass limit reached",
				zap.Int("passes", passes), zap.Int("updates", len(updates)))
			break
		}
		passes++
		updates, changed = compactPass(updates, outcome, hidden, empty)
	}

	for i := range updates {
		if updates[i].Kind != UpdateGroup {
			continue
		}
		if len(updates[i].Added) == 0 {
			updates[i].Added = nil
		}
		if len(updates[i].Removed) == 0 {
			updates[i].Removed = nil
		}
		slices.SortFunc(updates[i].Added, func(a, b Notification) int { return int(a.ID) - int(b.ID) })
		slices.Sort(updates[i].Removed)
	}
	return updates
}

func contentSize(updates []Update) int {
	n := 0
	for i := range updates {
		if updates[i].Kind == UpdateEdit {
			n++
			continue
		}
		n += len(updates[i].Added) + len(updates[i].Removed)
	}
	return n
}

// compactPass — один проход шагов 1–5 и склейка соседних групповых апдейтов.
func compactPass(updates []Update, o netOutcome, hidden, empty bool) ([]Update, bool) {
	changed := false
	alive := make([]bool, len(updates))
	for i := range alive {
		alive[i] = true
	}
	firstAdd := map[NotificationID]int{}
	firstEdit := map[NotificationID]int{}
	dropped := idSet{}
	var hoisted []NotificationID
	firstGroup := -1

	for pos := range updates {
		u := &updates[pos]
		if u.Kind == UpdateEdit {
			id := u.Notification.ID
			if !o.needed(id) {
				alive[pos], changed = false, true
				continue
			}
			if at, ok := firstAdd[id]; ok {
				setPayload(updates[at].Added, u.Notification)
				alive[pos], changed = false, true
				continue
			}
			if at, ok := firstEdit[id]; ok {
				updates[at].Notification.Payload = u.Notification.Payload
				alive[pos], changed = false, true
				continue
			}
			firstEdit[id] = pos
			continue
		}

		added := make([]Notification, 0, len(u.Added))
		for _, n := range u.Added {
			switch {
			case !o.needed(n.ID):
				dropped[n.ID] = struct{}{}
				changed = true
			case hasKey(firstEdit, n.ID):
				updates[firstEdit[n.ID]].Notification.Payload = n.Payload
				changed = true
			case hasKey(firstAdd, n.ID):
				// Первое добавление может лежать в собираемом сейчас списке.
				target := added
				if at := firstAdd[n.ID]; at != pos {
					target = updates[at].Added
				}
				setPayload(target, n)
				changed = true
			default:
				firstAdd[n.ID] = pos
				added = append(added, n)
			}
		}
		u.Added = added
		if len(u.Added) == 0 && !u.Silent {
			u.Silent, changed = true, true
		}

		removed := make([]NotificationID, 0, len(u.Removed))
		for _, id := range u.Removed {
			switch {
			case dropped.has(id):
				changed = true
			case !o.needed(id):
				if firstGroup >= 0 {
					hoisted = append(hoisted, id)
					changed = true
				} else {
					removed = append(removed, id)
				}
			case hasKey(firstAdd, id) || hasKey(firstEdit, id):
				// Повторное добавление склеится с первым, удаление между ними лишнее.
				changed = true
			default:
				removed = append(removed, id)
			}
		}
		u.Removed = removed

		if len(u.Added) == 0 && len(u.Removed) == 0 {
			for i := pos - 1; i >= 0; i-- {
				if alive[i] && updates[i].Kind == UpdateGroup {
					updates[i].Type = u.Type
					updates[i].TotalCount = u.TotalCount
					alive[pos], changed = false, true
					break
				}
			}
			if alive[pos] && pos == 0 {
				if len(updates) > 1 || (hidden && !empty) {
					alive[pos], changed = false, true
				}
			}
		}
		if firstGroup < 0 && alive[pos] {
			firstGroup = pos
		}
	}

	if len(hoisted) > 0 {
		g := &updates[firstGroup]
		for _, id := range hoisted {
			if !slices.Contains(g.Removed, id) {
				g.Removed = append(g.Removed, id)
			}
		}
	}

	out := updates[:0]
	for i := range updates {
		if alive[i] {
			out = append(out, updates[i])
		}
	}
	if len(out) == 0 {
		return nil, changed
	}

	merged, mergedAny := mergeAdjacent(out)
	return merged, changed || mergedAny
}

// mergeAdjacent склеивает соседние групповые апдейты с одинаковыми настройками
// и тишиной, если добавления одного не пересекаются с удалениями другого.
func mergeAdjacent(updates []Update) ([]Update, bool) {
	changed := false
	last := 0
	for i := 1; i < len(updates); i++ {
		prev, cur := &updates[last], &updates[i]
		if prev.Kind == UpdateGroup && cur.Kind == UpdateGroup &&
			prev.SettingsDialog == cur.SettingsDialog && prev.Silent == cur.Silent &&
			!intersects(prev.Added, cur.Removed) && !intersects(cur.Added, prev.Removed) {
			prev.Type = cur.Type
			prev.TotalCount = cur.TotalCount
			prev.Added = append(prev.Added, cur.Added...)
			prev.Removed = append(prev.Removed, cur.Removed...)
			changed = true
			continue
		}
		last++
		if last != i {
			updates[last] = updates[i]
		}
	}
	return updates[:last+1], changed
}

func intersects(added []Notification, removed []NotificationID) bool {
	for _, n := range added {
		if slices.Contains(removed, n.ID) {
			return true
		}
	}
	return false
}

// setPayload переносит содержимое в первое добавление id.
func setPayload(list []Notification, n Notification) {
	for i := range list {
		if list[i].ID == n.ID {
			list[i].Payload = n.Payload
			return
		}
	}
}

func hasKey(m map[NotificationID]int, id NotificationID) bool {
	_, ok := m[id]
	return ok
}
