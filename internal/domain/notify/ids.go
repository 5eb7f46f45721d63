package notify

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
)

// ErrIDSpaceExhausted — счётчик идентификаторов дошёл до MaxInt32.
var ErrIDSpaceExhausted = errors.New("notify: identifier space exhausted")

// Counters — сохраняемое состояние аллокатора.
//
// Reserved* — верхние границы уже зарезервированных блоков: после рестарта
// выдача продолжается с них, поэтому выданные до падения id не повторяются.
type Counters struct {
	NotificationID         NotificationID `json:"notification_id"`
	GroupID                GroupID        `json:"group_id"`
	ReservedNotificationID NotificationID `json:"reserved_notification_id"`
	ReservedGroupID        GroupID        `json:"reserved_group_id"`
	CallGroups             []GroupID      `json:"call_groups,omitempty"`
}

// CounterStore сохраняет Counters. Save вызывается синхронно и редко.
type CounterStore interface {
	Load() (Counters, error)
	Save(Counters) error
}

// idReserveStep — размер блока, резервируемого одной записью.
const idReserveStep = 1000

// Allocator выдаёт идентификаторы уведомлений и групп. Потокобезопасен:
// продюсеры берут id до вызова AddNotification.
type Allocator struct {
	mu    sync.Mutex
	state Counters
	store CounterStore
}

// NewAllocator поднимает состояние из store; nil store — только память.
func NewAllocator(store CounterStore) (*Allocator, error) {
	a := &Allocator{store: store}
	if store == nil {
		return a, nil
	}
	st, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load id counters: %w", err)
	}
	// Выдача продолжается с зарезервированной границы.
	st.NotificationID = max(st.NotificationID, st.ReservedNotificationID)
	st.GroupID = max(st.GroupID, st.ReservedGroupID)
	a.state = st
	return a, nil
}

// NextNotificationID возвращает следующий id уведомления.
func (a *Allocator) NextNotificationID() (NotificationID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.NotificationID == math.MaxInt32 {
		return 0, ErrIDSpaceExhausted
	}
	next := a.state.NotificationID + 1
	if next > a.state.ReservedNotificationID {
		prev := a.state.ReservedNotificationID
		a.state.ReservedNotificationID = NotificationID(min(int64(next)+idReserveStep, math.MaxInt32))
		if err := a.saveLocked(); err != nil {
			a.state.ReservedNotificationID = prev
			return 0, err
		}
	}
	a.state.NotificationID = next
	return next, nil
}

// NextGroupID возвращает следующий id группы из общего счётчика.
func (a *Allocator) NextGroupID() (GroupID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextGroupLocked()
}

func (a *Allocator) nextGroupLocked() (GroupID, error) {
	if a.state.GroupID == math.MaxInt32 {
		return 0, ErrIDSpaceExhausted
	}
	next := a.state.GroupID + 1
	if next > a.state.ReservedGroupID {
		prev := a.state.ReservedGroupID
		a.state.ReservedGroupID = GroupID(min(int64(next)+idReserveStep, math.MaxInt32))
		if err := a.saveLocked(); err != nil {
			a.state.ReservedGroupID = prev
			return 0, err
		}
	}
	a.state.GroupID = next
	return next, nil
}

// reserveCallGroup берёт id из общего счётчика и навсегда закрепляет его за пулом звонков.
func (a *Allocator) reserveCallGroup() (GroupID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, err := a.nextGroupLocked()
	if err != nil {
		return 0, err
	}
	a.state.CallGroups = append(a.state.CallGroups, id)
	if err = a.saveLocked(); err != nil {
		return 0, err
	}
	return id, nil
}

// CallGroups возвращает копию закреплённых за звонками групп.
func (a *Allocator) CallGroups() []GroupID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.state.CallGroups)
}

// Snapshot возвращает текущее состояние счётчиков.
func (a *Allocator) Snapshot() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state
	st.CallGroups = slices.Clone(st.CallGroups)
	return st
}

func (a *Allocator) saveLocked() error {
	if a.store == nil {
		return nil
	}
	st := a.state
	st.CallGroups = slices.Clone(st.CallGroups)
	if err := a.store.Save(st); err != nil {
		return fmt.Errorf("save id counters: %w", err)
	}
	return nil
}
