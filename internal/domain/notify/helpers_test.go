package notify

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

var t0 = time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)

func unix(offset int32) int32 { return int32(t0.Unix()) + offset }

type batch struct {
	group   GroupID
	updates []Update
}

// recordingConsumer запоминает всё, что движок отдал UI.
type recordingConsumer struct {
	batches []batch
	pending [][2]bool
}

func (c *recordingConsumer) ApplyUpdates(group GroupID, updates []Update) {
	c.batches = append(c.batches, batch{group: group, updates: updates})
}

func (c *recordingConsumer) SetPendingState(delayed, unreceived bool) {
	c.pending = append(c.pending, [2]bool{delayed, unreceived})
}

func (c *recordingConsumer) take() []batch {
	out := c.batches
	c.batches = nil
	return out
}

// queueExecutor копит фоновые запросы, тест сам решает, когда их выполнить.
type queueExecutor struct {
	jobs  []Job
	lanes []Lane
}

func (e *queueExecutor) Submit(lane Lane, job Job) {
	e.jobs = append(e.jobs, job)
	e.lanes = append(e.lanes, lane)
}

func (e *queueExecutor) drain(m *Manager) {
	for len(e.jobs) > 0 {
		job := e.jobs[0]
		e.jobs, e.lanes = e.jobs[1:], e.lanes[1:]
		if apply := job(context.Background()); apply != nil {
			apply(m)
		}
	}
}

// fakeHistory — история в памяти. Группы отсортированы по ключу, уведомления — по id.
type fakeHistory struct {
	groups        []StoredGroup
	notifications map[GroupID][]Notification
	err           error
	pageCalls     int
}

func (h *fakeHistory) PageGroups(_ context.Context, after GroupKey, limit int) ([]StoredGroup, error) {
	if h.err != nil {
		return nil, h.err
	}
	sorted := slices.Clone(h.groups)
	slices.SortFunc(sorted, func(a, b StoredGroup) int { return compareKeys(a.Key, b.Key) })
	var out []StoredGroup
	for _, g := range sorted {
		if after.Group != 0 && !after.Less(g.Key) {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, g)
	}
	return out, nil
}

func (h *fakeHistory) PageNotifications(_ context.Context, group GroupID, before NotificationID, _ MessageID, limit int) ([]Notification, error) {
	h.pageCalls++
	if h.err != nil {
		return nil, h.err
	}
	list := h.notifications[group]
	var out []Notification
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		if before != 0 && list[i].ID >= before {
			continue
		}
		out = append(out, list[i])
	}
	return out, nil
}

func (h *fakeHistory) LoadGroup(_ context.Context, group GroupID) (StoredGroup, error) {
	for _, g := range h.groups {
		if g.Key.Group == group {
			return g, nil
		}
	}
	return StoredGroup{}, ErrGroupNotFound
}

// memJournal — журнал в памяти.
type memJournal struct {
	next      LogHandle
	records   map[LogHandle]LogRecord
	appendErr error
	erased    []LogHandle
	rewritten []LogHandle
}

func newMemJournal() *memJournal {
	return &memJournal{records: make(map[LogHandle]LogRecord)}
}

func (j *memJournal) Append(_ context.Context, rec LogRecord) (LogHandle, error) {
	if j.appendErr != nil {
		return 0, j.appendErr
	}
	j.next++
	j.records[j.next] = rec
	return j.next, nil
}

func (j *memJournal) Rewrite(_ context.Context, h LogHandle, rec LogRecord) error {
	if _, ok := j.records[h]; !ok {
		return errors.New("no such record")
	}
	j.records[h] = rec
	j.rewritten = append(j.rewritten, h)
	return nil
}

func (j *memJournal) Erase(_ context.Context, h LogHandle) error {
	delete(j.records, h)
	j.erased = append(j.erased, h)
	return nil
}

func (j *memJournal) ReplayAll(context.Context) ([]LoggedRecord, error) {
	out := make([]LoggedRecord, 0, len(j.records))
	for h, rec := range j.records {
		out = append(out, LoggedRecord{Handle: h, Record: rec})
	}
	return out, nil
}

type harness struct {
	t        *testing.T
	m        *Manager
	clk      *testclock.Clock
	consumer *recordingConsumer
	exec     *queueExecutor
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clk:      testclock.NewClock(t0),
		consumer: &recordingConsumer{},
		exec:     &queueExecutor{},
	}
	opts := Options{
		Clock:    h.clk,
		Consumer: h.consumer,
		Executor: h.exec,
		Settings: DefaultSettings(),
	}
	for _, fn := range configure {
		fn(&opts)
	}
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.m = m
	return h
}

func withSettings(count, size int) func(*Options) {
	return func(o *Options) {
		o.Settings.MaxGroupCount = count
		o.Settings.MaxGroupSize = size
	}
}

// advance двигает часы и выполняет сработавшие таймеры.
func (h *harness) advance(d time.Duration) {
	h.clk.Advance(d)
	h.m.RunDueTimers()
}

// settle промоутит и сбрасывает всё, что взведено по умолчанию.
func (h *harness) settle() {
	h.advance(MinNotificationDelay)
	h.advance(MinUpdateDelay)
}

func (h *harness) add(group GroupID, dialog DialogID, id NotificationID, msg MessageID, date int32) Completion {
	done := NewCompletion()
	h.m.AddNotification(AddRequest{
		Group:   group,
		Type:    GroupMessages,
		Dialog:  dialog,
		Date:    date,
		ID:      id,
		Payload: MessagePayload{Message: msg},
	}, done)
	return done
}

func msgNote(id NotificationID, msg MessageID, date int32) Notification {
	return Notification{ID: id, Date: date, Payload: MessagePayload{Message: msg}}
}

func resolved(c Completion) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

func (h *harness) group(id GroupID) (GroupState, bool) {
	for _, st := range h.m.Snapshot() {
		if st.Key.Group == id {
			return st, true
		}
	}
	return GroupState{}, false
}
