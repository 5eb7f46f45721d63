// Package notify — движок группировки уведомлений и сглаживания апдейтов для UI.
//
// Движок принимает поток событий «пришло сообщение/звонок/пуш», раскладывает их
// по ограниченному набору групп и отдаёт потребителю UI минимальную
// упорядоченную последовательность дельт (добавить/изменить/удалить). Всё
// изменяемое состояние принадлежит Manager и трогается только из одного
// последовательного контекста — цикла Service.Run.
package notify

import (
	"fmt"
	"math"
)

// GroupID — идентификатор группы уведомлений.
type GroupID int32

// NotificationID — глобально монотонный идентификатор уведомления.
type NotificationID int32

// DialogID — идентификатор диалога (пользователь, чат, канал, секретный чат).
type DialogID int64

// MessageID — «нативный» номер сообщения внутри диалога.
type MessageID int64

// secretDialogBase — начало диапазона идентификаторов секретных чатов.
const secretDialogBase DialogID = -2_000_000_000_000

// SecretDialogID строит DialogID секретного чата по его номеру.
func SecretDialogID(chatID int32) DialogID {
	return secretDialogBase + DialogID(chatID)
}

// IsSecret сообщает, принадлежит ли диалог диапазону секретных чатов.
func (d DialogID) IsSecret() bool {
	return d > secretDialogBase && d <= secretDialogBase+math.MaxInt32
}

// GroupType — вид группы.
type GroupType uint8

const (
	GroupMessages GroupType = iota + 1
	GroupMentions
	GroupSecretChat
	GroupCalls
)

func (t GroupType) String() string {
	switch t {
	case GroupMessages:
		return "messages"
	case GroupMentions:
		return "mentions"
	case GroupSecretChat:
		return "secret_chat"
	case GroupCalls:
		return "calls"
	default:
		return fmt.Sprintf("group_type(%d)", uint8(t))
	}
}

// GroupKey — ключ упорядочивания групп.
type GroupKey struct {
	Group  GroupID  `json:"group_id"`
	Dialog DialogID `json:"dialog_id"`
	Date   int32    `json:"last_notification_date"`
}

// Less задаёт полный порядок: дата по убыванию, затем диалог и группа по убыванию.
func (k GroupKey) Less(o GroupKey) bool {
	if k.Date != o.Date {
		return k.Date > o.Date
	}
	if k.Dialog != o.Dialog {
		return k.Dialog > o.Dialog
	}
	return k.Group > o.Group
}

func (k GroupKey) String() string {
	return fmt.Sprintf("{group:%d dialog:%d date:%d}", k.Group, k.Dialog, k.Date)
}

// Notification — одно уведомление группы.
type Notification struct {
	ID      NotificationID
	Date    int32
	Silent  bool
	Payload Payload
}

// pendingNotification ждёт промоушена в группу.
type pendingNotification struct {
	Notification
	settingsDialog DialogID
	flushAt        int64 // unix nano дедлайна, только для диагностики
}

// UpdateKind различает групповые апдейты и правку одного уведомления.
type UpdateKind uint8

const (
	// UpdateGroup несёт добавления (AddSet), удаления (RemoveSet) и счётчик группы.
	UpdateGroup UpdateKind = iota + 1
	// UpdateEdit — правка одного уже показанного уведомления (EditOne).
	UpdateEdit
)

// Update — дельта, которую получает потребитель UI.
//
// Для UpdateGroup пустые Added и Removed означают чистое обновление TotalCount.
// Удаление группы из окна приходит как UpdateGroup с TotalCount == 0 и полным
// списком показанных идентификаторов в Removed.
type Update struct {
	Kind           UpdateKind
	Group          GroupID
	Type           GroupType
	Dialog         DialogID
	SettingsDialog DialogID
	Silent         bool
	TotalCount     int32
	Added          []Notification
	Removed        []NotificationID
	Notification   Notification
}

func (u Update) clone() Update {
	c := u
	if u.Added != nil {
		c.Added = append([]Notification(nil), u.Added...)
	}
	if u.Removed != nil {
		c.Removed = append([]NotificationID(nil), u.Removed...)
	}
	return c
}

// Consumer — потребитель дельт (UI).
//
// ApplyUpdates вызывается из цикла движка одним пакетом на группу; пакеты разных
// групп никогда не перемежаются.
type Consumer interface {
	ApplyUpdates(group GroupID, updates []Update)
	SetPendingState(haveDelayed, haveUnreceived bool)
}

// GroupState — снимок группы для диагностики и тестов.
type GroupState struct {
	Key           GroupKey
	Type          GroupType
	TotalCount    int32
	Notifications []NotificationID
	Pending       []NotificationID
	Shown         []NotificationID
	Loaded        bool
}
