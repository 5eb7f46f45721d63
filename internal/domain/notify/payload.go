package notify

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadKind — закрытый набор вариантов содержимого уведомления.
type PayloadKind string

const (
	KindMessage     PayloadKind = "message"
	KindPushMessage PayloadKind = "push_message"
	KindSecretChat  PayloadKind = "secret_chat"
	KindCall        PayloadKind = "call"
)

// Payload — содержимое уведомления. Реализации есть только в этом пакете.
type Payload interface {
	Kind() PayloadKind
	// CanBeDelayed — можно ли придержать уведомление по правилам присутствия.
	CanBeDelayed() bool
	// MessageID — стабильная ссылка на сообщение, 0 если её нет.
	MessageID() MessageID
	// IsTemporary — уведомление пришло пушем и ещё не подтверждено синхронизацией.
	IsTemporary() bool

	sealed()
}

// MessagePayload — уведомление о сообщении, известном синхронизации.
type MessagePayload struct {
	Message     MessageID `json:"message_id"`
	ShowPreview bool      `json:"show_preview,omitempty"`
}

func (MessagePayload) Kind() PayloadKind { return KindMessage }
func (p MessagePayload) CanBeDelayed() bool { return p.Message > 0 }
func (p MessagePayload) MessageID() MessageID { return p.Message }
func (MessagePayload) IsTemporary() bool { return false }
func (MessagePayload) sealed() {}

// PushMessagePayload — сообщение, известное только из пуша.
type PushMessagePayload struct {
	Message    MessageID `json:"message_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Key        string    `json:"key,omitempty"`
	Arg        string    `json:"arg,omitempty"`
	Mention    bool      `json:"mention,omitempty"`
}

func (PushMessagePayload) Kind() PayloadKind { return KindPushMessage }
func (PushMessagePayload) CanBeDelayed() bool { return false }
func (p PushMessagePayload) MessageID() MessageID { return p.Message }
func (PushMessagePayload) IsTemporary() bool { return true }
func (PushMessagePayload) sealed() {}

// SecretChatPayload — создан новый секретный чат.
type SecretChatPayload struct{}

func (SecretChatPayload) Kind() PayloadKind { return KindSecretChat }
func (SecretChatPayload) CanBeDelayed() bool { return false }
func (SecretChatPayload) MessageID() MessageID { return 0 }
func (SecretChatPayload) IsTemporary() bool { return false }
func (SecretChatPayload) sealed() {}

// CallPayload — входящий звонок.
type CallPayload struct {
	CallID int64 `json:"call_id"`
}

func (CallPayload) Kind() PayloadKind { return KindCall }
func (CallPayload) CanBeDelayed() bool { return false }
func (CallPayload) MessageID() MessageID { return 0 }
func (CallPayload) IsTemporary() bool { return false }
func (CallPayload) sealed() {}

// ErrUnknownPayload возвращается при декодировании неизвестного варианта.
var ErrUnknownPayload = errors.New("notify: unknown payload kind")

type payloadEnvelope struct {
	Kind PayloadKind     `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodePayload сериализует вариант в JSON-конверт {"kind", "data"}.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("notify: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	return json.Marshal(payloadEnvelope{Kind: p.Kind(), Data: data})
}

// DecodePayload восстанавливает вариант из конверта EncodePayload.
func DecodePayload(raw []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal payload envelope: %w", err)
	}
	var (
		p   Payload
		err error
	)
	switch env.Kind {
	case KindMessage:
		var v MessagePayload
		err = unmarshalData(env.Data, &v)
		p = v
	case KindPushMessage:
		var v PushMessagePayload
		err = unmarshalData(env.Data, &v)
		p = v
	case KindSecretChat:
		p = SecretChatPayload{}
	case KindCall:
		var v CallPayload
		err = unmarshalData(env.Data, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", env.Kind, err)
	}
	return p, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// samePayloadIdentity проверяет, что правка не меняет ссылку на сообщение и временность.
func samePayloadIdentity(a, b Payload) bool {
	return a.MessageID() == b.MessageID() && a.IsTemporary() == b.IsTemporary()
}
