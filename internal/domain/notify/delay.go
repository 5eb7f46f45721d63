package notify

import "time"

// Константы задержек и ограничений движка.
const (
	MinNotificationDelay = time.Millisecond
	MinUpdateDelay       = 50 * time.Millisecond
	MaxUpdateDelay       = 60 * time.Second
	// ShutdownDrainTimeout — сколько Run ждёт фоновые очереди после остановки.
	ShutdownDrainTimeout = 10 * time.Second

	DefaultDelay              = 1500 * time.Millisecond
	DefaultCloudDelay         = 30 * time.Second
	DefaultOnlineCloudTimeout = 300 * time.Second

	DefaultMaxGroupCount = 10
	DefaultMaxGroupSize  = 10
	MaxGroupCountLimit   = 25
	MaxGroupSizeLimit    = 25
	MinGroupSize         = 1
	// ExtraGroupSize — запас кэша сверх видимого размера группы.
	ExtraGroupSize = 10

	MaxCallGroups             = 10
	MaxCallNotifications      = 10
	callDateBoost             = 120
	elapsedGrace        int64 = 1
)

// Delays — три настраиваемые задержки планировщика.
type Delays struct {
	Default            time.Duration
	Cloud              time.Duration
	OnlineCloudTimeout time.Duration
}

// DefaultDelays возвращает значения по умолчанию.
func DefaultDelays() Delays {
	return Delays{
		Default:            DefaultDelay,
		Cloud:              DefaultCloudDelay,
		OnlineCloudTimeout: DefaultOnlineCloudTimeout,
	}
}

// Presence — сигналы присутствия аккаунта.
type Presence struct {
	// LocalOnline — этот клиент сейчас онлайн.
	LocalOnline bool
	// LocalSeenAt — когда этот клиент последний раз был онлайн.
	LocalSeenAt time.Time
	// RemoteOnline — онлайн другая сессия того же аккаунта.
	RemoteOnline bool
	// RemoteSeenAt — когда другая сессия последний раз была онлайн.
	RemoteSeenAt time.Time
}

// delayPolicy считает задержку промоушена одного уведомления.
type delayPolicy struct {
	delays   Delays
	presence Presence
}

// base — задержка по правилам присутствия, без учёта возраста уведомления.
func (p delayPolicy) base(dialog DialogID, payload Payload, now time.Time) time.Duration {
	if dialog.IsSecret() || !payload.CanBeDelayed() {
		return MinNotificationDelay
	}
	pr := p.presence
	if !pr.LocalOnline {
		if pr.RemoteOnline {
			return p.delays.Cloud
		}
		window := now.Add(-p.delays.OnlineCloudTimeout)
		if !pr.LocalSeenAt.IsZero() && pr.LocalSeenAt.After(window) {
			return p.delays.Cloud
		}
		if !pr.RemoteSeenAt.IsZero() && pr.RemoteSeenAt.After(window) && pr.RemoteSeenAt.After(pr.LocalSeenAt) {
			return p.delays.Cloud
		}
	}
	if pr.RemoteOnline {
		return p.delays.Default
	}
	return 0
}

// effective вычитает возраст уведомления и не опускается ниже MinNotificationDelay.
func (p delayPolicy) effective(dialog DialogID, n Notification, minDelay time.Duration, now time.Time) time.Duration {
	if dialog.IsSecret() || !n.Payload.CanBeDelayed() {
		return MinNotificationDelay
	}
	delay := max(minDelay, p.base(dialog, n.Payload, now))
	elapsed := time.Duration(max(0, now.Unix()-int64(n.Date)-elapsedGrace)) * time.Second
	return max(delay-elapsed, MinNotificationDelay)
}
