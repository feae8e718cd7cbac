package constants

import "time"

const (
	PollInterval     = 2 * time.Second
	TimerTick        = 1 * time.Second
	TurnDuration     = 10 * time.Second
	TurnDurationSecs = int(TurnDuration / time.Second)
)

const (
	ReplayLimit = 12
	MomentumCap = 100
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	ForfeitTimeout     = 5 * time.Second
)

const (
	DBMaxOpenConns    = 4
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
	InboxSize       = 64
	SubscriberBuf   = 8
	StreamWriteWait = 3 * time.Second
)
