package domain

import (
	"context"
	"time"
)

// ChannelTransport выгружает сообщения канала.
// limit <= 0 означает полную историю.
type ChannelTransport interface {
	FetchMessages(ctx context.Context, kind ChannelKind, limit int) ([]Message, error)
}

// RecordService читает и обновляет записи событий во внешней базе.
// FetchRecords возвращает только записи без статуса "skipped".
type RecordService interface {
	FetchRecords(ctx context.Context) ([]EventRecord, error)
	UpdateLink(ctx context.Context, recordID string, kind ChannelKind, messageID int64, url string) error
}

// Applier применяет результаты матчинга: боевой режим пишет в базу,
// dry-run только отчитывается о намерениях.
type Applier interface {
	Link(ctx context.Context, m Match) error
	Correct(ctx context.Context, o Orphan) error
	DryRun() bool
}

// LinkCache — персистентное хранилище подтверждённых линков и состояния сканов.
// Рассчитано на единственного владельца в рамках прогона.
type LinkCache interface {
	Get(key LinkKey) (CacheEntry, bool)
	Put(key LinkKey, entry CacheEntry)
	PurgeExpired(now time.Time) int
	LastFullScan(kind ChannelKind) (time.Time, bool)
	MarkFullScan(kind ChannelKind, at time.Time)
	Save() error
	Clear() error
}

// Notifier доставляет итог прогона администратору.
type Notifier interface {
	NotifySummary(ctx context.Context, summary RunSummary) error
}
