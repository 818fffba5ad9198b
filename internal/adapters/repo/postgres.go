package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tg-event-linker/internal/domain"
)

// Postgres реализует domain.RecordService поверх собственной таблицы событий —
// для инсталляций без Notion.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.RecordService = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// FetchRecords выбирает предстоящие события без статуса skipped.
func (p *Postgres) FetchRecords(ctx context.Context) ([]domain.EventRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
		SELECT id, title, event_date, event_location, status,
		       COALESCE(telegram_url, ''), telegram_message_id, telegram_test_channel_id
		FROM events
		WHERE event_date >= CURRENT_DATE
		  AND event_date < CURRENT_DATE + INTERVAL '365 days'
		  AND NOT ($1 = ANY(status))
		ORDER BY event_date`, domain.StatusSkipped)
	if err != nil {
		return nil, fmt.Errorf("выборка событий: %w", err)
	}
	defer rows.Close()

	var records []domain.EventRecord
	for rows.Next() {
		var rec domain.EventRecord
		var liveID, testID sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Date, &rec.Location, &rec.Status, &rec.TelegramURL, &liveID, &testID); err != nil {
			return nil, fmt.Errorf("чтение события: %w", err)
		}
		rec.TelegramMessageID = liveID.Int64
		rec.TestMessageID = testID.Int64
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("обход событий: %w", err)
	}
	return records, nil
}

// UpdateLink записывает линк-поля события.
func (p *Postgres) UpdateLink(ctx context.Context, recordID string, kind domain.ChannelKind, messageID int64, url string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var tag string
	var err error
	if kind == domain.ChannelTest {
		_, err = p.pool.Exec(ctx, `UPDATE events SET telegram_test_channel_id = $2 WHERE id = $1`, recordID, messageID)
		tag = "telegram_test_channel_id"
	} else {
		_, err = p.pool.Exec(ctx, `UPDATE events SET telegram_message_id = $2, telegram_url = $3 WHERE id = $1`, recordID, messageID, url)
		tag = "telegram_message_id"
	}
	if err != nil {
		return fmt.Errorf("обновление %s: %w", tag, err)
	}
	return nil
}

// EnsureSchema создаёт таблицу событий, если её ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			event_date DATE NOT NULL,
			event_location TEXT NOT NULL,
			status TEXT[] NOT NULL DEFAULT '{}',
			telegram_url TEXT,
			telegram_message_id BIGINT,
			telegram_test_channel_id BIGINT
		)`)
	if err != nil {
		return fmt.Errorf("создание схемы: %w", err)
	}
	return nil
}

