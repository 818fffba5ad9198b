package apply

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"tg-event-linker/internal/domain"
)

// Writer применяет линки по-настоящему: пишет линк-поля в базу записей.
type Writer struct {
	records domain.RecordService
	log     zerolog.Logger
}

var _ domain.Applier = (*Writer)(nil)

// NewWriter создаёт боевой применятель.
func NewWriter(records domain.RecordService, logger zerolog.Logger) *Writer {
	return &Writer{records: records, log: logger}
}

// Link записывает новый линк в запись.
func (w *Writer) Link(ctx context.Context, m domain.Match) error {
	err := w.records.UpdateLink(ctx, m.Record.ID, m.Candidate.Kind, m.Candidate.MessageID, m.Candidate.SourceURL)
	if err != nil {
		return fmt.Errorf("линковка записи %s: %w", m.Record.ID, err)
	}
	w.log.Info().
		Str("record", m.Record.ID).
		Int64("message", m.Candidate.MessageID).
		Str("kind", string(m.Candidate.Kind)).
		Msg("apply: линк записан")
	return nil
}

// Correct перезаписывает устаревший линк актуальным сообщением.
func (w *Writer) Correct(ctx context.Context, o domain.Orphan) error {
	err := w.records.UpdateLink(ctx, o.Record.ID, o.Kind, o.NewMessageID, o.Candidate.SourceURL)
	if err != nil {
		return fmt.Errorf("исправление линка записи %s: %w", o.Record.ID, err)
	}
	w.log.Info().
		Str("record", o.Record.ID).
		Int64("old", o.OldMessageID).
		Int64("new", o.NewMessageID).
		Str("kind", string(o.Kind)).
		Msg("apply: линк исправлен")
	return nil
}

// DryRun сообщает, что записи реальные.
func (w *Writer) DryRun() bool { return false }

// Reporter — dry-run: ничего не пишет, только копит отчёт о намерениях.
type Reporter struct {
	log   zerolog.Logger
	lines []string
}

var _ domain.Applier = (*Reporter)(nil)

// NewReporter создаёт dry-run применятель.
func NewReporter(logger zerolog.Logger) *Reporter {
	return &Reporter{log: logger}
}

// Link фиксирует намерение залинковать запись.
func (r *Reporter) Link(ctx context.Context, m domain.Match) error {
	line := fmt.Sprintf("Would link: %s → Message %d", m.Candidate.Title, m.Candidate.MessageID)
	r.lines = append(r.lines, line)
	r.log.Info().Str("record", m.Record.ID).Msg(line)
	return nil
}

// Correct фиксирует намерение исправить линк.
func (r *Reporter) Correct(ctx context.Context, o domain.Orphan) error {
	line := fmt.Sprintf("Would relink: %s → Message %d (was %d)", o.Record.Title, o.NewMessageID, o.OldMessageID)
	r.lines = append(r.lines, line)
	r.log.Info().Str("record", o.Record.ID).Msg(line)
	return nil
}

// DryRun сообщает, что записи подавлены.
func (r *Reporter) DryRun() bool { return true }

// Report возвращает накопленные строки отчёта.
func (r *Reporter) Report() []string {
	return append([]string(nil), r.lines...)
}
