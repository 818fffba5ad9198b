package linker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-event-linker/internal/domain"
	"tg-event-linker/internal/infra/metrics"
	"tg-event-linker/internal/usecase/match"
	"tg-event-linker/internal/usecase/parse"
)

const (
	// DefaultQuickScanLimit — глубина быстрого скана.
	DefaultQuickScanLimit = 50
	// DefaultFullScanEvery — период, после которого положен полный скан.
	DefaultFullScanEvery = 24 * time.Hour
)

// Service гоняет пайплайн «сообщения → парсер → матчер → применение»
// и ведёт жизненный цикл кэша и состояния сканов.
type Service struct {
	transport domain.ChannelTransport
	records   domain.RecordService
	cache     domain.LinkCache
	applier   domain.Applier
	parser    *parse.Parser
	matcher   *match.Matcher
	log       zerolog.Logger

	quickScanLimit int
	fullScanEvery  time.Duration
	now            func() time.Time
}

// Options настраивает сервис.
type Options struct {
	QuickScanLimit int
	FullScanEvery  time.Duration
	// Now подменяется в тестах.
	Now func() time.Time
}

// NewService создаёт сервис линковки.
func NewService(transport domain.ChannelTransport, records domain.RecordService, cache domain.LinkCache, applier domain.Applier, parser *parse.Parser, matcher *match.Matcher, logger zerolog.Logger, opts Options) *Service {
	limit := opts.QuickScanLimit
	if limit <= 0 {
		limit = DefaultQuickScanLimit
	}
	every := opts.FullScanEvery
	if every <= 0 {
		every = DefaultFullScanEvery
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		transport:      transport,
		records:        records,
		cache:          cache,
		applier:        applier,
		parser:         parser,
		matcher:        matcher,
		log:            logger,
		quickScanLimit: limit,
		fullScanEvery:  every,
		now:            now,
	}
}

// Run выполняет один прогон по всем видам каналов. Сбой транспорта по одному
// каналу не останавливает второй; ошибка применения по одной записи не
// останавливает пачку. Ошибка возвращается только если не удалось сохранить
// кэш или контекст отменён.
func (s *Service) Run(ctx context.Context, forceFull bool) (domain.RunSummary, error) {
	start := s.now()
	summary := domain.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: start,
		DryRun:    s.applier.DryRun(),
	}
	runLog := s.log.With().Str("run_id", summary.RunID).Logger()
	metrics.RunsTotal.Inc()

	purged := s.cache.PurgeExpired(start)
	if purged > 0 {
		runLog.Info().Int("purged", purged).Msg("linker: кэш очищен от просроченных линков")
	}

	records, recordsErr := s.fetchRecords(ctx)
	if recordsErr != nil {
		runLog.Error().Err(recordsErr).Msg("linker: записи не получены, прогон пропущен")
	}

	for _, kind := range domain.Kinds() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		chSum := s.runChannel(ctx, runLog, kind, records, recordsErr, forceFull)
		summary.Channels = append(summary.Channels, chSum)
	}

	if !s.applier.DryRun() {
		if err := s.cache.Save(); err != nil {
			runLog.Error().Err(err).Msg("linker: кэш не сохранён")
			summary.FinishedAt = s.now()
			return summary, fmt.Errorf("сохранение кэша: %w", err)
		}
	}

	summary.FinishedAt = s.now()
	metrics.RunDuration.Observe(summary.FinishedAt.Sub(start).Seconds())
	return summary, nil
}

func (s *Service) fetchRecords(ctx context.Context) ([]domain.EventRecord, error) {
	start := time.Now()
	records, err := s.records.FetchRecords(ctx)
	metrics.ObserveNetworkRequest("records", "fetch", "database", start, err)
	if err != nil {
		return nil, fmt.Errorf("получение записей: %w", err)
	}
	return records, nil
}

func (s *Service) runChannel(ctx context.Context, runLog zerolog.Logger, kind domain.ChannelKind, records []domain.EventRecord, recordsErr error, forceFull bool) domain.ChannelSummary {
	chSum := domain.ChannelSummary{Kind: kind}
	chLog := runLog.With().Str("channel", string(kind)).Logger()

	if recordsErr != nil {
		chSum.Error = recordsErr.Error()
		return chSum
	}

	full := forceFull || s.fullScanDue(kind)
	chSum.FullScan = full
	limit := s.quickScanLimit
	if full {
		limit = 0
	}

	start := time.Now()
	messages, err := s.transport.FetchMessages(ctx, kind, limit)
	metrics.ObserveNetworkRequest("transport", "fetch_messages", string(kind), start, err)
	if err != nil {
		chLog.Error().Err(err).Msg("linker: канал не прочитан, пропускаем")
		chSum.Error = err.Error()
		return chSum
	}
	chSum.MessagesScanned = len(messages)

	var candidates []domain.ParsedEvent
	for _, msg := range messages {
		if event, ok := s.parser.Parse(msg, kind); ok {
			candidates = append(candidates, event)
		}
	}
	chSum.Candidates = len(candidates)
	chLog.Debug().Int("messages", len(messages)).Int("candidates", len(candidates)).Bool("full", full).Msg("linker: скан завершён")

	matches, orphans := s.matcher.Match(candidates, records)

	for _, m := range matches {
		s.applyMatch(ctx, chLog, m, &chSum)
	}
	for _, o := range orphans {
		s.applyOrphan(ctx, chLog, o, &chSum)
	}

	if full && !s.applier.DryRun() {
		s.cache.MarkFullScan(kind, s.now())
	}
	return chSum
}

func (s *Service) applyMatch(ctx context.Context, chLog zerolog.Logger, m domain.Match, chSum *domain.ChannelSummary) {
	key := domain.NewLinkKey(m.Candidate.Date, m.Candidate.Location, m.Candidate.Kind)

	if entry, ok := s.cache.Get(key); ok && entry.MessageID == m.Candidate.MessageID {
		chSum.CacheHits++
		metrics.CacheHitsTotal.Inc()
		return
	}

	// В базе уже тот же линк — обновляем только кэш, сетевой записи не нужно.
	if m.Record.LinkedMessageID(m.Candidate.Kind) == m.Candidate.MessageID {
		if !s.applier.DryRun() {
			s.cache.Put(key, domain.CacheEntry{RecordID: m.Record.ID, MessageID: m.Candidate.MessageID, LinkedAt: s.now()})
		}
		chSum.AlreadyLinked++
		return
	}

	if err := s.applier.Link(ctx, m); err != nil {
		chLog.Error().Err(err).Str("record", m.Record.ID).Msg("linker: линковка не удалась, запись пропущена")
		chSum.Failed++
		metrics.ApplyErrorsTotal.Inc()
		return
	}
	if !s.applier.DryRun() {
		s.cache.Put(key, domain.CacheEntry{RecordID: m.Record.ID, MessageID: m.Candidate.MessageID, LinkedAt: s.now()})
	}
	chSum.Linked++
	metrics.LinksTotal.Inc()
}

func (s *Service) applyOrphan(ctx context.Context, chLog zerolog.Logger, o domain.Orphan, chSum *domain.ChannelSummary) {
	if err := s.applier.Correct(ctx, o); err != nil {
		chLog.Error().Err(err).Str("record", o.Record.ID).Msg("linker: исправление линка не удалось, запись пропущена")
		chSum.Failed++
		metrics.ApplyErrorsTotal.Inc()
		return
	}
	if !s.applier.DryRun() {
		key := domain.NewLinkKey(o.Candidate.Date, o.Candidate.Location, o.Kind)
		s.cache.Put(key, domain.CacheEntry{RecordID: o.Record.ID, MessageID: o.NewMessageID, LinkedAt: s.now()})
	}
	chSum.Corrected++
	metrics.CorrectionsTotal.Inc()
}

// fullScanDue проверяет, истёк ли период с последнего полного скана.
func (s *Service) fullScanDue(kind domain.ChannelKind) bool {
	last, ok := s.cache.LastFullScan(kind)
	if !ok {
		return true
	}
	return s.now().Sub(last) > s.fullScanEvery
}
