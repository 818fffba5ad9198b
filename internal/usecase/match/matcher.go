package match

import (
	"tg-event-linker/internal/domain"
)

// TieBreak выбирает кандидата, когда на одну запись претендуют несколько
// сообщений (репосты).
type TieBreak func(a, b domain.ParsedEvent) domain.ParsedEvent

// PreferLatest оставляет сообщение с наибольшим id — считаем его самым свежим.
func PreferLatest(a, b domain.ParsedEvent) domain.ParsedEvent {
	if b.MessageID > a.MessageID {
		return b
	}
	return a
}

// Matcher сопоставляет кандидатов с записями по дате и локации.
// Заголовок в идентичности не участвует: его форматирование плавает,
// а пара дата+локация задаёт событие однозначно.
type Matcher struct {
	tieBreak TieBreak
}

// New создаёт матчер. nil tieBreak означает PreferLatest.
func New(tieBreak TieBreak) *Matcher {
	if tieBreak == nil {
		tieBreak = PreferLatest
	}
	return &Matcher{tieBreak: tieBreak}
}

// Match возвращает пары для линковки и осиротевшие линки.
// Записи со статусом "skipped" не участвуют; записи без кандидата не трогаются.
func (m *Matcher) Match(candidates []domain.ParsedEvent, records []domain.EventRecord) ([]domain.Match, []domain.Orphan) {
	winners := make(map[domain.LinkKey]domain.ParsedEvent, len(candidates))
	for _, cand := range candidates {
		key := domain.NewLinkKey(cand.Date, cand.Location, cand.Kind)
		if prev, ok := winners[key]; ok {
			winners[key] = m.tieBreak(prev, cand)
			continue
		}
		winners[key] = cand
	}

	var matches []domain.Match
	var orphans []domain.Orphan
	for _, rec := range records {
		if rec.Skipped() {
			continue
		}
		for _, kind := range domain.Kinds() {
			key := domain.NewLinkKey(rec.Date, rec.Location, kind)
			cand, ok := winners[key]
			if !ok {
				continue
			}
			stored := rec.LinkedMessageID(kind)
			if stored != 0 && stored != cand.MessageID {
				orphans = append(orphans, domain.Orphan{
					Record:       rec,
					Candidate:    cand,
					Kind:         kind,
					OldMessageID: stored,
					NewMessageID: cand.MessageID,
				})
				continue
			}
			matches = append(matches, domain.Match{Record: rec, Candidate: cand})
		}
	}
	return matches, orphans
}
