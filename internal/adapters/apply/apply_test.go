package apply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-event-linker/internal/domain"
)

type stubRecords struct {
	err     error
	lastID  string
	lastMsg int64
	lastURL string
	kind    domain.ChannelKind
}

func (s *stubRecords) FetchRecords(context.Context) ([]domain.EventRecord, error) { return nil, nil }

func (s *stubRecords) UpdateLink(_ context.Context, recordID string, kind domain.ChannelKind, messageID int64, url string) error {
	if s.err != nil {
		return s.err
	}
	s.lastID, s.kind, s.lastMsg, s.lastURL = recordID, kind, messageID, url
	return nil
}

func sampleMatch() domain.Match {
	return domain.Match{
		Record: domain.EventRecord{ID: "rec-1", Title: "Techno Night"},
		Candidate: domain.ParsedEvent{
			Title:     "Techno Night",
			Date:      time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
			MessageID: 500,
			Kind:      domain.ChannelLive,
			SourceURL: "https://t.me/live/500",
		},
	}
}

func TestWriterLink(t *testing.T) {
	records := &stubRecords{}
	w := NewWriter(records, zerolog.Nop())
	if w.DryRun() {
		t.Fatalf("боевой применятель не dry-run")
	}
	if err := w.Link(context.Background(), sampleMatch()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if records.lastID != "rec-1" || records.lastMsg != 500 || records.lastURL != "https://t.me/live/500" {
		t.Fatalf("линк ушёл не туда: %+v", records)
	}
	if records.kind != domain.ChannelLive {
		t.Fatalf("ожидали боевой канал, получили %s", records.kind)
	}
}

func TestWriterCorrect(t *testing.T) {
	records := &stubRecords{}
	w := NewWriter(records, zerolog.Nop())
	o := domain.Orphan{
		Record:       domain.EventRecord{ID: "rec-1", Title: "Techno Night"},
		Candidate:    sampleMatch().Candidate,
		Kind:         domain.ChannelLive,
		OldMessageID: 100,
		NewMessageID: 500,
	}
	if err := w.Correct(context.Background(), o); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if records.lastMsg != 500 {
		t.Fatalf("исправление должно писать новый id, записан %d", records.lastMsg)
	}
}

func TestWriterWrapsError(t *testing.T) {
	records := &stubRecords{err: errors.New("conflict")}
	w := NewWriter(records, zerolog.Nop())
	err := w.Link(context.Background(), sampleMatch())
	if err == nil {
		t.Fatalf("ожидали ошибку")
	}
	if !errors.Is(err, records.err) {
		t.Fatalf("ошибка базы должна оборачиваться: %v", err)
	}
}

func TestReporter(t *testing.T) {
	r := NewReporter(zerolog.Nop())
	if !r.DryRun() {
		t.Fatalf("отчётный применятель — dry-run")
	}
	if err := r.Link(context.Background(), sampleMatch()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	o := domain.Orphan{
		Record:       domain.EventRecord{ID: "rec-1", Title: "Techno Night"},
		NewMessageID: 500,
		OldMessageID: 100,
	}
	if err := r.Correct(context.Background(), o); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	report := r.Report()
	if len(report) != 2 {
		t.Fatalf("ожидали 2 строки отчёта, получили %d", len(report))
	}
	if report[0] != "Would link: Techno Night → Message 500" {
		t.Fatalf("неожиданная строка: %q", report[0])
	}
	if report[1] != "Would relink: Techno Night → Message 500 (was 100)" {
		t.Fatalf("неожиданная строка: %q", report[1])
	}
}
