package linker

import (
	"strings"
	"testing"
	"time"

	"tg-event-linker/internal/domain"
)

func TestFormatSummary(t *testing.T) {
	s := domain.RunSummary{
		RunID:      "run-1",
		StartedAt:  time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 1, 10, 12, 0, 2, 0, time.UTC),
		Channels: []domain.ChannelSummary{
			{Kind: domain.ChannelLive, FullScan: true, MessagesScanned: 120, Candidates: 4, Linked: 2, Corrected: 1},
			{Kind: domain.ChannelTest, Error: "flood wait"},
		},
	}

	text := FormatSummary(s)
	if !strings.Contains(text, "run-1") || !strings.Contains(text, "production") {
		t.Fatalf("в заголовке нет id и режима: %q", text)
	}
	if !strings.Contains(text, "[live] скан full: сообщений 120, кандидатов 4") {
		t.Fatalf("нет строки скана: %q", text)
	}
	if !strings.Contains(text, "новых линков 2, исправлено 1") {
		t.Fatalf("нет счётчиков: %q", text)
	}
	if !strings.Contains(text, "[test] канал пропущен: flood wait") {
		t.Fatalf("ошибка канала не отражена: %q", text)
	}
}

func TestFormatSummaryDryRun(t *testing.T) {
	s := domain.RunSummary{RunID: "run-2", DryRun: true}
	if !strings.Contains(FormatSummary(s), "dry-run") {
		t.Fatalf("режим dry-run не отражён")
	}
}
