package linker

import (
	"fmt"
	"strings"
	"time"

	"tg-event-linker/internal/domain"
)

// FormatSummary формирует текстовый итог прогона для лога и уведомлений.
func FormatSummary(s domain.RunSummary) string {
	var b strings.Builder

	mode := "production"
	if s.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(&b, "Прогон %s (%s), %s\n", s.RunID, mode, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))

	for _, ch := range s.Channels {
		scan := "quick"
		if ch.FullScan {
			scan = "full"
		}
		fmt.Fprintf(&b, "[%s] скан %s: сообщений %d, кандидатов %d\n", ch.Kind, scan, ch.MessagesScanned, ch.Candidates)
		if ch.Error != "" {
			fmt.Fprintf(&b, "[%s] канал пропущен: %s\n", ch.Kind, ch.Error)
			continue
		}
		fmt.Fprintf(&b, "[%s] новых линков %d, исправлено %d, уже в базе %d, из кэша %d, ошибок %d\n",
			ch.Kind, ch.Linked, ch.Corrected, ch.AlreadyLinked, ch.CacheHits, ch.Failed)
	}

	return strings.TrimSpace(b.String())
}
