package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"tg-event-linker/internal/domain"
)

// DefaultYearGrace — допуск, в пределах которого дата без года считается
// прошедшей в этом году, а не предстоящей в следующем.
const DefaultYearGrace = 72 * time.Hour

// months — фиксированная таблица сокращений; всё остальное — не дата.
var months = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

var dateMarker = regexp.MustCompile(`(\d{1,2})\s+([A-Za-z]{3})\b`)

// Parser извлекает события из текста постов канала.
type Parser struct {
	yearGrace time.Duration
	now       func() time.Time
}

// Options настраивает парсер.
type Options struct {
	// YearGrace — окно допуска при доводе года, по умолчанию DefaultYearGrace.
	YearGrace time.Duration
	// Now подменяется в тестах.
	Now func() time.Time
}

// New создаёт парсер постов.
func New(opts Options) *Parser {
	grace := opts.YearGrace
	if grace <= 0 {
		grace = DefaultYearGrace
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Parser{yearGrace: grace, now: now}
}

// Parse разбирает текст сообщения. Второй результат false означает
// «это не пост события» — не ошибка, сообщение просто пропускается.
func (p *Parser) Parse(msg domain.Message, kind domain.ChannelKind) (domain.ParsedEvent, bool) {
	lines := strings.Split(msg.Text, "\n")

	dateLine := -1
	var day int
	var month time.Month
	for i, line := range lines {
		m := dateMarker.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if dateLine >= 0 {
			// Несколько дат — это сводка, не пост события.
			return domain.ParsedEvent{}, false
		}
		mon, ok := months[strings.ToUpper(m[2])]
		if !ok {
			return domain.ParsedEvent{}, false
		}
		d, err := strconv.Atoi(m[1])
		if err != nil || d < 1 || d > 31 {
			return domain.ParsedEvent{}, false
		}
		dateLine, day, month = i, d, mon
	}
	if dateLine <= 0 {
		// Нет маркера даты либо нет места под строку локации выше него.
		return domain.ParsedEvent{}, false
	}

	date, ok := p.resolveDate(day, month)
	if !ok {
		return domain.ParsedEvent{}, false
	}

	location := locationLine(lines[:dateLine])
	if location == "" {
		return domain.ParsedEvent{}, false
	}

	return domain.ParsedEvent{
		Title:     titleLine(lines[0]),
		Date:      date,
		Location:  domain.NormalizeLocation(location),
		MessageID: msg.ID,
		Kind:      kind,
		SourceURL: msg.URL,
	}, true
}

// resolveDate доводит год: дата, ушедшая в прошлое дальше окна допуска,
// относится к следующему году.
func (p *Parser) resolveDate(day int, month time.Month) (time.Time, bool) {
	now := p.now()
	date := time.Date(now.Year(), month, day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day || date.Month() != month {
		// 31 FEB и подобные перекаты.
		return time.Time{}, false
	}
	if date.Before(now.Add(-p.yearGrace)) {
		date = date.AddDate(1, 0, 0)
	}
	return date, true
}

// titleLine берёт заголовок из первой строки: часть до «|», без обрамления.
func titleLine(line string) string {
	if idx := strings.Index(line, "|"); idx >= 0 {
		line = line[:idx]
	}
	return strings.Trim(strings.TrimSpace(line), "*")
}

// locationLine ищет строку локации — последняя непустая строка над маркером
// даты, не считая заголовка. Часть после «•» (время начала) отбрасывается.
func locationLine(above []string) string {
	for i := len(above) - 1; i >= 1; i-- {
		line := above[i]
		if idx := strings.Index(line, "•"); idx >= 0 {
			line = line[:idx]
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
