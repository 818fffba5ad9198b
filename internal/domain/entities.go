package domain

import (
	"fmt"
	"strings"
	"time"
)

// ChannelKind различает боевой и тестовый каналы.
type ChannelKind string

const (
	// ChannelLive — боевой канал с опубликованными анонсами.
	ChannelLive ChannelKind = "live"
	// ChannelTest — тестовый канал для прогонов.
	ChannelTest ChannelKind = "test"
)

// Kinds возвращает все виды каналов в фиксированном порядке.
func Kinds() []ChannelKind {
	return []ChannelKind{ChannelLive, ChannelTest}
}

// Message представляет сообщение канала до разбора.
type Message struct {
	ID       int64
	Text     string
	PostedAt time.Time
	URL      string
}

// ParsedEvent — событие, извлечённое из текста сообщения.
type ParsedEvent struct {
	Title     string
	Date      time.Time
	Location  string
	MessageID int64
	Kind      ChannelKind
	SourceURL string
}

// StatusSkipped помечает запись, исключённую из линковки.
const StatusSkipped = "skipped"

// EventRecord описывает запись события во внешней базе.
// Линк-поля хранятся по одному набору на вид канала.
type EventRecord struct {
	ID       string
	Title    string
	Date     time.Time
	Location string
	Status   []string

	TelegramURL       string
	TelegramMessageID int64
	TestMessageID     int64
}

// Skipped сообщает, исключена ли запись из линковки.
func (r EventRecord) Skipped() bool {
	for _, s := range r.Status {
		if strings.EqualFold(strings.TrimSpace(s), StatusSkipped) {
			return true
		}
	}
	return false
}

// LinkedMessageID возвращает сохранённый в базе id сообщения для вида канала,
// 0 — если линка нет.
func (r EventRecord) LinkedMessageID(kind ChannelKind) int64 {
	if kind == ChannelTest {
		return r.TestMessageID
	}
	return r.TelegramMessageID
}

// LinkKey — идентичность события: дата + нормализованная локация + вид канала.
type LinkKey struct {
	Date     string      `json:"date"`
	Location string      `json:"location"`
	Kind     ChannelKind `json:"kind"`
}

// NewLinkKey строит ключ из даты и сырой локации.
func NewLinkKey(date time.Time, location string, kind ChannelKind) LinkKey {
	return LinkKey{
		Date:     date.Format("2006-01-02"),
		Location: NormalizeLocation(location),
		Kind:     kind,
	}
}

// EventDate возвращает дату ключа.
func (k LinkKey) EventDate() (time.Time, error) {
	return time.Parse("2006-01-02", k.Date)
}

func (k LinkKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Date, k.Location, k.Kind)
}

// CacheEntry — подтверждённый линк записи на сообщение.
type CacheEntry struct {
	RecordID  string    `json:"record_id"`
	MessageID int64     `json:"message_id"`
	LinkedAt  time.Time `json:"linked_at"`
}

// Match — пара «кандидат ↔ незалинкованная запись».
type Match struct {
	Record    EventRecord
	Candidate ParsedEvent
}

// Orphan — запись, у которой сохранённый линк расходится с актуальным сообщением.
type Orphan struct {
	Record       EventRecord
	Candidate    ParsedEvent
	Kind         ChannelKind
	OldMessageID int64
	NewMessageID int64
}

// ChannelSummary — итог прогона по одному виду канала.
type ChannelSummary struct {
	Kind            ChannelKind
	FullScan        bool
	MessagesScanned int
	Candidates      int
	Linked          int
	AlreadyLinked   int
	CacheHits       int
	Corrected       int
	Failed          int
	Error           string
}

// RunSummary — итог прогона целиком.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Channels   []ChannelSummary
}

// TotalLinked суммирует новые линки по всем каналам.
func (s RunSummary) TotalLinked() int {
	total := 0
	for _, ch := range s.Channels {
		total += ch.Linked
	}
	return total
}

// TotalFailed суммирует ошибки применения по всем каналам.
func (s RunSummary) TotalFailed() int {
	total := 0
	for _, ch := range s.Channels {
		total += ch.Failed
	}
	return total
}

// NormalizeLocation приводит локацию к ключевому виду: нижний регистр,
// обрезанные края, схлопнутые внутренние пробелы. Идемпотентна.
func NormalizeLocation(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
