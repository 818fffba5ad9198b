package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"tg-event-linker/internal/domain"
)

// DefaultExpiry — срок хранения линка после даты события.
const DefaultExpiry = 30 * 24 * time.Hour

// FileStore — файловое хранилище линков и состояния сканов.
// Загружается целиком при старте, сохраняется атомарно (temp + rename),
// рассчитано на единственного владельца в рамках прогона.
type FileStore struct {
	path   string
	expiry time.Duration
	log    zerolog.Logger

	entries  map[domain.LinkKey]domain.CacheEntry
	fullScan map[domain.ChannelKind]time.Time
}

var _ domain.LinkCache = (*FileStore)(nil)

type fileLink struct {
	Key   domain.LinkKey    `json:"key"`
	Entry domain.CacheEntry `json:"entry"`
}

type fileFormat struct {
	Links    []fileLink                       `json:"links"`
	FullScan map[domain.ChannelKind]time.Time `json:"last_full_scan"`
	SavedAt  time.Time                        `json:"saved_at"`
}

// OpenFile загружает кэш из файла. Нечитаемый или битый файл не фатален:
// кэш начинается пустым и перестраивается за прогон.
func OpenFile(path string, expiry time.Duration, logger zerolog.Logger) *FileStore {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	s := &FileStore{
		path:     path,
		expiry:   expiry,
		log:      logger,
		entries:  make(map[domain.LinkKey]domain.CacheEntry),
		fullScan: make(map[domain.ChannelKind]time.Time),
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Err(err).Str("path", path).Msg("cache: файл не прочитан, начинаем с пустого")
		}
		return s
	}
	var data fileFormat
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("cache: файл повреждён, начинаем с пустого")
		return s
	}
	for _, link := range data.Links {
		s.entries[link.Key] = link.Entry
	}
	for kind, at := range data.FullScan {
		s.fullScan[kind] = at
	}
	logger.Debug().Int("links", len(s.entries)).Msg("cache: загружен")
	return s
}

// Get возвращает линк по ключу.
func (s *FileStore) Get(key domain.LinkKey) (domain.CacheEntry, bool) {
	entry, ok := s.entries[key]
	return entry, ok
}

// Put записывает линк, перезаписывая прежний (репост побеждает).
func (s *FileStore) Put(key domain.LinkKey, entry domain.CacheEntry) {
	s.entries[key] = entry
}

// Len возвращает количество линков.
func (s *FileStore) Len() int {
	return len(s.entries)
}

// PurgeExpired удаляет линки, чья дата события прошла дольше срока хранения.
// Возвращает число удалённых.
func (s *FileStore) PurgeExpired(now time.Time) int {
	removed := 0
	for key := range s.entries {
		date, err := key.EventDate()
		if err != nil {
			delete(s.entries, key)
			removed++
			continue
		}
		if date.Add(s.expiry).Before(now) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug().Int("removed", removed).Msg("cache: просроченные линки удалены")
	}
	return removed
}

// LastFullScan возвращает время последнего полного скана канала.
func (s *FileStore) LastFullScan(kind domain.ChannelKind) (time.Time, bool) {
	at, ok := s.fullScan[kind]
	return at, ok
}

// MarkFullScan фиксирует завершённый полный скан.
func (s *FileStore) MarkFullScan(kind domain.ChannelKind, at time.Time) {
	s.fullScan[kind] = at
}

// Save атомарно записывает состояние: сначала во временный файл рядом,
// затем rename. Падение посреди записи не портит прежний файл.
func (s *FileStore) Save() error {
	data := fileFormat{
		Links:    make([]fileLink, 0, len(s.entries)),
		FullScan: s.fullScan,
		SavedAt:  time.Now().UTC(),
	}
	for key, entry := range s.entries {
		data.Links = append(data.Links, fileLink{Key: key, Entry: entry})
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("кодирование кэша: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("временный файл кэша: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("запись кэша: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("закрытие временного файла: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("замена файла кэша: %w", err)
	}
	return nil
}

// Clear стирает линки и состояние сканов вместе с файлом.
func (s *FileStore) Clear() error {
	s.entries = make(map[domain.LinkKey]domain.CacheEntry)
	s.fullScan = make(map[domain.ChannelKind]time.Time)
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("удаление файла кэша: %w", err)
	}
	return nil
}
