package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tg-event-linker/internal/domain"
)

const (
	defaultBaseURL = "https://api.notion.com"
	notionVersion  = "2022-06-28"
	// recordsWindow — горизонт выборки: от сегодня на год вперёд.
	recordsWindow = 365 * 24 * time.Hour
)

// Client реализует domain.RecordService поверх Notion API.
type Client struct {
	http       *http.Client
	baseURL    string
	token      string
	databaseID string
	now        func() time.Time
}

var _ domain.RecordService = (*Client)(nil)

// NewClient создаёт клиента Notion.
func NewClient(token, databaseID, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      token,
		databaseID: databaseID,
		now:        time.Now,
	}
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type dateValue struct {
	Start string `json:"start"`
}

type selectOption struct {
	Name string `json:"name"`
}

type property struct {
	Title       []richText     `json:"title,omitempty"`
	RichText    []richText     `json:"rich_text,omitempty"`
	Date        *dateValue     `json:"date,omitempty"`
	MultiSelect []selectOption `json:"multi_select,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	URL         string         `json:"url,omitempty"`
}

type page struct {
	ID         string              `json:"id"`
	Properties map[string]property `json:"properties"`
}

type queryRequest struct {
	Filter      any    `json:"filter,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
}

type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// FetchRecords выгружает записи событий в окне «сегодня … +год», без
// статуса "skipped", проходя пагинацию целиком.
func (c *Client) FetchRecords(ctx context.Context) ([]domain.EventRecord, error) {
	today := c.now().Format("2006-01-02")
	until := c.now().Add(recordsWindow).Format("2006-01-02")

	filter := map[string]any{
		"and": []any{
			map[string]any{
				"property": "event_date",
				"date": map[string]string{
					"on_or_after":  today,
					"on_or_before": until,
				},
			},
			map[string]any{
				"or": []any{
					map[string]any{
						"property":     "data_status",
						"multi_select": map[string]string{"does_not_contain": domain.StatusSkipped},
					},
					map[string]any{
						"property":     "data_status",
						"multi_select": map[string]bool{"is_empty": true},
					},
				},
			},
		},
	}

	var records []domain.EventRecord
	cursor := ""
	for {
		resp, err := c.queryPage(ctx, filter, cursor)
		if err != nil {
			return nil, err
		}
		for _, pg := range resp.Results {
			if rec, ok := parseRecord(pg); ok {
				records = append(records, rec)
			}
		}
		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return records, nil
}

func (c *Client) queryPage(ctx context.Context, filter any, cursor string) (queryResponse, error) {
	body, err := json.Marshal(queryRequest{Filter: filter, StartCursor: cursor})
	if err != nil {
		return queryResponse{}, fmt.Errorf("кодирование запроса: %w", err)
	}
	url := fmt.Sprintf("%s/v1/databases/%s/query", c.baseURL, c.databaseID)
	raw, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return queryResponse{}, err
	}
	var resp queryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return queryResponse{}, fmt.Errorf("разбор ответа Notion: %w", err)
	}
	return resp, nil
}

// UpdateLink записывает линк-поля страницы. Для боевого канала пишутся url и
// id сообщения, для тестового — только отдельное числовое поле.
func (c *Client) UpdateLink(ctx context.Context, recordID string, kind domain.ChannelKind, messageID int64, url string) error {
	var properties map[string]any
	if kind == domain.ChannelTest {
		properties = map[string]any{
			"telegram_test_channel_id": map[string]any{"number": messageID},
		}
	} else {
		properties = map[string]any{
			"telegram_url":        map[string]any{"url": url},
			"telegram_message_id": map[string]any{"number": messageID},
		}
	}
	body, err := json.Marshal(map[string]any{"properties": properties})
	if err != nil {
		return fmt.Errorf("кодирование обновления: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/pages/%s", c.baseURL, recordID)
	if _, err := c.do(ctx, http.MethodPatch, endpoint, body); err != nil {
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос Notion: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("чтение ответа Notion: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notion: статус %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	return raw, nil
}

// parseRecord собирает EventRecord из страницы. Страницы без даты или
// локации бесполезны для матчинга и отбрасываются.
func parseRecord(pg page) (domain.EventRecord, bool) {
	props := pg.Properties

	dateProp, ok := props["event_date"]
	if !ok || dateProp.Date == nil || dateProp.Date.Start == "" {
		return domain.EventRecord{}, false
	}
	date, err := parseDate(dateProp.Date.Start)
	if err != nil {
		return domain.EventRecord{}, false
	}

	location := plainText(props["event_location"].RichText)
	if location == "" {
		return domain.EventRecord{}, false
	}

	rec := domain.EventRecord{
		ID:       pg.ID,
		Title:    plainText(props["title"].Title),
		Date:     date,
		Location: location,
	}
	for _, opt := range props["data_status"].MultiSelect {
		rec.Status = append(rec.Status, opt.Name)
	}
	rec.TelegramURL = props["telegram_url"].URL
	if n := props["telegram_message_id"].Number; n != nil {
		rec.TelegramMessageID = int64(*n)
	}
	if n := props["telegram_test_channel_id"].Number; n != nil {
		rec.TestMessageID = int64(*n)
	}
	return rec, true
}

func parseDate(s string) (time.Time, error) {
	if idx := strings.Index(s, "T"); idx >= 0 {
		s = s[:idx]
	}
	return time.Parse("2006-01-02", s)
}

func plainText(items []richText) string {
	if len(items) == 0 {
		return ""
	}
	return strings.TrimSpace(items[0].PlainText)
}

func truncate(raw []byte, n int) string {
	s := string(raw)
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}
