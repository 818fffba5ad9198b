package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tg-event-linker/internal/domain"
)

func pageJSON(id, title, date, location string, msgID int64) string {
	linked := ""
	if msgID != 0 {
		linked = fmt.Sprintf(`,"telegram_message_id":{"number":%d}`, msgID)
	}
	return fmt.Sprintf(`{
		"id": %q,
		"properties": {
			"title": {"title": [{"plain_text": %q}]},
			"event_date": {"date": {"start": %q}},
			"event_location": {"rich_text": [{"plain_text": %q}]},
			"data_status": {"multi_select": []}%s
		}
	}`, id, title, date, location, linked)
}

func TestFetchRecords(t *testing.T) {
	var gotFilter map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/databases/db-1/query" {
			t.Fatalf("неожиданный путь: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("нет токена: %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Notion-Version") == "" {
			t.Fatalf("нет версии API")
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("тело запроса: %v", err)
		}
		gotFilter, _ = req["filter"].(map[string]any)
		fmt.Fprintf(w, `{"results": [%s], "has_more": false}`,
			pageJSON("rec-1", "Techno Night", "2025-01-15", "Industrial Zone", 0))
	}))
	defer srv.Close()

	c := NewClient("secret", "db-1", srv.URL, 0)
	c.now = func() time.Time { return time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC) }

	records, err := c.FetchRecords(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ожидали 1 запись, получили %d", len(records))
	}
	rec := records[0]
	if rec.ID != "rec-1" || rec.Title != "Techno Night" || rec.Location != "Industrial Zone" {
		t.Fatalf("запись искажена: %+v", rec)
	}
	if !rec.Date.Equal(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("дата искажена: %s", rec.Date)
	}
	if gotFilter == nil {
		t.Fatalf("запрос должен нести фильтр по дате и статусу")
	}
}

func TestFetchRecordsPagination(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch calls {
		case 1:
			if req["start_cursor"] != nil {
				t.Fatalf("первый запрос без курсора: %v", req["start_cursor"])
			}
			fmt.Fprintf(w, `{"results": [%s], "has_more": true, "next_cursor": "cur-2"}`,
				pageJSON("rec-1", "First", "2025-01-15", "Zone A", 0))
		case 2:
			if req["start_cursor"] != "cur-2" {
				t.Fatalf("второй запрос должен нести курсор, получили %v", req["start_cursor"])
			}
			fmt.Fprintf(w, `{"results": [%s], "has_more": false}`,
				pageJSON("rec-2", "Second", "2025-02-20", "Zone B", 0))
		default:
			t.Fatalf("лишний запрос")
		}
	}))
	defer srv.Close()

	c := NewClient("secret", "db-1", srv.URL, 0)
	records, err := c.FetchRecords(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ожидали 2 записи через пагинацию, получили %d", len(records))
	}
}

func TestFetchRecordsDropsIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		noDate := `{"id": "bad-1", "properties": {"title": {"title": [{"plain_text": "x"}]}, "event_location": {"rich_text": [{"plain_text": "Zone"}]}}}`
		noLocation := `{"id": "bad-2", "properties": {"event_date": {"date": {"start": "2025-01-15"}}}}`
		fmt.Fprintf(w, `{"results": [%s, %s, %s], "has_more": false}`,
			noDate, noLocation, pageJSON("rec-1", "Ok", "2025-01-15", "Zone", 0))
	}))
	defer srv.Close()

	c := NewClient("secret", "db-1", srv.URL, 0)
	records, err := c.FetchRecords(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(records) != 1 || records[0].ID != "rec-1" {
		t.Fatalf("неполные страницы должны отбрасываться: %+v", records)
	}
}

func TestUpdateLinkLive(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/v1/pages/rec-1" {
			t.Fatalf("неожиданный запрос: %s %s", r.Method, r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient("secret", "db-1", srv.URL, 0)
	if err := c.UpdateLink(context.Background(), "rec-1", domain.ChannelLive, 500, "https://t.me/live/500"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	props, _ := body["properties"].(map[string]any)
	urlProp, _ := props["telegram_url"].(map[string]any)
	if urlProp["url"] != "https://t.me/live/500" {
		t.Fatalf("url не записан: %v", props)
	}
	if _, ok := props["telegram_message_id"]; !ok {
		t.Fatalf("id сообщения не записан: %v", props)
	}
	if _, ok := props["telegram_test_channel_id"]; ok {
		t.Fatalf("боевой линк не должен трогать тестовое поле")
	}
}

func TestUpdateLinkTest(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient("secret", "db-1", srv.URL, 0)
	if err := c.UpdateLink(context.Background(), "rec-1", domain.ChannelTest, 700, ""); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	props, _ := body["properties"].(map[string]any)
	if _, ok := props["telegram_test_channel_id"]; !ok {
		t.Fatalf("тестовый линк должен писать тестовое поле: %v", props)
	}
	if _, ok := props["telegram_url"]; ok {
		t.Fatalf("тестовый линк не должен трогать боевые поля")
	}
}

func TestDoRejectsNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("secret", "db-1", srv.URL, 0)
	if _, err := c.FetchRecords(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку на статус 429")
	}
}
