package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-event-linker/internal/adapters/apply"
	"tg-event-linker/internal/adapters/mtproto"
	"tg-event-linker/internal/adapters/notion"
	"tg-event-linker/internal/adapters/repo"
	"tg-event-linker/internal/adapters/telegram"
	"tg-event-linker/internal/domain"
	"tg-event-linker/internal/infra/cache"
	"tg-event-linker/internal/infra/config"
	"tg-event-linker/internal/infra/db"
	infrahttp "tg-event-linker/internal/infra/http"
	applog "tg-event-linker/internal/infra/log"
	"tg-event-linker/internal/infra/metrics"
	"tg-event-linker/internal/infra/runlock"
	"tg-event-linker/internal/usecase/linker"
	"tg-event-linker/internal/usecase/match"
	"tg-event-linker/internal/usecase/parse"
)

const runLockKey = "event-linker:run"

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("linkerd: конфигурация неполна")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.Daemon.MetricsAddr)

	var records domain.RecordService
	switch cfg.Records.Backend {
	case "postgres":
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("linkerd: нет подключения к БД")
		}
		defer pool.Close()
		pg := repo.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("linkerd: схема событий не готова")
		}
		records = pg
	default:
		records = notion.NewClient(cfg.Notion.Token, cfg.Notion.DatabaseID, cfg.Notion.BaseURL, cfg.Notion.Timeout)
	}

	transport, err := mtproto.NewTransport(cfg.Telegram.APIID, cfg.Telegram.APIHash, cfg.MTProto.SessionFile, cfg.Telegram.LiveChannel, cfg.Telegram.TestChannel, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("linkerd: не удалось создать MTProto клиента")
	}

	cacheStore := cache.OpenFile(cfg.Cache.File, cfg.Cache.Expiry, logger)

	service := linker.NewService(
		transport,
		records,
		cacheStore,
		apply.NewWriter(records, logger),
		parse.New(parse.Options{YearGrace: cfg.Scan.YearGrace}),
		match.New(nil),
		logger,
		linker.Options{QuickScanLimit: cfg.Scan.QuickLimit, FullScanEvery: cfg.Scan.FullEvery},
	)

	var notifier domain.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.AdminChatID != 0 {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("linkerd: не удалось создать бота")
		}
		notifier = telegram.NewNotifier(botAPI, cfg.Telegram.AdminChatID, logger)
	}

	var lock *runlock.RedisLock
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		lock = runlock.NewRedis(client, runLockKey, cfg.Daemon.Interval)
	}

	runner := &runner{
		log:      logger,
		service:  service,
		notifier: notifier,
		lock:     lock,
	}

	srv := infrahttp.NewServer(logger.With().Str("component", "http").Logger())
	srv.Router.Post("/run", runner.handleRun)
	srv.Router.Get("/summary", runner.handleSummary)
	go func() {
		if err := srv.Start(cfg.Daemon.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("linkerd: HTTP сервер остановлен")
		}
	}()

	logger.Info().Dur("interval", cfg.Daemon.Interval).Msg("linkerd: запущен")
	ticker := time.NewTicker(cfg.Daemon.Interval)
	defer ticker.Stop()

	runner.run(ctx, false)
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("linkerd: HTTP сервер не завершился корректно")
			}
			cancel()
			logger.Info().Msg("linkerd: остановлен")
			return
		case <-ticker.C:
			runner.run(ctx, false)
		}
	}
}

// runner сериализует прогоны: кэш рассчитан на единственного писателя.
type runner struct {
	log      zerolog.Logger
	service  *linker.Service
	notifier domain.Notifier
	lock     *runlock.RedisLock

	mu   sync.Mutex
	last *domain.RunSummary
}

func (r *runner) run(ctx context.Context, forceFull bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lock != nil {
		acquired, err := r.lock.Acquire(ctx)
		if err != nil {
			r.log.Error().Err(err).Msg("linkerd: лок недоступен, прогон пропущен")
			return
		}
		if !acquired {
			r.log.Warn().Msg("linkerd: прогон уже идёт в другом экземпляре, пропускаем")
			return
		}
		defer func() {
			if err := r.lock.Release(context.Background()); err != nil {
				r.log.Error().Err(err).Msg("linkerd: лок не отпущен")
			}
		}()
	}

	summary, err := r.service.Run(ctx, forceFull)
	if err != nil {
		r.log.Error().Err(err).Msg("linkerd: прогон завершился ошибкой")
		return
	}
	r.last = &summary
	r.log.Info().
		Str("run_id", summary.RunID).
		Int("linked", summary.TotalLinked()).
		Int("failed", summary.TotalFailed()).
		Msg("linkerd: прогон завершён")

	if r.notifier != nil {
		if err := r.notifier.NotifySummary(ctx, summary); err != nil {
			r.log.Error().Err(err).Msg("linkerd: итог не доставлен администратору")
		}
	}
}

func (r *runner) handleRun(w http.ResponseWriter, req *http.Request) {
	forceFull := req.URL.Query().Get("full") == "1"
	r.run(req.Context(), forceFull)

	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(last)
}

func (r *runner) handleSummary(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last == nil {
		http.Error(w, "прогонов ещё не было", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(last)
}
