package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
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
	applog "tg-event-linker/internal/infra/log"
	"tg-event-linker/internal/infra/metrics"
	"tg-event-linker/internal/usecase/linker"
	"tg-event-linker/internal/usecase/match"
	"tg-event-linker/internal/usecase/parse"
)

type options struct {
	Prod       bool `long:"prod" short:"p" description:"Боевой режим: линки записываются в базу"`
	Full       bool `long:"full" short:"f" description:"Принудительный полный скан каналов"`
	CleanCache bool `long:"clean-cache" description:"Очистить кэш линков и состояние сканов и выйти"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	cfg := config.Load()
	logger := applog.NewConsoleLogger(cfg.AppEnv)

	cacheStore := cache.OpenFile(cfg.Cache.File, cfg.Cache.Expiry, logger)
	if opts.CleanCache {
		if err := cacheStore.Clear(); err != nil {
			logger.Fatal().Err(err).Msg("linker: кэш не очищен")
		}
		logger.Info().Str("path", cfg.Cache.File).Msg("linker: кэш очищен")
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("linker: конфигурация неполна")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records := buildRecordService(ctx, cfg, logger)

	transport, err := mtproto.NewTransport(cfg.Telegram.APIID, cfg.Telegram.APIHash, cfg.MTProto.SessionFile, cfg.Telegram.LiveChannel, cfg.Telegram.TestChannel, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("linker: не удалось создать MTProto клиента")
	}

	var applier domain.Applier
	var reporter *apply.Reporter
	if opts.Prod {
		applier = apply.NewWriter(records, logger)
	} else {
		logger.Info().Msg("linker: dry-run, записи подавлены (для боевого режима добавьте --prod)")
		reporter = apply.NewReporter(logger)
		applier = reporter
	}

	service := linker.NewService(
		transport,
		records,
		cacheStore,
		applier,
		parse.New(parse.Options{YearGrace: cfg.Scan.YearGrace}),
		match.New(nil),
		logger,
		linker.Options{QuickScanLimit: cfg.Scan.QuickLimit, FullScanEvery: cfg.Scan.FullEvery},
	)

	summary, err := service.Run(ctx, opts.Full)
	if err != nil {
		logger.Fatal().Err(err).Msg("linker: прогон завершился ошибкой")
	}

	fmt.Println(linker.FormatSummary(summary))
	if reporter != nil {
		for _, line := range reporter.Report() {
			fmt.Println(line)
		}
	}

	notifySummary(ctx, cfg, logger, summary)
}

func buildRecordService(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) domain.RecordService {
	switch cfg.Records.Backend {
	case "postgres":
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("linker: нет подключения к БД")
		}
		pg := repo.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("linker: схема событий не готова")
		}
		return pg
	default:
		return notion.NewClient(cfg.Notion.Token, cfg.Notion.DatabaseID, cfg.Notion.BaseURL, cfg.Notion.Timeout)
	}
}

func notifySummary(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, summary domain.RunSummary) {
	if cfg.Telegram.BotToken == "" || cfg.Telegram.AdminChatID == 0 {
		return
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("linker: не удалось создать бота для уведомлений")
		return
	}
	notifier := telegram.NewNotifier(botAPI, cfg.Telegram.AdminChatID, logger)
	if err := notifier.NotifySummary(ctx, summary); err != nil {
		logger.Error().Err(err).Msg("linker: итог не доставлен администратору")
	}
}
