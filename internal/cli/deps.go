package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mcq-bot/internal/app"
	"mcq-bot/internal/config"
	"mcq-bot/internal/domain"
	"mcq-bot/internal/infra/memory"
	pgstore "mcq-bot/internal/infra/postgres"
	redisstore "mcq-bot/internal/infra/redis"
	"mcq-bot/internal/kv"
	"mcq-bot/internal/transport/telegram"
)

// runtime bundles what every command needs; close releases connections.
type runtime struct {
	cfg     config.Config
	logger  zerolog.Logger
	service *app.BotService
	close   func()
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// openStore picks Redis when an address is configured, then Postgres, and
// falls back to the in-process store.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (kv.Store, func(), error) {
	switch {
	case cfg.Redis.Addr != "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis store")
		return redisstore.NewKVStore(client, cfg.Redis.Prefix), func() { _ = client.Close() }, nil
	case cfg.Postgres.URL != "":
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("using postgres store")
		return pgstore.NewKVStore(pool), pool.Close, nil
	}
	logger.Warn().Msg("no redis or postgres configured; state lives in memory and is lost on exit")
	return memory.NewKVStore(), func() {}, nil
}

func newMessenger(cfg config.Config, logger zerolog.Logger) (app.Messenger, error) {
	if cfg.Telegram.Token == "" {
		logger.Warn().Msg("no telegram token configured; outbound messages are only logged")
		return logMessenger{logger: logger}, nil
	}
	bot, err := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.APIURL)
	if err != nil {
		return nil, err
	}
	return telegram.NewMessenger(bot, logger), nil
}

func newRuntime(ctx context.Context, configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log.Level)

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("stats timezone: %w", err)
	}
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	messenger, err := newMessenger(cfg, logger)
	if err != nil {
		closeStore()
		return nil, err
	}

	window := app.DefaultRecentWindow
	if cfg.Rotation.RecentFraction > 0 {
		window.Fraction = cfg.Rotation.RecentFraction
	}
	if cfg.Rotation.RecentFloor > 0 {
		window.Floor = cfg.Rotation.RecentFloor
	}
	if cfg.Rotation.RecentMax > 0 {
		window.Max = cfg.Rotation.RecentMax
	}

	service := app.NewBotService(store, messenger, app.Options{
		ShardSize:    cfg.Collection.ShardSize,
		Window:       window,
		AdminIDs:     cfg.Telegram.AdminIDs,
		Location:     loc,
		AsyncStats:   cfg.Stats.Async,
		StatsTimeout: config.TTLDuration(cfg.Stats.Timeout, 10*time.Second),
	}, logger)

	for _, chatID := range cfg.Telegram.Targets {
		if _, err := service.Targets().Add(ctx, chatID); err != nil {
			logger.Warn().Err(err).Int64("chat", chatID).Msg("failed to register configured target")
		}
	}

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		service: service,
		close: func() {
			service.Wait()
			closeStore()
		},
	}, nil
}

// logMessenger stands in for the platform when no token is configured.
type logMessenger struct {
	logger zerolog.Logger
}

func (m logMessenger) SendText(_ context.Context, chatID int64, text string, keyboard [][]domain.Button) (int, error) {
	m.logger.Info().Int64("chat", chatID).Int("rows", len(keyboard)).Str("text", text).Msg("send text")
	return 0, nil
}

func (m logMessenger) EditText(_ context.Context, chatID int64, messageID int, text string, _ [][]domain.Button) error {
	m.logger.Info().Int64("chat", chatID).Int("message", messageID).Str("text", text).Msg("edit text")
	return nil
}

func (m logMessenger) AnswerCallback(_ context.Context, callbackID, text string, alert bool) error {
	m.logger.Info().Str("callback", callbackID).Bool("alert", alert).Str("text", text).Msg("answer callback")
	return nil
}

func (m logMessenger) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	return nil, fmt.Errorf("cannot download %s without a telegram token", fileID)
}

func (m logMessenger) SendDocument(_ context.Context, chatID int64, fileName string, content []byte, _ string) error {
	m.logger.Info().Int64("chat", chatID).Str("file", fileName).Int("bytes", len(content)).Msg("send document")
	return nil
}
