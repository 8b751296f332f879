package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"mcq-bot/internal/app"
	"mcq-bot/internal/domain"
	pgstore "mcq-bot/internal/infra/postgres"
	pgmigrations "mcq-bot/internal/infra/postgres/migrations"
	infraredis "mcq-bot/internal/infra/redis"
	"mcq-bot/internal/kv"
	"mcq-bot/internal/kv/kvtest"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, cleanup := startPostgres(t, ctx)
	defer cleanup()
	migrateSchema(t, ctx, pgURL)
	// A second run must be a no-op.
	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	kvtest.Run(t, pgstore.NewKVStore(pool))
	if _, err := pool.Exec(ctx, `TRUNCATE kv_entries`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	exerciseBot(t, pgstore.NewKVStore(pool))
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	redisURL, cleanup := startRedis(t, ctx)
	defer cleanup()

	client, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	kvtest.Run(t, infraredis.NewKVStore(client, "conformance:"))
	exerciseBot(t, infraredis.NewKVStore(client, "bot:"))
}

// recorder is a Messenger that keeps outbound texts per chat.
type recorder struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (r *recorder) SendText(_ context.Context, chatID int64, text string, _ [][]domain.Button) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[chatID] = append(r.sent[chatID], text)
	return len(r.sent[chatID]), nil
}

func (r *recorder) EditText(context.Context, int64, int, string, [][]domain.Button) error {
	return nil
}

func (r *recorder) AnswerCallback(context.Context, string, string, bool) error { return nil }

func (r *recorder) DownloadFile(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("no files")
}

func (r *recorder) SendDocument(context.Context, int64, string, []byte, string) error { return nil }

// exerciseBot runs ingestion, rotation and scoring against a real backend.
func exerciseBot(t *testing.T, store kv.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := app.NewBotService(store, &recorder{sent: map[int64][]string{}}, app.Options{
		ShardSize: 3,
		Window:    app.DefaultRecentWindow,
		AdminIDs:  []int64{1},
		Clock:     func() time.Time { return now },
	}, zerolog.Nop())

	var lines []string
	for i := 0; i < 8; i++ {
		lines = append(lines, fmt.Sprintf(`{"question":"Q%d?","options":["a","b","c","d"],"answer":"C","explanation":"e%d"}`, i, i))
	}
	lines = append(lines, lines[0])
	res, err := svc.Ingest(ctx, []byte(strings.Join(lines, "\n")))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Added != 8 || res.SkippedDuplicates != 1 || res.TotalAfter != 8 {
		t.Fatalf("unexpected ingest result %+v", res)
	}

	seen := map[int]bool{}
	for i := 0; i < 8; i++ {
		index, err := svc.Dispense(ctx, -42)
		if err != nil {
			t.Fatalf("dispense: %v", err)
		}
		seen[index] = true
	}
	if len(seen) != 8 {
		t.Fatalf("expected every item once per cycle, got %v", seen)
	}

	fifth := domain.Item{Question: "Q5?", Options: [4]string{"a", "b", "c", "d"}, Answer: "C", Explanation: "e5"}
	data, _ := domain.AnswerCallback(5, fifth.Ref(), "C").Encode()
	for _, user := range []int64{7, 7, 8} {
		upd := domain.Update{Callback: &domain.CallbackQuery{ID: "cb", SenderID: user, ChatID: -42, Data: data}}
		if err := svc.HandleUpdate(ctx, upd); err != nil {
			t.Fatalf("answer: %v", err)
		}
	}
	month, err := svc.CurrentStats(ctx, domain.BucketMonth)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if month.Total != 2 || len(month.Entries) != 2 {
		t.Fatalf("unexpected month stats %+v", month)
	}

	report, err := svc.CheckIntegrity(ctx)
	if err != nil || !report.OK() || report.Checked != 8 || report.Meta.ShardCount != 3 {
		t.Fatalf("unexpected integrity report %+v %v", report, err)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "mcq", "POSTGRES_PASSWORD": "mcqpass", "POSTGRES_DB": "mcqdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://mcq:mcqpass@%s:%s/mcqdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
