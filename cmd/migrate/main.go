package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/linuzri/polymarket-bot/pkg/logger"
)

const usage = "usage: go run ./cmd/migrate [up|down|version] [steps]"

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	loadEnvFunc = godotenv.Load
	openPool    = func(ctx context.Context, dsn string) (migrationPool, func(), error) {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
	migrationFile = regexp.MustCompile(`^migrations/([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)
)

// migrationPool is the subset of pgxpool.Pool the migrator needs.
type migrationPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func main() {
	_ = loadEnvFunc()
	logger.Init(os.Getenv("LOG_LEVEL"), "console")

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}
	if len(os.Args) < 2 {
		log.Fatal().Msg(usage)
	}

	ctx := context.Background()
	pool, closePool, err := openPool(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to postgres")
	}
	defer closePool()

	if err := run(ctx, pool, os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
}

func run(ctx context.Context, pool migrationPool, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	if err := ensureMigrationTable(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	switch args[0] {
	case "up":
		n, err := applyUp(ctx, pool, migrations)
		if err != nil {
			return fmt.Errorf("apply up: %w", err)
		}
		log.Info().Int("applied", n).Msg("migrations up complete")
	case "down":
		steps := 1
		if len(args) > 1 {
			steps, err = strconv.Atoi(args[1])
			if err != nil || steps <= 0 {
				return fmt.Errorf("invalid down steps %q", args[1])
			}
		}
		n, err := applyDown(ctx, pool, migrations, steps)
		if err != nil {
			return fmt.Errorf("apply down: %w", err)
		}
		log.Info().Int("rolled_back", n).Msg("migrations down complete")
	case "version":
		version, name, err := currentVersion(ctx, pool)
		if err != nil {
			return fmt.Errorf("read current version: %w", err)
		}
		if version == 0 {
			log.Info().Msg("no migrations applied")
			return nil
		}
		log.Info().Int64("version", version).Str("name", name).Msg("current version")
	default:
		return fmt.Errorf("unknown command %q. %s", args[0], usage)
	}
	return nil
}

func ensureMigrationTable(ctx context.Context, pool migrationPool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    version     BIGINT PRIMARY KEY,
    name        TEXT NOT NULL,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	return err
}

// loadMigrations pairs NNNN_name.up.sql with NNNN_name.down.sql and sorts
// them by version. Every version needs both directions.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	paths, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, p := range paths {
		m := migrationFile.FindStringSubmatch(p)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename: %s", p)
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version in %s: %w", p, err)
		}
		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("empty migration file: %s", p)
		}

		entry, ok := byVersion[version]
		if !ok {
			entry = &migration{Version: version, Name: m[2]}
			byVersion[version] = entry
		} else if entry.Name != m[2] {
			return nil, fmt.Errorf("conflicting names for version %d: %s vs %s", version, entry.Name, m[2])
		}

		target := &entry.UpSQL
		if m[3] == "down" {
			target = &entry.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", m[3], version)
		}
		*target = body
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration version %d must include both up and down files", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func scanVersions(rows pgx.Rows) ([]int64, error) {
	defer rows.Close()
	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// inTx runs stmt and the bookkeeping statement atomically.
func inTx(ctx context.Context, pool migrationPool, stmt, bookkeeping string, args ...any) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, stmt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func applyUp(ctx context.Context, pool migrationPool, migrations []migration) (int, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return 0, err
	}
	versions, err := scanVersions(rows)
	if err != nil {
		return 0, err
	}
	applied := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		applied[v] = struct{}{}
	}

	n := 0
	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if err := inTx(ctx, pool, m.UpSQL, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			return n, fmt.Errorf("version %d up: %w", m.Version, err)
		}
		log.Info().Int64("version", m.Version).Str("name", m.Name).Msg("applied migration")
		n++
	}
	return n, nil
}

func applyDown(ctx context.Context, pool migrationPool, migrations []migration, steps int) (int, error) {
	if steps <= 0 {
		return 0, errors.New("steps must be > 0")
	}
	byVersion := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
	if err != nil {
		return 0, err
	}
	versions, err := scanVersions(rows)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, v := range versions {
		m, ok := byVersion[v]
		if !ok {
			return n, fmt.Errorf("cannot find migration source for applied version %d", v)
		}
		if err := inTx(ctx, pool, m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, m.Version); err != nil {
			return n, fmt.Errorf("version %d down: %w", m.Version, err)
		}
		log.Info().Int64("version", m.Version).Str("name", m.Name).Msg("rolled back migration")
		n++
	}
	return n, nil
}

func currentVersion(ctx context.Context, pool migrationPool) (int64, string, error) {
	var (
		version int64
		name    string
	)
	err := pool.QueryRow(ctx, `SELECT version, name FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &name)
	switch {
	case err == nil:
		return version, name, nil
	case errors.Is(err, pgx.ErrNoRows):
		return 0, "", nil
	default:
		return 0, "", err
	}
}
