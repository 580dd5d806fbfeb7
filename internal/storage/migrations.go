package storage

import (
	"bufio"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// schemaMigration is one embedded SQL file. Its first "--" comment line is
// the description recorded next to it.
type schemaMigration struct {
	Version     string
	Description string
	Checksum    string
	SQL         string
}

// RunMigrations brings the cache schema up to date. Each migration runs in
// its own transaction together with its schema_migrations row. A migration
// whose file changed after it was applied is an error, since the cache rows
// it created may no longer match.
func RunMigrations(ctx context.Context, db *DB, logger zerolog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	pending, err := loadMigrations()
	if err != nil {
		return err
	}

	applied, err := appliedChecksums(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if sum, ok := applied[m.Version]; ok {
			if sum != m.Checksum {
				return fmt.Errorf("migration %s changed after it was applied", m.Version)
			}
			continue
		}

		err := db.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description, checksum) VALUES (?, ?, ?)",
				m.Version, m.Description, m.Checksum)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", m.Version, err)
		}

		logger.Info().Str("version", m.Version).Str("description", m.Description).Msg("migration applied")
	}

	return nil
}

func appliedChecksums(ctx context.Context, db *DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, fmt.Errorf("scanning applied migration: %w", err)
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

// loadMigrations returns the embedded migrations in file name order, which
// ReadDir guarantees.
func loadMigrations() ([]schemaMigration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	var out []schemaMigration
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		content, err := migrationsFS.ReadFile(path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", e.Name(), err)
		}

		sum := sha256.Sum256(content)
		out = append(out, schemaMigration{
			Version:     strings.TrimSuffix(e.Name(), ".sql"),
			Description: leadingComment(string(content)),
			Checksum:    hex.EncodeToString(sum[:]),
			SQL:         string(content),
		})
	}
	return out, nil
}

func leadingComment(sqlText string) string {
	sc := bufio.NewScanner(strings.NewReader(sqlText))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "--") {
			return strings.TrimSpace(strings.TrimPrefix(line, "--"))
		}
		break
	}
	return ""
}
