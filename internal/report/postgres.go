package report

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/labelops/annoport/internal/pipeline"
)

// embeddingDims matches the embedding model served alongside the describer.
const embeddingDims = 768

// PostgresConfig holds connection details for the run journal database.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

func (c PostgresConfig) connString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// PostgresStore journals finished runs and their per-item outcomes, and
// indexes optional item descriptions for embedding search.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the journal database and verifies the
// connection.
func NewPostgresStore(ctx context.Context, config PostgresConfig) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, config.connString())
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to journal database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping journal database")
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SaveRun journals one finished run: the run row, every item outcome and the
// skip-reason histogram, all inside a single transaction.
func (s *PostgresStore) SaveRun(ctx context.Context, report *pipeline.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to open journal transaction")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, total, succeeded, failed, labels, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		report.RunID, report.Counts.Total, report.Counts.Succeeded,
		report.Counts.Failed, report.Counts.Labels, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to journal run")
	}

	for _, status := range report.Statuses {
		skips := 0
		for _, n := range status.Skips {
			skips += n
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO run_items
			 (run_id, item_id, name, dataset, kind, stage, reason, detail, labels, skips)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			report.RunID, status.ItemID, status.Name, status.Dataset,
			string(status.Kind), string(status.Stage), string(status.Reason),
			status.Detail, status.Labels, skips)
		if err != nil {
			return errors.Wrapf(err, "failed to journal item %q", status.Name)
		}
	}

	for reason, n := range report.Counts.SkipReason {
		_, err = tx.Exec(ctx,
			`INSERT INTO run_reasons (run_id, reason, count) VALUES ($1, $2, $3)`,
			report.RunID, string(reason), n)
		if err != nil {
			return errors.Wrap(err, "failed to journal skip histogram")
		}
	}
	for reason, n := range report.Counts.FailureReason {
		_, err = tx.Exec(ctx,
			`INSERT INTO run_reasons (run_id, reason, count) VALUES ($1, $2, $3)`,
			report.RunID, string(reason), n)
		if err != nil {
			return errors.Wrap(err, "failed to journal failure histogram")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "failed to commit journal transaction")
}

// AttachDescription stores a generated item description with its embedding.
// A nil embedding stores the text alone.
func (s *PostgresStore) AttachDescription(ctx context.Context, runID, itemID, content string, embedding []float32) error {
	var vec any
	if embedding != nil {
		v := pgvector.NewVector(embedding)
		vec = v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO descriptions (run_id, item_id, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		runID, itemID, content, vec, time.Now())
	return errors.Wrapf(err, "failed to store description of item %q", itemID)
}

// SimilarItem is one embedding search hit.
type SimilarItem struct {
	ItemID      string
	Description string
	Similarity  float64
}

// SearchSimilar returns the items whose stored descriptions are closest to
// the query embedding, best match first.
func (s *PostgresStore) SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]SimilarItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item_id, content, 1 - (embedding <=> $1) AS similarity
		 FROM descriptions
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, errors.Wrap(err, "description search failed")
	}
	defer rows.Close()

	var results []SimilarItem
	for rows.Next() {
		var result SimilarItem
		if err := rows.Scan(&result.ItemID, &result.Description, &result.Similarity); err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// InitSchema creates the journal schema, including the vector extension for
// description search.
func InitSchema(ctx context.Context, config PostgresConfig) error {
	conn, err := pgx.Connect(ctx, config.connString())
	if err != nil {
		return errors.Wrap(err, "failed to connect to journal database")
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return errors.Wrap(err, "failed to create vector extension")
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS runs (
            id VARCHAR(64) PRIMARY KEY,
            total INTEGER NOT NULL,
            succeeded INTEGER NOT NULL,
            failed INTEGER NOT NULL,
            labels INTEGER NOT NULL,
            finished_at TIMESTAMPTZ NOT NULL
        );

        CREATE TABLE IF NOT EXISTS run_items (
            id SERIAL PRIMARY KEY,
            run_id VARCHAR(64) REFERENCES runs(id) ON DELETE CASCADE,
            item_id TEXT NOT NULL,
            name TEXT NOT NULL,
            dataset TEXT NOT NULL,
            kind VARCHAR(16) NOT NULL,
            stage VARCHAR(16) NOT NULL,
            reason VARCHAR(64),
            detail TEXT,
            labels INTEGER NOT NULL,
            skips INTEGER NOT NULL
        );

        CREATE TABLE IF NOT EXISTS run_reasons (
            run_id VARCHAR(64) REFERENCES runs(id) ON DELETE CASCADE,
            reason VARCHAR(64) NOT NULL,
            count INTEGER NOT NULL
        );

        CREATE TABLE IF NOT EXISTS descriptions (
            id SERIAL PRIMARY KEY,
            run_id VARCHAR(64) REFERENCES runs(id) ON DELETE CASCADE,
            item_id TEXT NOT NULL,
            content TEXT NOT NULL,
            embedding vector(%d),
            created_at TIMESTAMPTZ NOT NULL
        );
    `, embeddingDims))
	if err != nil {
		return errors.Wrap(err, "failed to create journal schema")
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_run_items_run_id ON run_items(run_id);
        CREATE INDEX IF NOT EXISTS idx_descriptions_run_id ON descriptions(run_id);
        CREATE INDEX IF NOT EXISTS idx_descriptions_embedding ON descriptions
            USING ivfflat (embedding vector_l2_ops) WITH (lists = 100);
    `)
	return errors.Wrap(err, "failed to create journal indexes")
}
