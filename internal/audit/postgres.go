// Package audit journals who knitted what into Postgres. The journal is
// append-only and the server never reads it, so it does not make the textile
// survive a restart.
package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabknit/internal/hub"
)

const schema = `CREATE TABLE IF NOT EXISTS contributions (
	id         BIGSERIAL PRIMARY KEY,
	session_id UUID        NOT NULL,
	"offset"   INTEGER     NOT NULL,
	bits       TEXT        NOT NULL,
	color      SMALLINT[]  NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

const insert = `INSERT INTO contributions (session_id, "offset", bits, color, created_at)
VALUES ($1, $2, $3, $4, $5)`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Postgres struct {
	db execer
}

// Open connects to url and makes sure the contributions table exists.
func Open(ctx context.Context, url string) (*Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	p := &Postgres{db: pool}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return p, pool, nil
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create contributions table: %w", err)
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, c hub.Contribution) error {
	color := []int16{int16(c.Color[0]), int16(c.Color[1]), int16(c.Color[2])}
	if _, err := p.db.Exec(ctx, insert, c.SessionID, c.Offset, c.Bits.String(), color, c.At); err != nil {
		return fmt.Errorf("insert contribution at %d: %w", c.Offset, err)
	}
	return nil
}
