package authzsql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/openkcm/anoncred-broker/internal/authz"
	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

type Repository struct {
	db *pgxpool.Pool
}

var _ = authz.Repository(&Repository{})

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Patterns(ctx context.Context, kind authz.Kind, requester string) ([]string, error) {
	tracer := otel.GetTracerProvider()
	ctx, span := tracer.Tracer("").Start(ctx, "get_client_permissions_sql")
	defer span.End()

	rows, err := r.db.Query(ctx,
		`SELECT pattern FROM client_permissions WHERE kind = $1 AND requester = $2 ORDER BY pattern;`,
		string(kind), requester)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying client permissions: %w", err)
	}

	patterns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scanning rows: %w", err)
	}

	return patterns, nil
}

func (r *Repository) Grant(ctx context.Context, kind authz.Kind, requester, pattern string) error {
	tracer := otel.GetTracerProvider()
	ctx, span := tracer.Tracer("").Start(ctx, "grant_client_permission_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO client_permissions (kind, requester, pattern) VALUES ($1, $2, $3);`,
		string(kind), requester, pattern,
	)
	if err != nil {
		span.RecordError(err)
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("inserting into client_permissions: %w", err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (r *Repository) Revoke(ctx context.Context, kind authz.Kind, requester, pattern string) error {
	tracer := otel.GetTracerProvider()
	ctx, span := tracer.Tracer("").Start(ctx, "revoke_client_permission_sql")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`DELETE FROM client_permissions WHERE kind = $1 AND requester = $2 AND pattern = $3;`,
		string(kind), requester, pattern)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("executing sql query: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrNotFound
	}

	err = tx.Commit(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}
