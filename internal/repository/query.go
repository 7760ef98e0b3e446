package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/NAGH654/exam-submissions/internal/common"
)

type execQuerier = dialect.ExecQuerier

// execute runs a statement and returns the affected row count.
func execute(ctx context.Context, q dialect.ExecQuerier, query string, args []any) (int64, error) {
	var res sql.Result
	if err := q.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// queryRows runs a query and calls scan once per row.
func queryRows(ctx context.Context, q dialect.ExecQuerier, query string, args []any, scan func(*entsql.Rows) error) error {
	rows := &entsql.Rows{}
	if err := q.Query(ctx, query, args, rows); err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// rollback aborts tx and joins the rollback failure, if any, to err.
func rollback(tx dialect.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		err = errors.Join(err, fmt.Errorf("rolling back transaction: %w", rerr))
	}
	return err
}

// dbError tags err with ErrDatabase so callers can tell storage failures apart.
func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, common.ErrDatabase, err)
}
