// Package util carries the pgx helpers shared by the postgres store:
// serialization-failure retry, metastate access, and mapping of host
// error codes onto the store's error kinds.
package util

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/facetdb/facet/store"
)

// SQLSTATE codes raised by the bootstrap functions. Kept in sync with
// the RAISE statements in internal/schema.
const (
	ErrcodeUnknownPartition   = "FA001"
	ErrcodeUnknownAttribute   = "FA002"
	ErrcodeUnknownValueType   = "FA003"
	ErrcodeUnknownCardinality = "FA004"
	ErrcodeNoRequiredAttrs    = "FA005"
)

// TxWithRetry is a helper function that retries the function `f` in
// case the database transaction in it fails due to a serialization
// error. `f` is provided a transaction created using `opts`. `f` takes
// ownership of the transaction and must either call Rollback() or
// Commit(). In the second case, `f` must return an error which contains
// the error returned by Commit(). The easiest way is to just return the
// result of Commit().
func TxWithRetry(db *pgxpool.Pool, opts pgx.TxOptions, f func(pgx.Tx) error, log *log.Logger) error {
	count := 0
	for {
		tx, err := db.BeginTx(context.Background(), opts)
		if err != nil {
			return err
		}

		err = f(tx)

		// If not serialization error.
		var pgerr *pgconn.PgError
		if !errors.As(err, &pgerr) || (pgerr.Code != pgerrcode.SerializationFailure) {
			if (count > 0) && (log != nil) {
				log.Printf("transaction was retried %d times", count)
			}
			return err
		}

		count++
		if log != nil {
			log.Printf("retrying transaction, count: %d", count)
		}
	}
}

// ClassifyError maps a host error onto the store's error kinds. The
// original error stays in the chain; anything unrecognised is returned
// unchanged as a host engine failure.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgerr *pgconn.PgError
	if !errors.As(err, &pgerr) {
		return err
	}
	var kind error
	switch {
	case pgerr.Code == ErrcodeUnknownPartition:
		kind = store.ErrUnknownPartition
	case pgerr.Code == ErrcodeUnknownAttribute:
		kind = store.ErrUnknownAttribute
	case pgerr.Code == ErrcodeUnknownValueType:
		kind = store.ErrUnknownValueType
	case pgerr.Code == ErrcodeUnknownCardinality:
		kind = store.ErrUnknownCardinality
	case pgerr.Code == ErrcodeNoRequiredAttrs:
		kind = store.ErrViewHasNoRequiredAttributes
	case pgerrcode.IsDataException(pgerr.Code):
		// Bad casts inside facet_encode or the generated columns.
		kind = store.ErrValueCoercion
	default:
		return err
	}
	return fmt.Errorf("%s: %v: %w", pgerr.Code, err, kind)
}

// GetMetastate returns `store.ErrNotInitialized` if the key is absent.
// If `tx` is nil, it uses a normal query.
func GetMetastate(ctx context.Context, db *pgxpool.Pool, tx pgx.Tx, key string) (string, error) {
	query := `SELECT v FROM metastate WHERE k = $1`

	var row pgx.Row
	if tx == nil {
		row = db.QueryRow(ctx, query, key)
	} else {
		row = tx.QueryRow(ctx, query, key)
	}

	var value string
	err := row.Scan(&value)
	if err == pgx.ErrNoRows {
		return "", store.ErrNotInitialized
	}
	if err != nil {
		return "", fmt.Errorf("getMetastate() err: %w", err)
	}

	return value, nil
}

// SetMetastate upserts the value under the key. If `tx` is nil, it
// uses a normal query.
func SetMetastate(ctx context.Context, db *pgxpool.Pool, tx pgx.Tx, key, jsonStrValue string) error {
	query := `INSERT INTO metastate (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`

	var err error
	if tx == nil {
		_, err = db.Exec(ctx, query, key, jsonStrValue)
	} else {
		_, err = tx.Exec(ctx, query, key, jsonStrValue)
	}
	if err != nil {
		return fmt.Errorf("setMetastate() err: %w", err)
	}

	return nil
}
