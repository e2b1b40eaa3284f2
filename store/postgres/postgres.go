// You can build without postgres by `go build --tags nopostgres` but it's on by default
//go:build !nopostgres
// +build !nopostgres

package postgres

//go:generate go run github.com/facetdb/facet/cmd/texttosource schema SetupPostgresSql internal/schema/setup_postgres.sql internal/schema/setup_postgres_sql.go
//go:generate go run github.com/facetdb/facet/cmd/texttosource schema SetupViewsSql internal/schema/setup_views.sql internal/schema/setup_views_sql.go

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/facetdb/facet/store"
	"github.com/facetdb/facet/store/migration"
	"github.com/facetdb/facet/store/postgres/internal/codec"
	"github.com/facetdb/facet/store/postgres/internal/schema"
	pgutil "github.com/facetdb/facet/store/postgres/internal/util"
	"github.com/facetdb/facet/types"
	"github.com/facetdb/facet/util/metrics"
)

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable} // be a real ACID database
var readonlyRepeatableRead = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// asOfSetting is the session variable read by visible() and
// facet_get_as_of() inside the host engine.
const asOfSetting = "facet.as_of_tx"

// OpenPostgres is available for creating test instances of postgres.Store.
// Returns an error object and a channel that gets closed when blocking
// migrations finish running successfully.
func OpenPostgres(connection string, opts store.Options, logger *log.Logger) (*Store, chan struct{}, error) {
	postgresConfig, err := pgxpool.ParseConfig(connection)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't parse config: %v", err)
	}

	if opts.MaxConn != 0 {
		postgresConfig.MaxConns = int32(opts.MaxConn)
	}

	db, err := pgxpool.ConnectConfig(context.Background(), postgresConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %v", err)
	}

	return openPostgres(db, opts, logger)
}

// Allow tests to inject a DB.
func openPostgres(db *pgxpool.Pool, opts store.Options, logger *log.Logger) (*Store, chan struct{}, error) {
	s := &Store{
		readonly: opts.ReadOnly,
		log:      logger,
		db:       db,
	}

	if s.log == nil {
		s.log = log.New()
		s.log.SetFormatter(&log.JSONFormatter{})
		s.log.SetOutput(os.Stdout)
		s.log.SetLevel(log.InfoLevel)
	}

	var ch chan struct{}
	if opts.ReadOnly {
		migrationState, err := s.getMigrationState(context.Background(), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("openPostgres() err: %w", err)
		}

		ch = make(chan struct{})
		if !migrationStateBlocked(migrationState) {
			close(ch)
		}
	} else {
		var err error
		ch, err = s.init()
		if err != nil {
			return nil, nil, fmt.Errorf("initializing postgres: %v", err)
		}
	}

	return s, ch, nil
}

// Store is a store.Store implementation backed by PostgreSQL. Datoms
// live in per-attribute child relations under the datoms parent;
// everything else is derived.
type Store struct {
	readonly bool
	log      *log.Logger

	db        *pgxpool.Pool
	migration *migration.Migration

	// Session as-of point, threaded through every read. Connection
	// pooling makes a server-side session variable unreliable, so the
	// "session" is this Store value.
	asOfMu sync.Mutex
	asOf   *types.TxID
}

// Close is part of store.Store.
func (s *Store) Close() {
	s.db.Close()
}

// txWithRetry is a helper function that retries the function `f` in
// case the database transaction in it fails due to a serialization
// error.
func (s *Store) txWithRetry(opts pgx.TxOptions, f func(pgx.Tx) error) error {
	return pgutil.TxWithRetry(s.db, opts, f, s.log)
}

func (s *Store) isSetup() (bool, error) {
	query := `SELECT 0 FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = 'datoms'`
	row := s.db.QueryRow(context.Background(), query)

	var tmp int
	err := row.Scan(&tmp)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("isSetup() err: %w", err)
	}
	return true, nil
}

// Returns an error object and a channel that gets closed when blocking
// migrations finish running successfully.
func (s *Store) init() (chan struct{}, error) {
	setup, err := s.isSetup()
	if err != nil {
		return nil, fmt.Errorf("init() err: %w", err)
	}

	if !setup {
		// new database, run the full bootstrap
		err = s.txWithRetry(serializable, func(tx pgx.Tx) error {
			if _, err := tx.Exec(context.Background(), schema.Setup()); err != nil {
				return err
			}
			state := MigrationState{NextMigration: len(migrations)}
			if err := s.setMigrationState(context.Background(), tx, &state); err != nil {
				return err
			}
			return tx.Commit(context.Background())
		})
		if err != nil {
			return nil, fmt.Errorf("init() bootstrap err: %w", err)
		}
		s.log.Info("bootstrap schema created")
	}

	return s.runAvailableMigrations()
}

// Health is part of store.Store.
func (s *Store) Health(ctx context.Context) (store.State, error) {
	setup, err := s.isSetup()
	if err != nil {
		return store.State{}, err
	}
	if !setup {
		return store.State{}, store.ErrNotInitialized
	}

	state, err := s.getMigrationState(ctx, nil)
	if err != nil {
		return store.State{}, err
	}

	result := store.State{SchemaVersion: state.NextMigration}
	if s.migration != nil {
		mstate := s.migration.GetStatus()
		result.MigrationStatus = mstate.Status
		result.MigrationRunning = mstate.Running
		result.Err = mstate.Err
	}
	return result, nil
}

// AllocateEntity is part of store.Store. Allocation is atomic per call
// and serialises on the partitions row.
func (s *Store) AllocateEntity(ctx context.Context, partition string) (types.EntityID, error) {
	var id int64
	err := s.db.QueryRow(ctx, `SELECT facet_allocate_entity($1)`, partition).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("AllocateEntity(%s) err: %w", partition, pgutil.ClassifyError(err))
	}
	metrics.EntitiesAllocated.Inc()
	return types.EntityID(id), nil
}

// NewTransaction is part of store.Store.
func (s *Store) NewTransaction(ctx context.Context) (types.TxID, error) {
	var id int64
	err := s.db.QueryRow(ctx, `SELECT facet_new_transaction()`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("NewTransaction() err: %w", pgutil.ClassifyError(err))
	}
	metrics.TransactionsAllocated.Inc()
	return types.TxID(id), nil
}

// AttrID is part of store.Store.
func (s *Store) AttrID(ctx context.Context, ident string) (types.EntityID, error) {
	var id int64
	err := s.db.QueryRow(ctx, `SELECT facet_attr_id($1)`, ident).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("AttrID(%s) err: %w", ident, pgutil.ClassifyError(err))
	}
	return types.EntityID(id), nil
}

// datomMetricsBaseline notes the last allocated transaction id before
// a write, so the datoms the write asserts and retracts can be
// attributed to the write-volume counters.
func (s *Store) datomMetricsBaseline(ctx context.Context, tx pgx.Tx) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `SELECT coalesce(max(id), 0) FROM transactions`).Scan(&id)
	return id, err
}

// recordDatomMetrics counts the datoms asserted and retracted past the
// baseline. Within the write's snapshot only its own rows can carry a
// newer transaction id.
func (s *Store) recordDatomMetrics(ctx context.Context, tx pgx.Tx, baseline int64) {
	var asserted, retracted int64
	err := tx.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM datoms WHERE tx > $1),
		        (SELECT COUNT(*) FROM datoms WHERE retracted_by > $1)`,
		baseline).Scan(&asserted, &retracted)
	if err != nil {
		s.log.WithError(err).Warn("datom metrics not recorded")
		return
	}
	metrics.DatomsAsserted.Add(float64(asserted))
	metrics.DatomsRetracted.Add(float64(retracted))
}

// EntityDatoms reads every datom asserted about one entity across all
// attribute relations, honoring the session as-of point. Fans out
// through the datoms parent relation.
func (s *Store) EntityDatoms(ctx context.Context, e types.EntityID) ([]types.Datom, error) {
	asOf, err := s.GetAsOf(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT e, a, v_raw, tx, retracted_by FROM datoms WHERE e = $1 ORDER BY a, tx`, int64(e))
	if err != nil {
		return nil, fmt.Errorf("EntityDatoms(%d) err: %w", e, err)
	}
	defer rows.Close()

	var out []types.Datom
	for rows.Next() {
		var d types.Datom
		var retractedBy *int64
		if err := rows.Scan(&d.E, &d.A, &d.VRaw, &d.Tx, &retractedBy); err != nil {
			return nil, fmt.Errorf("EntityDatoms(%d) scan err: %w", e, err)
		}
		if retractedBy != nil {
			r := types.TxID(*retractedBy)
			d.RetractedBy = &r
		}
		if d.VisibleAt(asOf) {
			out = append(out, d)
		}
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("EntityDatoms(%d) rows err: %w", e, rows.Err())
	}
	return out, nil
}

// AnnotateTransaction records facts about a transaction entity itself
// (author and reason), so provenance travels with the history.
func (s *Store) AnnotateTransaction(ctx context.Context, tx types.TxID, author, reason string) error {
	return s.txWithRetry(serializable, func(dbtx pgx.Tx) error {
		defer dbtx.Rollback(context.Background())

		for _, fact := range []struct {
			attr  types.EntityID
			table string
			value string
		}{
			{schema.AttrTxAuthor, "attr_db_tx_author", author},
			{schema.AttrTxReason, "attr_db_tx_reason", reason},
		} {
			if fact.value == "" {
				continue
			}
			raw, err := codec.Encode(types.TypeText, fact.value)
			if err != nil {
				return err
			}
			query := fmt.Sprintf(
				`INSERT INTO %s (e, a, v_raw, tx) VALUES ($1, $2, $3, $4)`, fact.table)
			ct, err := dbtx.Exec(ctx, query, int64(tx), int64(fact.attr), raw, int64(tx))
			if err != nil {
				return fmt.Errorf("AnnotateTransaction() err: %w", pgutil.ClassifyError(err))
			}
			// These datoms carry the annotated transaction's own id, so
			// they are counted off the command tag rather than a
			// transaction-id baseline.
			metrics.DatomsAsserted.Add(float64(ct.RowsAffected()))
		}
		return dbtx.Commit(ctx)
	})
}

// Query is part of store.Store. When a session as-of point is set, the
// query is transparently routed through the same transaction-local
// pinning used by QueryAsOf.
func (s *Store) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	s.asOfMu.Lock()
	asOf := s.asOf
	s.asOfMu.Unlock()

	if asOf != nil {
		return s.QueryAsOf(ctx, asOf, sql, args...)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("Query() err: %w", pgutil.ClassifyError(err))
	}
	return rows, nil
}

// QueryAsOf is part of store.Store. The as-of point is set
// transaction-locally, so concurrent queries on other connections are
// unaffected.
func (s *Store) QueryAsOf(ctx context.Context, asOf *types.TxID, sql string, args ...interface{}) (pgx.Rows, error) {
	tx, err := s.db.BeginTx(ctx, readonlyRepeatableRead)
	if err != nil {
		return nil, fmt.Errorf("QueryAsOf() begin err: %w", err)
	}

	value := ""
	if asOf != nil {
		value = strconv.FormatInt(int64(*asOf), 10)
	}
	if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, asOfSetting, value); err != nil {
		tx.Rollback(ctx)
		return nil, fmt.Errorf("QueryAsOf() set err: %w", err)
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		tx.Rollback(ctx)
		return nil, fmt.Errorf("QueryAsOf() err: %w", pgutil.ClassifyError(err))
	}
	return &txRows{Rows: rows, tx: tx}, nil
}

// txRows keeps the pinning transaction open until the caller finishes
// reading.
type txRows struct {
	pgx.Rows
	tx pgx.Tx
}

func (r *txRows) Close() {
	r.Rows.Close()
	// Read-only transaction; commit just releases it.
	r.tx.Commit(context.Background())
}

// SetAsOf is part of store.Store.
func (s *Store) SetAsOf(ctx context.Context, asOf *types.TxID) error {
	s.asOfMu.Lock()
	defer s.asOfMu.Unlock()
	if asOf == nil {
		s.asOf = nil
	} else {
		v := *asOf
		s.asOf = &v
	}
	return nil
}

// GetAsOf is part of store.Store.
func (s *Store) GetAsOf(ctx context.Context) (*types.TxID, error) {
	s.asOfMu.Lock()
	defer s.asOfMu.Unlock()
	if s.asOf == nil {
		return nil, nil
	}
	v := *s.asOf
	return &v, nil
}

// WithAsOf is part of store.Store. The previous as-of point is
// restored on both success and error paths.
func (s *Store) WithAsOf(ctx context.Context, asOf types.TxID, f func(context.Context) error) error {
	prev, err := s.GetAsOf(ctx)
	if err != nil {
		return err
	}
	if err := s.SetAsOf(ctx, &asOf); err != nil {
		return err
	}
	defer s.SetAsOf(ctx, prev)
	return f(ctx)
}
