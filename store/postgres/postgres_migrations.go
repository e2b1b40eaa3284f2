//go:build !nopostgres
// +build !nopostgres

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/facetdb/facet/store"
	"github.com/facetdb/facet/store/migration"
	"github.com/facetdb/facet/store/postgres/internal/schema"
	pgutil "github.com/facetdb/facet/store/postgres/internal/util"
)

// MigrationState is metadata used by the postgres migrations.
type MigrationState struct {
	NextMigration int `json:"next"`
}

// A migration function should take care of writing back to the
// metastate migration row.
type postgresMigrationFunc func(*Store, *MigrationState) error

type migrationStruct struct {
	migrate postgresMigrationFunc

	// Read-only connections must not report ready while this
	// migration is outstanding.
	blocking bool

	// Description of the migration.
	description string
}

// The upgrade path from every released schema. The bootstrap script is
// idempotent, so a fresh database starts past the end of this list.
var migrations = []migrationStruct{}

func wrapPostgresHandler(handler postgresMigrationFunc, s *Store, state *MigrationState) migration.Handler {
	return func() error {
		return handler(s, state)
	}
}

// migrationStateBlocked returns true if a migration is required for
// running in read only mode.
func migrationStateBlocked(state MigrationState) bool {
	for i := state.NextMigration; i < len(migrations); i++ {
		if migrations[i].blocking {
			return true
		}
	}
	return false
}

// needsMigration returns true if there is an incomplete migration.
func needsMigration(state MigrationState) bool {
	return state.NextMigration < len(migrations)
}

func (s *Store) getMigrationState(ctx context.Context, tx pgx.Tx) (MigrationState, error) {
	migrationStateJSON, err := pgutil.GetMetastate(ctx, s.db, tx, schema.MigrationMetastateKey)
	if errors.Is(err, store.ErrNotInitialized) {
		return MigrationState{}, nil
	}
	if err != nil {
		return MigrationState{}, fmt.Errorf("getMigrationState() err: %w", err)
	}

	var state MigrationState
	if err := json.Unmarshal([]byte(migrationStateJSON), &state); err != nil {
		return MigrationState{}, fmt.Errorf("getMigrationState() decode err: %w", err)
	}
	return state, nil
}

func (s *Store) setMigrationState(ctx context.Context, tx pgx.Tx, state *MigrationState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("setMigrationState() encode err: %w", err)
	}
	if err := pgutil.SetMetastate(ctx, s.db, tx, schema.MigrationMetastateKey, string(encoded)); err != nil {
		return fmt.Errorf("setMigrationState() err: %w", err)
	}
	return nil
}

// runAvailableMigrations runs every pending migration task. The
// returned channel closes once the store is fully migrated.
func (s *Store) runAvailableMigrations() (chan struct{}, error) {
	ctx := context.Background()

	state, err := s.getMigrationState(ctx, nil)
	if err != nil {
		return nil, err
	}

	ch := make(chan struct{})
	if !needsMigration(state) {
		if err := s.setMigrationState(ctx, nil, &state); err != nil {
			return nil, err
		}
		close(ch)
		return ch, nil
	}

	var tasks []migration.Task
	for i := state.NextMigration; i < len(migrations); i++ {
		tasks = append(tasks, migration.Task{
			MigrationID: i,
			Handler:     wrapPostgresHandler(migrations[i].migrate, s, &state),
			Description: migrations[i].description,
		})
	}

	s.migration, err = migration.MakeMigration(tasks)
	if err != nil {
		return nil, err
	}

	go func() {
		s.migration.Start()
		if mstate := s.migration.GetStatus(); mstate.Err != nil {
			s.log.WithError(mstate.Err).Error("migration failed")
			return
		}
		close(ch)
	}()
	return ch, nil
}
