//go:build !nopostgres
// +build !nopostgres

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facetdb/facet/store"
	pgtest "github.com/facetdb/facet/store/postgres/internal/testing"
	"github.com/facetdb/facet/types"
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool, func()) {
	db, _, shutdownFunc := pgtest.SetupPostgres(t)

	s, availableCh, err := openPostgres(db, store.Options{}, nil)
	require.NoError(t, err)
	<-availableCh

	return s, db, func() {
		shutdownFunc()
	}
}

func definePersonSchema(t *testing.T, s *Store) {
	ctx := context.Background()

	_, err := s.DefineAttribute(ctx, store.AttributeDef{
		Ident: "person/name", ValueType: types.TypeText, Cardinality: types.CardinalityOne,
	})
	require.NoError(t, err)
	_, err = s.DefineAttribute(ctx, store.AttributeDef{
		Ident: "person/email", ValueType: types.TypeText, Cardinality: types.CardinalityOne,
		Unique: types.UniqueIdentity,
	})
	require.NoError(t, err)

	_, err = s.DefineView(ctx, store.ViewDef{
		Name:     "persons",
		Required: []string{"person/name", "person/email"},
	})
	require.NoError(t, err)
}

func latestTx(t *testing.T, db *pgxpool.Pool) types.TxID {
	var id int64
	err := db.QueryRow(context.Background(), `SELECT max(id) FROM transactions`).Scan(&id)
	require.NoError(t, err)
	return types.TxID(id)
}

func countPersons(t *testing.T, s *Store, asOf *types.TxID) int {
	rows, err := s.QueryAsOf(context.Background(), asOf, `SELECT COUNT(*) FROM persons`)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var count int
	require.NoError(t, rows.Scan(&count))
	return count
}

func TestBootstrapInspection(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	for ident, want := range map[string]int64{
		"db/ident":            1,
		"db.type/ref":         112,
		"db.cardinality/many": 201,
	} {
		id, err := s.AttrID(ctx, ident)
		require.NoError(t, err, ident)
		assert.Equal(t, types.EntityID(want), id, ident)
	}

	rows, err := db.Query(ctx, `SELECT ident FROM partitions ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var idents []string
	for rows.Next() {
		var ident string
		require.NoError(t, rows.Scan(&ident))
		idents = append(idents, ident)
	}
	assert.Equal(t, []string{"db", "tx", "user"}, idents)

	// Transaction 0 exists and carries all system datoms.
	var count int
	err = db.QueryRow(ctx, `SELECT COUNT(*) FROM datoms WHERE tx = 0`).Scan(&count)
	require.NoError(t, err)
	assert.Greater(t, count, 40)

	// Re-running init on an already bootstrapped database is a no-op.
	ch, err := s.init()
	require.NoError(t, err)
	<-ch
}

func TestUnknownPartition(t *testing.T) {
	s, _, shutdown := setupStore(t)
	defer shutdown()

	_, err := s.AllocateEntity(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnknownPartition), err)
}

func TestAllocatorFirstIDs(t *testing.T) {
	s, _, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	// First id from the user partition is (2 << 48) | 1.
	id, err := s.AllocateEntity(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, types.MakeEntityID(types.PartitionUser, 1), id)

	id2, err := s.AllocateEntity(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, id.Counter()+1, id2.Counter())

	// The db partition continues past the reserved range.
	dbID, err := s.AllocateEntity(ctx, "db")
	require.NoError(t, err)
	assert.Equal(t, types.MakeEntityID(types.PartitionDb, 300), dbID)
}

func TestDefineAttributeProvisionsStorage(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	definePersonSchema(t, s)

	// Empty view selects zero rows.
	assert.Equal(t, 0, countPersons(t, s, nil))

	// The generated relation exists with a typed text column v_typed.
	var dataType string
	err := db.QueryRow(ctx, `
		SELECT data_type FROM information_schema.columns
		WHERE table_name = 'attr_person_name' AND column_name = 'v_typed'`).Scan(&dataType)
	require.NoError(t, err)
	assert.Equal(t, "text", dataType)

	// The check predicate pins a to the attribute id.
	nameID, err := s.AttrID(ctx, "person/name")
	require.NoError(t, err)
	_, err = db.Exec(ctx,
		`INSERT INTO attr_person_name (e, a, v_raw, tx) VALUES ($1, $2, 'x', 0)`,
		int64(types.MakeEntityID(types.PartitionUser, 999)), int64(nameID)+1)
	assert.Error(t, err, "check predicate should reject a mismatched attribute id")

	// Three indexes exist for the child relation.
	var indexes int
	err = db.QueryRow(ctx,
		`SELECT COUNT(*) FROM pg_indexes WHERE tablename = 'attr_person_name'
		 AND indexname IN ('attr_person_name_v', 'attr_person_name_e', 'attr_person_name_tx')`).Scan(&indexes)
	require.NoError(t, err)
	assert.Equal(t, 3, indexes)

	// Unknown enums fail before any table creation.
	_, err = s.DefineAttribute(ctx, store.AttributeDef{
		Ident: "person/bad", ValueType: types.ValueType(99), Cardinality: types.CardinalityOne,
	})
	assert.True(t, errors.Is(err, store.ErrUnknownValueType), err)
}

func TestInsertUpdateAsOf(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	definePersonSchema(t, s)

	var id int64
	err := db.QueryRow(ctx,
		`INSERT INTO persons (name, email) VALUES ('Alice', 'a@x') RETURNING id`).Scan(&id)
	require.NoError(t, err)
	assert.Equal(t, types.PartitionUser, types.EntityID(id).Partition())
	t1 := latestTx(t, db)

	_, err = db.Exec(ctx, `UPDATE persons SET name = 'Alicia' WHERE id = $1`, id)
	require.NoError(t, err)
	t2 := latestTx(t, db)
	require.Greater(t, int64(t2), int64(t1))

	readName := func(asOf *types.TxID) string {
		rows, err := s.QueryAsOf(ctx, asOf, `SELECT name FROM persons WHERE id = $1`, id)
		require.NoError(t, err)
		defer rows.Close()
		require.True(t, rows.Next())
		var name string
		require.NoError(t, rows.Scan(&name))
		return name
	}

	assert.Equal(t, "Alicia", readName(nil))
	assert.Equal(t, "Alice", readName(&t1))
	assert.Equal(t, "Alicia", readName(&t2))

	// A value-unchanged update produces no new datom and no transaction.
	before := latestTx(t, db)
	var datomsBefore int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM datoms`).Scan(&datomsBefore))
	_, err = db.Exec(ctx, `UPDATE persons SET name = 'Alicia' WHERE id = $1`, id)
	require.NoError(t, err)
	var datomsAfter int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM datoms`).Scan(&datomsAfter))
	assert.Equal(t, datomsBefore, datomsAfter)
	assert.Equal(t, before, latestTx(t, db))
}

func TestDeletePreservesHistory(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	definePersonSchema(t, s)

	_, err := db.Exec(ctx, `INSERT INTO persons (name, email) VALUES ('Alice', 'a@x')`)
	require.NoError(t, err)
	t2 := latestTx(t, db)

	_, err = db.Exec(ctx, `DELETE FROM persons`)
	require.NoError(t, err)

	assert.Equal(t, 0, countPersons(t, s, nil))
	assert.Equal(t, 1, countPersons(t, s, &t2))

	// The entity's datoms are all retracted; none is current.
	var count int
	require.NoError(t, db.QueryRow(ctx,
		`SELECT COUNT(*) FROM datoms WHERE e = (SELECT min(e) FROM attr_person_name) AND retracted_by IS NULL`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestOptionalNullProducesNoDatom(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	definePersonSchema(t, s)
	_, err := s.DefineAttribute(ctx, store.AttributeDef{
		Ident: "person/nickname", ValueType: types.TypeText, Cardinality: types.CardinalityOne,
	})
	require.NoError(t, err)
	err = s.UpdateView(ctx, "persons", store.ViewUpdate{Optional: []string{"person/nickname"}})
	require.NoError(t, err)

	var id int64
	err = db.QueryRow(ctx,
		`INSERT INTO persons (name, email, nickname) VALUES ('Bob', 'b@x', NULL) RETURNING id`).Scan(&id)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(ctx,
		`SELECT COUNT(*) FROM attr_person_nickname WHERE e = $1`, id).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestCardinalityMany(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	_, err := s.DefineAttribute(ctx, store.AttributeDef{
		Ident: "person/name", ValueType: types.TypeText, Cardinality: types.CardinalityOne,
	})
	require.NoError(t, err)
	_, err = s.DefineAttribute(ctx, store.AttributeDef{
		Ident: "person/tag", ValueType: types.TypeText, Cardinality: types.CardinalityMany,
	})
	require.NoError(t, err)
	_, err = s.DefineView(ctx, store.ViewDef{
		Name:     "tagged_persons",
		Required: []string{"person/name", "person/tag"},
	})
	require.NoError(t, err)

	var id int64
	err = db.QueryRow(ctx,
		`INSERT INTO tagged_persons (name, tag) VALUES ('Carol', ARRAY['red', 'blue']) RETURNING id`).Scan(&id)
	require.NoError(t, err)

	var tags []string
	err = db.QueryRow(ctx, `SELECT tag FROM tagged_persons WHERE id = $1`, id).Scan(&tags)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"red", "blue"}, tags)

	// Updating the set retracts and reasserts.
	_, err = db.Exec(ctx, `UPDATE tagged_persons SET tag = ARRAY['green'] WHERE id = $1`, id)
	require.NoError(t, err)
	err = db.QueryRow(ctx, `SELECT tag FROM tagged_persons WHERE id = $1`, id).Scan(&tags)
	require.NoError(t, err)
	assert.Equal(t, []string{"green"}, tags)
}

func TestConcurrentAsOfQueries(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	definePersonSchema(t, s)

	_, err := db.Exec(ctx, `INSERT INTO persons (name, email) VALUES ('Alice', 'a@x')`)
	require.NoError(t, err)
	t1 := latestTx(t, db)
	_, err = db.Exec(ctx, `INSERT INTO persons (name, email) VALUES ('Bob', 'b@x')`)
	require.NoError(t, err)
	t2 := latestTx(t, db)

	var wg sync.WaitGroup
	results := make([]int, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asOf := t1
			if i%2 == 0 {
				asOf = t2
			}
			rows, err := s.QueryAsOf(ctx, &asOf, `SELECT COUNT(*) FROM persons`)
			if err != nil {
				return
			}
			defer rows.Close()
			if rows.Next() {
				rows.Scan(&results[i])
			}
		}(i)
	}
	wg.Wait()

	for i, count := range results {
		if i%2 == 0 {
			assert.Equal(t, 2, count, i)
		} else {
			assert.Equal(t, 1, count, i)
		}
	}

	// Session state is untouched.
	asOf, err := s.GetAsOf(ctx)
	require.NoError(t, err)
	assert.Nil(t, asOf)
}

func TestWithAsOfRestores(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	definePersonSchema(t, s)
	_, err := db.Exec(ctx, `INSERT INTO persons (name, email) VALUES ('Alice', 'a@x')`)
	require.NoError(t, err)
	t1 := latestTx(t, db)
	_, err = db.Exec(ctx, `DELETE FROM persons`)
	require.NoError(t, err)

	err = s.WithAsOf(ctx, t1, func(ctx context.Context) error {
		// Query, unlike QueryAsOf, follows the session as-of point.
		rows, err := s.Query(ctx, `SELECT COUNT(*) FROM persons`)
		if err != nil {
			return err
		}
		defer rows.Close()
		var got int
		if rows.Next() {
			if err := rows.Scan(&got); err != nil {
				return err
			}
		}
		if got != 1 {
			return fmt.Errorf("expected 1 row as of %d, got %d", t1, got)
		}
		return nil
	})
	require.NoError(t, err)

	asOf, err := s.GetAsOf(ctx)
	require.NoError(t, err)
	assert.Nil(t, asOf)

	// Restored on the error path too.
	boom := errors.New("boom")
	err = s.WithAsOf(ctx, t1, func(ctx context.Context) error { return boom })
	assert.Equal(t, boom, err)
	asOf, err = s.GetAsOf(ctx)
	require.NoError(t, err)
	assert.Nil(t, asOf)

	// Unset as-of means the dispatching view equals the current view.
	assert.Equal(t, 0, countPersons(t, s, nil))
}

func TestViewRegenerationIdempotent(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	definePersonSchema(t, s)

	readDefs := func() map[string]string {
		defs := make(map[string]string)
		for _, v := range []string{"persons", "persons_current", "persons_history"} {
			var def string
			err := db.QueryRow(ctx, `SELECT pg_get_viewdef($1::regclass)`, v).Scan(&def)
			require.NoError(t, err)
			defs[v] = def
		}
		return defs
	}

	before := readDefs()
	require.NoError(t, s.RegenerateViews(ctx))
	assert.Equal(t, before, readDefs())
}

func TestDeleteViewKeepsFacts(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	definePersonSchema(t, s)
	_, err := db.Exec(ctx, `INSERT INTO persons (name, email) VALUES ('Alice', 'a@x')`)
	require.NoError(t, err)

	require.NoError(t, s.DeleteView(ctx, "persons"))

	// The generated views are gone.
	var count int
	err = db.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.views WHERE table_name LIKE 'persons%'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The datoms are untouched; a new view over the same attributes
	// sees them again.
	_, err = s.DefineView(ctx, store.ViewDef{Name: "people", Required: []string{"person/name"}})
	require.NoError(t, err)
	rows, err := s.Query(ctx, `SELECT COUNT(*) FROM people`)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestViewWithNoRequiredAttributesRejected(t *testing.T) {
	s, _, shutdown := setupStore(t)
	defer shutdown()

	_, err := s.DefineView(context.Background(), store.ViewDef{Name: "empty_view"})
	assert.True(t, errors.Is(err, store.ErrViewHasNoRequiredAttributes), err)
}

func TestViewUnknownAttribute(t *testing.T) {
	s, _, shutdown := setupStore(t)
	defer shutdown()

	_, err := s.DefineView(context.Background(), store.ViewDef{
		Name: "ghosts", Required: []string{"ghost/name"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnknownAttribute), err)
}

func TestAnnotateTransaction(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	tx, err := s.NewTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AnnotateTransaction(ctx, tx, "ops", "backfill"))

	var author string
	err = db.QueryRow(ctx,
		`SELECT v_typed FROM attr_db_tx_author WHERE e = $1`, int64(tx)).Scan(&author)
	require.NoError(t, err)
	assert.Equal(t, "ops", author)
}

func TestEntityDatoms(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	definePersonSchema(t, s)
	var id int64
	err := db.QueryRow(ctx,
		`INSERT INTO persons (name, email) VALUES ('Alice', 'a@x') RETURNING id`).Scan(&id)
	require.NoError(t, err)
	t1 := latestTx(t, db)
	_, err = db.Exec(ctx, `UPDATE persons SET name = 'Alicia' WHERE id = $1`, id)
	require.NoError(t, err)

	// Current state: one name, one email.
	datoms, err := s.EntityDatoms(ctx, types.EntityID(id))
	require.NoError(t, err)
	require.Len(t, datoms, 2)
	var raws []string
	for _, d := range datoms {
		assert.Equal(t, types.EntityID(id), d.E)
		raws = append(raws, d.VRaw)
	}
	assert.ElementsMatch(t, []string{"Alicia", "a@x"}, raws)

	// The session as-of threads through.
	require.NoError(t, s.SetAsOf(ctx, &t1))
	datoms, err = s.EntityDatoms(ctx, types.EntityID(id))
	require.NoError(t, err)
	raws = nil
	for _, d := range datoms {
		raws = append(raws, d.VRaw)
	}
	assert.ElementsMatch(t, []string{"Alice", "a@x"}, raws)
	require.NoError(t, s.SetAsOf(ctx, nil))
}

func TestCardinalityOneInvariant(t *testing.T) {
	s, db, shutdown := setupStore(t)
	defer shutdown()
	ctx := context.Background()

	definePersonSchema(t, s)
	_, err := db.Exec(ctx, `INSERT INTO persons (name, email) VALUES ('Alice', 'a@x')`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `UPDATE persons SET name = 'Alicia'`)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `UPDATE persons SET name = 'Alyssa'`)
	require.NoError(t, err)

	// At most one current datom per (e, a) for a cardinality-one attribute.
	var maxCurrent int
	err = db.QueryRow(ctx, `
		SELECT coalesce(max(c), 0) FROM (
			SELECT COUNT(*) AS c FROM attr_person_name
			WHERE retracted_by IS NULL GROUP BY e, a
		) sub`).Scan(&maxCurrent)
	require.NoError(t, err)
	assert.Equal(t, 1, maxCurrent)

	// retracted_by always references a strictly later transaction.
	var bad int
	err = db.QueryRow(ctx,
		`SELECT COUNT(*) FROM datoms WHERE retracted_by IS NOT NULL AND retracted_by <= tx`).Scan(&bad)
	require.NoError(t, err)
	assert.Equal(t, 0, bad)
}
