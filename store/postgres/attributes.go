//go:build !nopostgres
// +build !nopostgres

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/facetdb/facet/store"
	pgutil "github.com/facetdb/facet/store/postgres/internal/util"
	"github.com/facetdb/facet/types"
)

// DefineAttribute is part of store.Store. The declaration is an
// insertion into the defined_attributes admin view; its trigger writes
// the definition datoms and provisions the typed child relation plus
// indexes in the same transaction.
func (s *Store) DefineAttribute(ctx context.Context, def store.AttributeDef) (types.EntityID, error) {
	if def.ValueType < 0 || def.ValueType >= types.NumValueTypes {
		return 0, fmt.Errorf("DefineAttribute(%s): %w", def.Ident, store.ErrUnknownValueType)
	}
	if def.Cardinality != types.CardinalityOne && def.Cardinality != types.CardinalityMany {
		return 0, fmt.Errorf("DefineAttribute(%s): %w", def.Ident, store.ErrUnknownCardinality)
	}

	var uniqueArg, docArg interface{}
	if def.Unique != types.UniqueNone {
		uniqueArg = def.Unique.String()
	}
	if def.Doc != "" {
		docArg = def.Doc
	}

	var id int64
	err := s.txWithRetry(serializable, func(tx pgx.Tx) error {
		defer tx.Rollback(context.Background())

		baseline, err := s.datomMetricsBaseline(ctx, tx)
		if err != nil {
			return err
		}
		row := tx.QueryRow(ctx,
			`INSERT INTO defined_attributes (ident, value_type, cardinality, "unique", doc)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			def.Ident, def.ValueType.String(), def.Cardinality.String(), uniqueArg, docArg)
		if err := row.Scan(&id); err != nil {
			return pgutil.ClassifyError(err)
		}
		s.recordDatomMetrics(ctx, tx, baseline)
		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("DefineAttribute(%s) err: %w", def.Ident, err)
	}

	s.log.WithFields(map[string]interface{}{
		"ident": def.Ident, "id": id,
	}).Info("attribute defined")
	return types.EntityID(id), nil
}

// Attributes is part of store.Store.
func (s *Store) Attributes(ctx context.Context) ([]store.Attribute, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, ident, value_type, cardinality, coalesce("unique", ''), coalesce(doc, '')
		 FROM attributes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("Attributes() err: %w", err)
	}
	defer rows.Close()

	var out []store.Attribute
	for rows.Next() {
		var (
			id                        int64
			ident, vt, card, uni, doc string
		)
		if err := rows.Scan(&id, &ident, &vt, &card, &uni, &doc); err != nil {
			return nil, fmt.Errorf("Attributes() scan err: %w", err)
		}
		attr := store.Attribute{ID: types.EntityID(id)}
		attr.Ident = ident
		attr.Doc = doc
		var ok bool
		if attr.ValueType, ok = types.ValueTypeFromName(vt); !ok {
			return nil, fmt.Errorf("Attributes() %s: bad value type %q: %w", ident, vt, store.ErrUnknownValueType)
		}
		if attr.Cardinality, ok = types.CardinalityFromName(card); !ok {
			return nil, fmt.Errorf("Attributes() %s: bad cardinality %q: %w", ident, card, store.ErrUnknownCardinality)
		}
		if attr.Unique, ok = types.UniqueFromName(uni); !ok {
			return nil, fmt.Errorf("Attributes() %s: bad uniqueness %q", ident, uni)
		}
		out = append(out, attr)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("Attributes() rows err: %w", rows.Err())
	}
	return out, nil
}
