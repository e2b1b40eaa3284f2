//go:build !nopostgres
// +build !nopostgres

package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v4"

	"github.com/facetdb/facet/store"
	"github.com/facetdb/facet/store/postgres/internal/sqlgen"
	pgutil "github.com/facetdb/facet/store/postgres/internal/util"
	"github.com/facetdb/facet/types"
	"github.com/facetdb/facet/util/metrics"
)

// View names end up interpolated into DDL, so they are restricted to
// plain lowercase identifiers.
var viewNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func validateViewName(name string) error {
	if !viewNamePattern.MatchString(name) {
		return fmt.Errorf("invalid view name %q", name)
	}
	return nil
}

// DefineView is part of store.Store. The definition row goes through
// the defined_views admin view (datoms), then the three derived SQL
// views and their triggers are generated in the same transaction.
func (s *Store) DefineView(ctx context.Context, def store.ViewDef) (types.EntityID, error) {
	if len(def.Required) == 0 {
		return 0, fmt.Errorf("DefineView(%s): %w", def.Name, store.ErrViewHasNoRequiredAttributes)
	}
	if err := validateViewName(def.Name); err != nil {
		return 0, err
	}

	var id int64
	err := s.txWithRetry(serializable, func(tx pgx.Tx) error {
		defer tx.Rollback(context.Background())

		baseline, err := s.datomMetricsBaseline(ctx, tx)
		if err != nil {
			return err
		}
		var optional, doc interface{}
		if len(def.Optional) > 0 {
			optional = def.Optional
		}
		if def.Doc != "" {
			doc = def.Doc
		}
		row := tx.QueryRow(ctx,
			`INSERT INTO defined_views (name, required_attrs, optional_attrs, doc)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			def.Name, def.Required, optional, doc)
		if err := row.Scan(&id); err != nil {
			return pgutil.ClassifyError(err)
		}
		if err := s.regenerateView(ctx, tx, def.Name); err != nil {
			return err
		}
		s.recordDatomMetrics(ctx, tx, baseline)
		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("DefineView(%s) err: %w", def.Name, err)
	}
	return types.EntityID(id), nil
}

// UpdateView is part of store.Store. Unset fields keep their current
// value; a rename also drops the previously generated views.
func (s *Store) UpdateView(ctx context.Context, name string, upd store.ViewUpdate) error {
	newName := name
	if upd.Name != "" {
		newName = upd.Name
	}
	if err := validateViewName(newName); err != nil {
		return err
	}

	err := s.txWithRetry(serializable, func(tx pgx.Tx) error {
		defer tx.Rollback(context.Background())

		baseline, err := s.datomMetricsBaseline(ctx, tx)
		if err != nil {
			return err
		}
		var (
			id       int64
			curName  string
			curDoc   string
			req, opt []string
		)
		row := tx.QueryRow(ctx,
			`SELECT id, name, required_attrs, optional_attrs, coalesce(doc, '')
			 FROM defined_views WHERE name = $1`, name)
		if err := row.Scan(&id, &curName, &req, &opt, &curDoc); err != nil {
			if err == pgx.ErrNoRows {
				return fmt.Errorf("view %q is not defined", name)
			}
			return err
		}

		if upd.Required != nil {
			req = upd.Required
		}
		if upd.Optional != nil {
			opt = upd.Optional
		}
		if upd.Doc != nil {
			curDoc = *upd.Doc
		}
		if len(req) == 0 {
			return store.ErrViewHasNoRequiredAttributes
		}

		var optional, doc interface{}
		if len(opt) > 0 {
			optional = opt
		}
		if curDoc != "" {
			doc = curDoc
		}
		_, err = tx.Exec(ctx,
			`UPDATE defined_views SET name = $2, required_attrs = $3, optional_attrs = $4, doc = $5
			 WHERE id = $1`,
			id, newName, req, optional, doc)
		if err != nil {
			return pgutil.ClassifyError(err)
		}

		if newName != name {
			for _, stmt := range sqlgen.DropStatements(name) {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					return pgutil.ClassifyError(err)
				}
			}
		}
		if err := s.regenerateView(ctx, tx, newName); err != nil {
			return err
		}
		s.recordDatomMetrics(ctx, tx, baseline)
		return tx.Commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("UpdateView(%s) err: %w", name, err)
	}
	return nil
}

// DeleteView is part of store.Store. The definition datoms are
// retracted, not deleted; only the generated SQL views are dropped.
func (s *Store) DeleteView(ctx context.Context, name string) error {
	err := s.txWithRetry(serializable, func(tx pgx.Tx) error {
		defer tx.Rollback(context.Background())

		baseline, err := s.datomMetricsBaseline(ctx, tx)
		if err != nil {
			return err
		}
		var id int64
		row := tx.QueryRow(ctx, `SELECT id FROM defined_views WHERE name = $1`, name)
		if err := row.Scan(&id); err != nil {
			if err == pgx.ErrNoRows {
				return fmt.Errorf("view %q is not defined", name)
			}
			return err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM defined_views WHERE name = $1`, name); err != nil {
			return pgutil.ClassifyError(err)
		}
		for _, stmt := range sqlgen.DropStatements(name) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return pgutil.ClassifyError(err)
			}
		}
		s.recordDatomMetrics(ctx, tx, baseline)
		return tx.Commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("DeleteView(%s) err: %w", name, err)
	}
	return nil
}

// Views is part of store.Store.
func (s *Store) Views(ctx context.Context) ([]store.View, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, required_attrs, optional_attrs, coalesce(doc, '')
		 FROM defined_views ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("Views() err: %w", err)
	}
	defer rows.Close()

	var out []store.View
	for rows.Next() {
		var v store.View
		var id int64
		if err := rows.Scan(&id, &v.Name, &v.Required, &v.Optional, &v.Doc); err != nil {
			return nil, fmt.Errorf("Views() scan err: %w", err)
		}
		v.ID = types.EntityID(id)
		out = append(out, v)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("Views() rows err: %w", rows.Err())
	}
	return out, nil
}

// RegenerateViews is part of store.Store. Used after restores and
// schema migrations; regeneration is idempotent.
func (s *Store) RegenerateViews(ctx context.Context) error {
	err := s.txWithRetry(serializable, func(tx pgx.Tx) error {
		defer tx.Rollback(context.Background())

		rows, err := tx.Query(ctx, `SELECT name FROM views ORDER BY name`)
		if err != nil {
			return err
		}
		var names []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			names = append(names, name)
		}
		rows.Close()
		if rows.Err() != nil {
			return rows.Err()
		}

		for _, name := range names {
			if err := s.regenerateView(ctx, tx, name); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return fmt.Errorf("RegenerateViews() err: %w", err)
	}
	return nil
}

// regenerateView compiles one view definition into its three SQL views
// and six triggers. A definition without required attributes is skipped
// with a notice rather than failing the transaction.
func (s *Store) regenerateView(ctx context.Context, tx pgx.Tx, name string) error {
	spec, err := s.loadViewSpec(ctx, tx, name)
	if err != nil {
		return err
	}

	required := 0
	for _, attr := range spec.Attrs {
		if attr.Required {
			required++
		}
	}
	if required == 0 {
		s.log.Warnf("view %s has no required attributes; skipping regeneration", name)
		return nil
	}

	for _, stmt := range sqlgen.Statements(spec) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("regenerateView(%s) %q err: %w", name, stmt, pgutil.ClassifyError(err))
		}
	}
	metrics.ViewsRegenerated.Inc()
	return nil
}

// loadViewSpec reads a view's compiled plan input from the
// introspection views.
func (s *Store) loadViewSpec(ctx context.Context, tx pgx.Tx, name string) (sqlgen.ViewSpec, error) {
	spec := sqlgen.ViewSpec{Name: name}

	rows, err := tx.Query(ctx,
		`SELECT attr_id, attr_ident, value_type, cardinality, required
		 FROM view_attributes WHERE view_name = $1`, name)
	if err != nil {
		return spec, fmt.Errorf("loadViewSpec(%s) err: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			attrID          int64
			ident, vt, card string
			required        bool
		)
		if err := rows.Scan(&attrID, &ident, &vt, &card, &required); err != nil {
			return spec, fmt.Errorf("loadViewSpec(%s) scan err: %w", name, err)
		}
		attr := sqlgen.ViewAttr{
			Ident:    ident,
			ID:       types.EntityID(attrID),
			Required: required,
		}
		var ok bool
		if attr.Type, ok = types.ValueTypeFromName(vt); !ok {
			return spec, fmt.Errorf("loadViewSpec(%s) %s: %w", name, vt, store.ErrUnknownValueType)
		}
		if attr.Cardinality, ok = types.CardinalityFromName(card); !ok {
			return spec, fmt.Errorf("loadViewSpec(%s) %s: %w", name, card, store.ErrUnknownCardinality)
		}
		spec.Attrs = append(spec.Attrs, attr)
	}
	if rows.Err() != nil {
		return spec, fmt.Errorf("loadViewSpec(%s) rows err: %w", name, rows.Err())
	}
	return spec, nil
}
