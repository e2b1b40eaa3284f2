package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/facetdb/facet/types"
)

// ViewAttr is one attribute of a view plan.
type ViewAttr struct {
	Ident       string
	ID          types.EntityID
	Type        types.ValueType
	Cardinality types.Cardinality
	Required    bool
}

// ViewSpec is the input to the view compiler. Attrs must contain at
// least one required attribute; Normalize puts them into emission
// order (required before optional, each sorted by ident) so the first
// entry is the anchor.
type ViewSpec struct {
	Name  string
	Attrs []ViewAttr
}

// Normalize sorts the attributes into emission order.
func (v *ViewSpec) Normalize() {
	sort.SliceStable(v.Attrs, func(i, j int) bool {
		if v.Attrs[i].Required != v.Attrs[j].Required {
			return v.Attrs[i].Required
		}
		return v.Attrs[i].Ident < v.Attrs[j].Ident
	})
}

// VisibilityPredicate selects the visibility test applied to each
// child relation: plain current-state filtering, or the as-of aware
// visible() function.
type VisibilityPredicate int

const (
	VisibilityCurrent VisibilityPredicate = iota
	VisibilityAsOf
)

// Predicate renders the test for one relation alias.
func (v VisibilityPredicate) Predicate(alias string) string {
	if v == VisibilityAsOf {
		return fmt.Sprintf("visible(%s.tx, %s.retracted_by)", alias, alias)
	}
	return alias + ".retracted_by IS NULL"
}

// SelectColumn is one output column of a generated view.
type SelectColumn struct {
	Expr  string
	Alias string
}

// SelectList is the ordered output column list of a generated view.
type SelectList []SelectColumn

func (l SelectList) print() string {
	parts := make([]string, len(l))
	for i, c := range l {
		parts[i] = c.Expr + " AS " + c.Alias
	}
	return "  " + strings.Join(parts, ",\n  ")
}

// JoinChain is the relational skeleton of a generated view: the anchor
// relation drives the plan and supplies the entity id, the remaining
// required attributes join inner, the optional attributes join left. A
// cardinality-many anchor folds its values through an extra lateral
// join directly after the anchor.
type JoinChain struct {
	Anchor     string
	AnchorFold string
	Inner      []string
	Left       []string
}

func (j JoinChain) clauses() []string {
	var out []string
	if j.AnchorFold != "" {
		out = append(out, j.AnchorFold)
	}
	out = append(out, j.Inner...)
	out = append(out, j.Left...)
	return out
}

// Statements returns the full regeneration script for a view: drops of
// the previous objects followed by the three view definitions and the
// six INSTEAD OF triggers.
func Statements(spec ViewSpec) []string {
	spec.Normalize()
	out := DropStatements(spec.Name)
	out = append(out,
		selectView(spec, spec.Name+"_current", VisibilityCurrent),
		selectView(spec, spec.Name+"_history", VisibilityAsOf),
		dispatchView(spec),
	)
	out = append(out, triggerStatements(spec.Name, spec.Name)...)
	out = append(out, triggerStatements(spec.Name+"_current", spec.Name)...)
	return out
}

// DropStatements removes a view triple; triggers go with their views.
func DropStatements(name string) []string {
	return []string{
		fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE;", name),
		fmt.Sprintf("DROP VIEW IF EXISTS %s_current CASCADE;", name),
		fmt.Sprintf("DROP VIEW IF EXISTS %s_history CASCADE;", name),
	}
}

// selectView builds the select list and join chain for the current or
// history view and prints them. Cardinality-many positions always fold
// through a lateral array_agg.
func selectView(spec ViewSpec, viewName string, vis VisibilityPredicate) string {
	anchor := spec.Attrs[0]

	sel := SelectList{{Expr: "a0.e", Alias: "id"}}
	chain := JoinChain{Anchor: anchorFrom(anchor, vis)}
	var where string

	if anchor.Cardinality == types.CardinalityMany {
		chain.AnchorFold = fmt.Sprintf("CROSS JOIN LATERAL (%s) a0v", manyAggFor(anchor, "a0", vis))
		sel = append(sel, SelectColumn{Expr: "a0v.vs", Alias: ColumnName(anchor.Ident)})
	} else {
		sel = append(sel, SelectColumn{Expr: "a0.v_typed", Alias: ColumnName(anchor.Ident)})
		where = vis.Predicate("a0")
	}

	for i, attr := range spec.Attrs[1:] {
		alias := fmt.Sprintf("a%d", i+1)
		table := AttrTableName(attr.Ident)
		switch {
		case attr.Required && attr.Cardinality == types.CardinalityOne:
			chain.Inner = append(chain.Inner, fmt.Sprintf(
				"JOIN %s %s ON %s.e = a0.e AND %s",
				table, alias, alias, vis.Predicate(alias)))
			sel = append(sel, SelectColumn{Expr: alias + ".v_typed", Alias: ColumnName(attr.Ident)})
		case attr.Required:
			chain.Inner = append(chain.Inner, fmt.Sprintf(
				"JOIN LATERAL (%s) %s ON %s.vs IS NOT NULL",
				manyAggFor(attr, "a0", vis), alias, alias))
			sel = append(sel, SelectColumn{Expr: alias + ".vs", Alias: ColumnName(attr.Ident)})
		case attr.Cardinality == types.CardinalityOne:
			chain.Left = append(chain.Left, fmt.Sprintf(
				"LEFT JOIN %s %s ON %s.e = a0.e AND %s",
				table, alias, alias, vis.Predicate(alias)))
			sel = append(sel, SelectColumn{Expr: alias + ".v_typed", Alias: ColumnName(attr.Ident)})
		default:
			chain.Left = append(chain.Left, fmt.Sprintf(
				"LEFT JOIN LATERAL (%s) %s ON true",
				manyAggFor(attr, "a0", vis), alias))
			sel = append(sel, SelectColumn{Expr: alias + ".vs", Alias: ColumnName(attr.Ident)})
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE VIEW %s AS\nSELECT\n", viewName)
	b.WriteString(sel.print())
	b.WriteString("\nFROM " + chain.Anchor)
	for _, clause := range chain.clauses() {
		b.WriteString("\n" + clause)
	}
	if where != "" {
		b.WriteString("\nWHERE " + where)
	}
	b.WriteString(";")
	return b.String()
}

// anchorFrom drives the plan from the anchor's child relation. A
// cardinality-many anchor contributes one row per entity, not per
// datom, so it scans distinct entities.
func anchorFrom(anchor ViewAttr, vis VisibilityPredicate) string {
	table := AttrTableName(anchor.Ident)
	if anchor.Cardinality == types.CardinalityMany {
		return fmt.Sprintf("(SELECT DISTINCT d.e FROM %s d WHERE %s) a0",
			table, vis.Predicate("d"))
	}
	return table + " a0"
}

func manyAggFor(attr ViewAttr, anchorAlias string, vis VisibilityPredicate) string {
	return fmt.Sprintf(
		"SELECT array_agg(c.v_typed) AS vs FROM %s c WHERE c.e = %s.e AND %s",
		AttrTableName(attr.Ident), anchorAlias, vis.Predicate("c"))
}

// dispatchView routes between the current and history branches on the
// session as-of variable. The filters are mutually exclusive over a
// stable function, so the planner prunes the unused branch.
func dispatchView(spec ViewSpec) string {
	cols := []string{"id"}
	for _, attr := range spec.Attrs {
		cols = append(cols, ColumnName(attr.Ident))
	}
	list := strings.Join(cols, ", ")
	return fmt.Sprintf(
		"CREATE VIEW %s AS\n"+
			"SELECT %s FROM %s_current WHERE facet_get_as_of() IS NULL\n"+
			"UNION ALL\n"+
			"SELECT %s FROM %s_history WHERE facet_get_as_of() IS NOT NULL;",
		spec.Name, list, spec.Name, list, spec.Name)
}

// triggerStatements wires the generic DML translator onto a relation,
// parameterised with the logical view name.
func triggerStatements(onView, viewName string) []string {
	ops := []struct{ op, fn string }{
		{"insert", "facet_view_insert"},
		{"update", "facet_view_update"},
		{"delete", "facet_view_delete"},
	}
	var out []string
	for _, o := range ops {
		out = append(out, fmt.Sprintf(
			"CREATE TRIGGER %s_%s INSTEAD OF %s ON %s\n"+
				"  FOR EACH ROW EXECUTE FUNCTION %s('%s');",
			onView, o.op, strings.ToUpper(o.op), onView, o.fn, viewName))
	}
	return out
}
