package source

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"migration-guard/internal/logging"
)

// DefaultTableOrder is the fixed dependency order used when the data source
// cannot report foreign keys. Parents come before the tables referencing them.
var DefaultTableOrder = []string{
	"organizations",
	"profiles",
	"memberships",
	"projects",
	"products",
	"customers",
	"orders",
	"order_items",
	"payments",
	"invoices",
	"notifications",
	"audit_logs",
}

// Where a TableOrder came from
const (
	OrderFromForeignKeys = "foreign_keys"
	OrderFromFixedList   = "fixed_list"
)

// TableOrder is an insert-safe ordering of tables
type TableOrder struct {
	Tables      []string `json:"tables"`
	DerivedFrom string   `json:"derived_from"`
	// Live is set when Tables lists exactly the tables of the data source
	Live bool `json:"live"`
}

// Reverse returns the order in which tables can be cleared
func (o TableOrder) Reverse() []string {
	out := make([]string, len(o.Tables))
	for i, t := range o.Tables {
		out[len(o.Tables)-1-i] = t
	}
	return out
}

// ResolveTableOrder lists the tables of ds and orders them so referenced
// tables precede referencing ones. Foreign keys are used when ds implements
// ForeignKeyIntrospector; otherwise fallback decides and a warning is logged.
func ResolveTableOrder(ctx context.Context, ds DataSource, fallback []string, logger *logging.Logger) (TableOrder, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if len(fallback) == 0 {
		fallback = DefaultTableOrder
	}

	tables, err := ds.ListTables(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TableOrder{}, ctxErr
		}
		logger.WithFields(map[string]interface{}{
			logging.FieldOperation:   "table_ordering",
			logging.FieldRemediation: []string{"grant read access to information_schema", "verify database.table_order"},
			"error":                  err.Error(),
		}).Warn("Table introspection unavailable, using fixed table list")
		return TableOrder{Tables: append([]string(nil), fallback...), DerivedFrom: OrderFromFixedList}, nil
	}

	if introspector, ok := ds.(ForeignKeyIntrospector); ok {
		fks, err := introspector.ForeignKeys(ctx)
		if err == nil {
			ordered, cyclic := sortByForeignKeys(tables, fks)
			if len(cyclic) > 0 {
				logger.WithFields(map[string]interface{}{
					logging.FieldOperation: "table_ordering",
					"tables":               cyclic,
				}).Warn("Foreign key cycle detected, cyclic tables appended in name order")
			}
			return TableOrder{Tables: ordered, DerivedFrom: OrderFromForeignKeys, Live: true}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TableOrder{}, ctxErr
		}
		if !errors.Is(err, ErrNotSupported) {
			err = fmt.Errorf("foreign key introspection failed: %w", err)
		}
		logger.WithFields(map[string]interface{}{
			logging.FieldOperation:   "table_ordering",
			logging.FieldRemediation: []string{"keep database.table_order in sync with the schema"},
			"error":                  err.Error(),
		}).Warn("Dependency order derived from fixed table list; it will be wrong if the schema changed")
	} else {
		logger.WithFields(map[string]interface{}{
			logging.FieldOperation:   "table_ordering",
			logging.FieldRemediation: []string{"keep database.table_order in sync with the schema"},
		}).Warn("Dependency order derived from fixed table list; it will be wrong if the schema changed")
	}

	return TableOrder{Tables: orderByList(tables, fallback), DerivedFrom: OrderFromFixedList, Live: true}, nil
}

// orderByList keeps fallback's relative order for known tables and appends
// unknown ones alphabetically
func orderByList(tables, fallback []string) []string {
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t] = true
	}

	out := make([]string, 0, len(tables))
	placed := make(map[string]bool, len(tables))
	for _, t := range fallback {
		if present[t] && !placed[t] {
			out = append(out, t)
			placed[t] = true
		}
	}

	var rest []string
	for _, t := range tables {
		if !placed[t] {
			rest = append(rest, t)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// sortByForeignKeys is Kahn's algorithm picking the smallest ready name each
// step. Tables left on a cycle are returned separately and appended sorted.
func sortByForeignKeys(tables []string, fks []ForeignKey) ([]string, []string) {
	known := make(map[string]bool, len(tables))
	for _, t := range tables {
		known[t] = true
	}

	deps := make(map[string]map[string]bool, len(tables))
	dependents := make(map[string][]string)
	for _, t := range tables {
		deps[t] = make(map[string]bool)
	}
	for _, fk := range fks {
		if fk.Table == fk.ReferencedTable || !known[fk.Table] || !known[fk.ReferencedTable] {
			continue
		}
		if !deps[fk.Table][fk.ReferencedTable] {
			deps[fk.Table][fk.ReferencedTable] = true
			dependents[fk.ReferencedTable] = append(dependents[fk.ReferencedTable], fk.Table)
		}
	}

	var ready []string
	for _, t := range tables {
		if len(deps[t]) == 0 {
			ready = append(ready, t)
		}
	}

	ordered := make([]string, 0, len(tables))
	done := make(map[string]bool, len(tables))
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, next)
		done[next] = true

		for _, dep := range dependents[next] {
			delete(deps[dep], next)
			if len(deps[dep]) == 0 && !done[dep] {
				ready = append(ready, dep)
			}
		}
	}

	var cyclic []string
	for _, t := range tables {
		if !done[t] {
			cyclic = append(cyclic, t)
		}
	}
	sort.Strings(cyclic)
	return append(ordered, cyclic...), cyclic
}
