// Package postfix implements the duplicate-resolution pass that runs
// after an ODAT load: parallel reducers insert rows independently, so
// the same logical dimension row can land in the warehouse more than
// once under different surrogate keys. Fix walks the snowflake reference
// graph depth-first, collapsing duplicates in every non-root table and
// rewriting any foreign keys that pointed at a removed duplicate to the
// surviving one.
package postfix

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

// Table is one dimension table in the reference graph to fix.
type Table struct {
	name            string
	pkey            string
	duplicateattrs  []string
	reftables       []*Table
	root            bool
	con             *sqlconn.Connection
}

// NewTable builds a Table. duplicateattrs is the set of attributes that,
// taken together, identify a logical row: rows sharing the same values
// for all of them are duplicates of each other.
func NewTable(name, pkey string, duplicateattrs []string, reftables []*Table, con *sqlconn.Connection) *Table {
	return &Table{name: name, pkey: pkey, duplicateattrs: duplicateattrs, reftables: reftables, con: con}
}

// SetRoot marks t as the root of the snowflake: its duplicate rows are
// never deleted, only referenced by other tables' foreign keys.
func (t *Table) SetRoot() { t.root = true }

// Key returns t's primary key attribute name.
func (t *Table) Key() string { return t.pkey }

// fixedIDList groups t's rows by duplicateattrs and returns, for every
// group with more than one row, the sorted list of surrogate keys in
// that group (the survivor is always the last, largest id).
func (t *Table) fixedIDList(ctx context.Context) ([][]int64, error) {
	if t.root {
		return nil, nil
	}
	cols := strings.Join(t.duplicateattrs, ",")
	stmt := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s", t.pkey, cols, t.name, cols)
	if err := t.con.Query(ctx, stmt); err != nil {
		return nil, fmt.Errorf("postfix: listing %s: %w", t.name, err)
	}
	tuples, err := t.con.FetchAllTuples()
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]int64)
	var order []string
	for _, tup := range tuples {
		id, ok := tup[0].(int64)
		if !ok {
			continue
		}
		groupKey := groupKeyOf(tup[1:])
		if _, seen := groups[groupKey]; !seen {
			order = append(order, groupKey)
		}
		groups[groupKey] = append(groups[groupKey], id)
	}

	var fixed [][]int64
	for _, k := range order {
		ids := groups[k]
		if len(ids) > 1 {
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			fixed = append(fixed, ids)
		}
	}
	return fixed, nil
}

func groupKeyOf(vals []any) string {
	var sb strings.Builder
	for _, v := range vals {
		fmt.Fprintf(&sb, "%v\x1f", v)
	}
	return sb.String()
}

// updateForeignRef rewrites fkey from every non-survivor id in each
// group to the group's surviving (largest) id.
func (t *Table) updateForeignRef(ctx context.Context, fkey string, fixed [][]int64) error {
	for _, ids := range fixed {
		survivor := ids[len(ids)-1]
		dupes := ids[:len(ids)-1]
		strs := make([]string, len(dupes))
		for i, d := range dupes {
			strs[i] = strconv.FormatInt(d, 10)
		}
		stmt := fmt.Sprintf("UPDATE %s SET %s=%d WHERE %s IN (%s)",
			t.name, fkey, survivor, fkey, strings.Join(strs, ","))
		if err := t.con.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("postfix: updating %s.%s: %w", t.name, fkey, err)
		}
	}
	return nil
}

// deleteDuplicateRows removes every row of t except the maximum-pkey
// survivor within each duplicateattrs group.
func (t *Table) deleteDuplicateRows(ctx context.Context) error {
	cols := strings.Join(t.duplicateattrs, ",")
	stmt := fmt.Sprintf(
		"DELETE FROM %s WHERE %s NOT IN (SELECT MAX(%s) FROM %s GROUP BY %s)",
		t.name, t.pkey, t.pkey, t.name, cols)
	if err := t.con.Execute(ctx, stmt); err != nil {
		return fmt.Errorf("postfix: deleting duplicates from %s: %w", t.name, err)
	}
	return nil
}

// Fix resolves duplicates depth-first across the whole reference tree
// rooted at t, then commits exactly once, matching pyetlmr's single
// targetconnection.commit() after the whole postfix walk completes.
func (t *Table) Fix(ctx context.Context) ([][]int64, error) {
	ownFixed, err := t.fix(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.con.Commit(ctx); err != nil {
		return nil, err
	}
	return ownFixed, nil
}

// fix resolves duplicates depth-first: every referenced table is fixed
// first, its foreign key rewritten in this table, then (unless this is
// the root) this table's own duplicates are computed and deleted; the
// root computes and returns no duplicate list.
func (t *Table) fix(ctx context.Context) ([][]int64, error) {
	fixups := make(map[string][][]int64, len(t.reftables))
	for _, ref := range t.reftables {
		fixed, err := ref.fix(ctx)
		if err != nil {
			return nil, err
		}
		fixups[ref.Key()] = fixed
	}
	for fkey, fixed := range fixups {
		if err := t.updateForeignRef(ctx, fkey, fixed); err != nil {
			return nil, err
		}
	}

	ownFixed, err := t.fixedIDList(ctx)
	if err != nil {
		return nil, err
	}
	if !t.root {
		if err := t.deleteDuplicateRows(ctx); err != nil {
			return nil, err
		}
	}
	return ownFixed, nil
}
