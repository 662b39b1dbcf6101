// Package strategy implements the three distribution strategies that
// assign dimension and fact work across a map/reduce cluster: ODOT
// (one dimension per reducer), ODAT (every task ensures directly
// against the live warehouse, duplicates resolved by internal/postfix
// afterward), and Offline-Big-Dim (one large dimension partitioned
// across mappers by a pre-hashed field, small dimensions reduced,
// shelves synchronized across hosts before an optional bulk "go
// live").
//
// ODOT and Offline-Big-Dim are expressed against internal/mr's
// Job/Mapper/Reducer boundary, so they run unchanged against mr.Local
// (in-process, for tests and small jobs) or a future cluster-backed
// runner. ODAT ensures directly within the map phase against a shared
// connection and so is driven as a plain sequential loop instead: see
// odat.go.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/etlmr-go/etlmr/internal/config"
	"github.com/etlmr-go/etlmr/internal/dimension"
	"github.com/etlmr-go/etlmr/internal/mr"
	"github.com/etlmr-go/etlmr/internal/row"
)

// Runner executes one map/reduce Job over a batch of input records. mr.Local
// implements it; a real cluster-backed runner would too.
type Runner interface {
	Run(ctx context.Context, job mr.Job, records []any) ([]mr.KeyValue, error)
}

func dimNameSet(dims []dimension.Dimension) map[string]bool {
	out := make(map[string]bool, len(dims))
	for _, d := range dims {
		out[d.Name()] = true
	}
	return out
}

func dimByName(cfg *config.Config, name string) dimension.Dimension {
	for d := range cfg.Dimensions {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// dedupeKey builds a stable string key identifying a row's full
// attribute content, used by the Offline-Big-Dim reducer to skip rows
// it has already seen for a dimension within one reduce call, mirroring
// offdimetlmr.py's `if not row in rows`. encoding/json sorts map keys
// when marshaling, so two Rows with identical content always produce
// the same key regardless of Go's randomized map iteration order.
func dedupeKey(r row.Row) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("strategy: encoding dedupe key: %w", err)
	}
	return string(b), nil
}

// LoadFacts runs the fact-load phase shared by every distribution
// strategy: once dimensions are loaded (by whichever strategy), fact
// rows only need their referenced dimensions' surrogate keys looked
// up and the resulting tuple appended to the fact table's bulk loader.
// This mirrors paralleletl.py's fill_fact_table, which is identical
// across odotetlmr.py, odatetlmr.py and offdimetlmr.py.
func LoadFacts(ctx context.Context, cfg *config.Config, rows []row.Row) error {
	for fact, settings := range cfg.Facts {
		for _, r := range rows {
			nr := r.Clone()
			row.ApplyAll(settings.RowHandlers, nr, settings.NameMappings)

			keys := make(row.Row, len(settings.RefDims))
			for _, dim := range settings.RefDims {
				id, err := dim.Lookup(ctx, nr, settings.NameMappings)
				if err != nil {
					return fmt.Errorf("strategy: looking up %s for fact %s: %w", dim.Name(), fact.Name(), err)
				}
				keys[dim.Key()] = id
			}
			for k, v := range keys {
				nr[k] = v
			}
			if err := fact.Insert(nr, settings.NameMappings); err != nil {
				return fmt.Errorf("strategy: inserting fact row into %s: %w", fact.Name(), err)
			}
		}
	}
	return nil
}
