// Package config models the job configuration a driver run needs: the
// target warehouse connection, the declared dimensions and their source
// fields/handlers/name mappings, the snowflake reference graph, the
// dimension load order, the declared fact tables, and any dimensions to
// prefill. This mirrors conf/config.py / conf/odatconfig.py /
// conf/offlineconfig.py in pyetlmr, which hold the equivalent
// module-level declarations; there is no YAML/JSON catalog format in the
// original, so configuration stays code here too, assembled with
// Builder by an embedding Go program the way the Python files assemble
// it top-to-bottom as a script.
package config

import (
	"fmt"

	"github.com/etlmr-go/etlmr/internal/bulkload"
	"github.com/etlmr-go/etlmr/internal/dimension"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

// DimensionSettings is one dimension's entry in config.dimensions: the
// source-row fields to project when distributing rows to this
// dimension's map/reduce shape, the row handlers to run against a row
// before it is ensured, and the name mapping between canonical
// attribute names and this dimension's source field names.
type DimensionSettings struct {
	SrcFields    []string
	RowHandlers  []row.RowHandler
	NameMappings row.Mapping
}

// FactSettings is one fact table's entry in config.facts: the
// dimensions it references (in foreign-key lookup order), the row
// handlers to run before lookup, and the name mapping used for both
// handlers and the fact's own Insert.
type FactSettings struct {
	RefDims      []dimension.Dimension
	RowHandlers  []row.RowHandler
	NameMappings row.Mapping
}

// Config is the fully assembled job configuration a driver run is
// handed, equivalent to importing a pyetlmr conf module.
type Config struct {
	Connection    *sqlconn.Connection
	Dimensions    map[dimension.Dimension]DimensionSettings
	References    map[dimension.Dimension][]dimension.Dimension
	Order         [][]dimension.Dimension
	Facts         map[*bulkload.BulkFactTable]FactSettings
	PrefilledDims []*dimension.CachedDimension
}

// ConfigError marks an error as a misconfiguration (spec §7): invalid
// or incomplete job setup caught before any row is ever processed, as
// opposed to an ordinary error encountered while running a load. A
// driver can check for this with errors.As to report a distinct exit
// status for "fix your configuration" versus "the load failed".
type ConfigError struct {
	Err error
}

// Error implements error.
func (e *ConfigError) Error() string { return e.Err.Error() }

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError from a format string, the same
// way fmt.Errorf builds a plain error.
func NewConfigError(format string, args ...any) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

// Builder assembles a Config incrementally, mirroring the order
// conf/config.py declares its module-level variables in. Build checks
// that every Order level names only declared dimensions; References are
// stored as given, without validation.
type Builder struct {
	cfg Config
	err error
}

// NewBuilder starts a new Config assembly.
func NewBuilder() *Builder {
	return &Builder{cfg: Config{
		Dimensions: make(map[dimension.Dimension]DimensionSettings),
		References: make(map[dimension.Dimension][]dimension.Dimension),
		Facts:      make(map[*bulkload.BulkFactTable]FactSettings),
	}}
}

// WithConnection sets the target warehouse connection.
func (b *Builder) WithConnection(con *sqlconn.Connection) *Builder {
	b.cfg.Connection = con
	return b
}

// Dimension declares dim's settings.
func (b *Builder) Dimension(dim dimension.Dimension, settings DimensionSettings) *Builder {
	b.cfg.Dimensions[dim] = settings
	return b
}

// Reference declares a snowflake edge: parent has a foreign key into
// every one of children, which must be ensured first.
func (b *Builder) Reference(parent dimension.Dimension, children ...dimension.Dimension) *Builder {
	b.cfg.References[parent] = children
	return b
}

// Order sets the dimension load order (one level per element, loaded to
// completion before the next, leaves before roots).
func (b *Builder) Order(levels ...[]dimension.Dimension) *Builder {
	b.cfg.Order = levels
	return b
}

// Fact declares fact's settings.
func (b *Builder) Fact(fact *bulkload.BulkFactTable, settings FactSettings) *Builder {
	b.cfg.Facts[fact] = settings
	return b
}

// Prefill marks dims to be loaded from the warehouse into their shelve
// before map work begins (pyetlmr's prefilleddims).
func (b *Builder) Prefill(dims ...*dimension.CachedDimension) *Builder {
	b.cfg.PrefilledDims = append(b.cfg.PrefilledDims, dims...)
	return b
}

// Build validates and returns the assembled Config. A missing
// connection or an Order level naming an undeclared dimension is a
// configuration error (spec §7), surfaced here rather than at use time.
func (b *Builder) Build() (*Config, error) {
	if b.cfg.Connection == nil {
		return nil, NewConfigError("config: no target connection configured")
	}
	if len(b.cfg.Dimensions) == 0 {
		return nil, NewConfigError("config: no dimensions configured")
	}
	if len(b.cfg.Order) == 0 {
		// Matches paralleletl.py's seq_init fallback when no explicit
		// order is given: load every dimension in a single level.
		all := make([]dimension.Dimension, 0, len(b.cfg.Dimensions))
		for d := range b.cfg.Dimensions {
			all = append(all, d)
		}
		b.cfg.Order = [][]dimension.Dimension{all}
	}
	for _, level := range b.cfg.Order {
		for _, d := range level {
			if _, ok := b.cfg.Dimensions[d]; !ok {
				return nil, NewConfigError("config: dimension %q appears in order but was never declared", d.Name())
			}
		}
	}
	cfg := b.cfg
	return &cfg, nil
}
