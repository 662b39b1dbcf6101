// Package bulkload implements bulk fact-table insertion: rows are
// batched to a temporary delimited file and handed to a pluggable Loader
// in chunks, instead of one INSERT per row.
package bulkload

import (
	"fmt"
	"os"
	"strings"

	"github.com/etlmr-go/etlmr/internal/metrics"
	"github.com/etlmr-go/etlmr/internal/row"
)

// Loader bulk-loads a delimited temp file's rows into the named table.
// attributes gives the column order the file was written in.
type Loader func(table string, attributes []string, fieldsep, rowsep string, nullsubst string, tempfile *os.File) error

// BulkFactTable batches fact rows to a temp file and flushes them through
// a Loader every bulksize rows, mirroring pyetlmr's BulkFactTable. Reads
// are not supported — this is a write-only, append-only sink.
type BulkFactTable struct {
	name       string
	attributes []string
	loader     Loader
	fieldsep   string
	rowsep     string
	nullsubst  string
	hasNulls   bool
	bulksize   int

	file      *os.File
	ownedFile bool
	count     int
}

// Option configures a BulkFactTable at construction.
type Option func(*BulkFactTable)

// WithFieldSep overrides the default tab field separator.
func WithFieldSep(sep string) Option { return func(b *BulkFactTable) { b.fieldsep = sep } }

// WithRowSep overrides the default newline row separator.
func WithRowSep(sep string) Option { return func(b *BulkFactTable) { b.rowsep = sep } }

// WithNullSubst sets the string used in place of null values, selecting
// the insert path that must substitute null-valued attributes. Without
// this option every attribute is assumed non-null, matching pyetlmr's
// faster _insertwithoutnulls path.
func WithNullSubst(s string) Option {
	return func(b *BulkFactTable) {
		b.nullsubst = s
		b.hasNulls = true
	}
}

// WithBulkSize overrides the default flush threshold of 500000 rows.
func WithBulkSize(n int) Option { return func(b *BulkFactTable) { b.bulksize = n } }

// WithTempFile supplies a caller-owned temp file instead of letting
// BulkFactTable create and own one.
func WithTempFile(f *os.File) Option {
	return func(b *BulkFactTable) {
		b.file = f
		b.ownedFile = false
	}
}

// New builds a BulkFactTable for the fact table named name, whose primary
// key is keyrefs and whose non-key columns are measures.
func New(name string, keyrefs, measures []string, loader Loader, opts ...Option) (*BulkFactTable, error) {
	b := &BulkFactTable{
		name:       name,
		attributes: append(append([]string{}, keyrefs...), measures...),
		loader:     loader,
		fieldsep:   "\t",
		rowsep:     "\n",
		bulksize:   500000,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.file == nil {
		f, err := os.CreateTemp("", "etlmr-fact-*")
		if err != nil {
			return nil, fmt.Errorf("bulkload: creating temp file: %w", err)
		}
		b.file = f
		b.ownedFile = true
	}
	return b, nil
}

// Name returns the fact table's name.
func (b *BulkFactTable) Name() string { return b.name }

// Insert adds a fact row to the pending batch, flushing automatically
// once bulksize rows have accumulated.
func (b *BulkFactTable) Insert(r row.Row, mapping row.Mapping) error {
	fields := make([]string, len(b.attributes))
	for i, att := range b.attributes {
		v := row.GetValue(r, att, mapping)
		if b.hasNulls && v.IsNull() {
			fields[i] = b.nullsubst
		} else {
			fields[i] = v.AsString()
		}
	}
	if _, err := fmt.Fprintf(b.file, "%s%s", strings.Join(fields, b.fieldsep), b.rowsep); err != nil {
		return fmt.Errorf("bulkload: writing temp row: %w", err)
	}
	b.count++
	if b.count == b.bulksize {
		return b.flush()
	}
	return nil
}

func (b *BulkFactTable) flush() error {
	if err := b.file.Sync(); err != nil {
		return fmt.Errorf("bulkload: syncing temp file: %w", err)
	}
	if _, err := b.file.Seek(0, 0); err != nil {
		return fmt.Errorf("bulkload: rewinding temp file: %w", err)
	}
	if err := b.loader(b.name, b.attributes, b.fieldsep, b.rowsep, b.nullsubst, b.file); err != nil {
		return fmt.Errorf("bulkload: loading %s: %w", b.name, err)
	}
	metrics.BulkFlushes.WithLabelValues(b.name).Inc()
	if err := b.file.Truncate(0); err != nil {
		return err
	}
	if _, err := b.file.Seek(0, 0); err != nil {
		return err
	}
	b.count = 0
	return nil
}

// EndLoad flushes any remaining batched rows and releases an owned temp
// file.
func (b *BulkFactTable) EndLoad() error {
	if b.count > 0 {
		if err := b.flush(); err != nil {
			return err
		}
	}
	if b.ownedFile {
		name := b.file.Name()
		b.file.Close()
		return os.Remove(name)
	}
	return nil
}
