package dimension

import (
	"context"
	"fmt"

	"github.com/etlmr-go/etlmr/internal/metrics"
	"github.com/etlmr-go/etlmr/internal/row"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

// SlowlyChangingDimension is a CachedDimension that tracks history on its
// lookup key: Type-1 attributes are overwritten in place on the existing
// row, while all other attribute changes create a new version with its
// own surrogate key and validity interval.
type SlowlyChangingDimension struct {
	*CachedDimension

	versionatt string
	fromatt    string
	toatt      string
	srcdateatt string
	type1atts  []string
	clock      *row.Clock
}

// SCDOption configures a SlowlyChangingDimension at construction.
type SCDOption func(*SlowlyChangingDimension)

// WithFromToAttributes declares the validity-interval attributes of a
// Type-2 dimension. Required unless the dimension is pure Type-1.
func WithFromToAttributes(fromatt, toatt string) SCDOption {
	return func(s *SlowlyChangingDimension) { s.fromatt, s.toatt = fromatt, toatt }
}

// WithSourceDateAttribute names the row attribute carrying the source
// system's date for a version, used instead of the job clock to decide
// validity.
func WithSourceDateAttribute(att string) SCDOption {
	return func(s *SlowlyChangingDimension) { s.srcdateatt = att }
}

// WithType1Attributes marks attributes that are overwritten in place
// rather than versioned. A dimension with any Type-1 attributes is
// treated as pure Type-1: the two strategies are not mixed within a
// single dimension, matching pyetlmr's ensure() dispatch on
// whether type1atts is non-empty.
func WithType1Attributes(atts []string) SCDOption {
	return func(s *SlowlyChangingDimension) { s.type1atts = atts }
}

// WithClock supplies the job's memoized clock for default from-dates.
// Defaults to a fresh real-time Clock if omitted.
func WithClock(c *row.Clock) SCDOption {
	return func(s *SlowlyChangingDimension) { s.clock = c }
}

// NewSlowlyChangingDimension builds a SlowlyChangingDimension versioned
// on versionatt, validated to be declared among attributes (along with
// fromatt/toatt, when set).
func NewSlowlyChangingDimension(name, key string, attributes []string, versionatt string, con *sqlconn.Connection, store Store, cachedOpts []Option, scdOpts ...SCDOption) (*SlowlyChangingDimension, error) {
	cached, err := NewCachedDimension(name, key, attributes, con, store, cachedOpts...)
	if err != nil {
		return nil, err
	}
	if versionatt == "" {
		return nil, fmt.Errorf("dimension %s: a version attribute must be given", name)
	}
	s := &SlowlyChangingDimension{
		CachedDimension: cached,
		versionatt:      versionatt,
		clock:           row.NewClock(),
	}
	if err := s.Configure(scdOpts...); err != nil {
		return nil, err
	}
	return s, nil
}

// Configure applies SCDOptions and validates that versionatt/fromatt/
// toatt were declared among the dimension's attributes, matching
// pyetlmr's constructor-time check.
func (s *SlowlyChangingDimension) Configure(opts ...SCDOption) error {
	for _, opt := range opts {
		opt(s)
	}
	for _, att := range []string{s.versionatt, s.fromatt, s.toatt} {
		if att == "" {
			continue
		}
		found := false
		for _, a := range s.attributes {
			if a == att {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("dimension %s: %s not present in attributes", s.name, att)
		}
	}
	if len(s.type1atts) == 0 && s.fromatt == "" {
		return fmt.Errorf("dimension %s: a Type-2 dimension requires a from-date attribute", s.name)
	}
	return nil
}

func (s *SlowlyChangingDimension) attrIndex(att string) int {
	for i, a := range s.all {
		if a == att {
			return i
		}
	}
	return -1
}

// Lookup returns the surrogate key of the version matching r: for
// Type-1 dimensions, the single row for the lookup key; for Type-2, the
// version whose [fromatt, toatt) interval contains the row's source
// date.
func (s *SlowlyChangingDimension) Lookup(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error) {
	versions, err := s.lookupVersions(r, mapping)
	if err != nil {
		return row.Null, err
	}
	if len(versions) == 0 {
		return s.defaultID, nil
	}
	if len(s.type1atts) > 0 {
		return versions[0][s.key0Index()], nil
	}

	srcdate, err := s.rowDate(r, mapping)
	if err != nil {
		return row.Null, err
	}
	fromIdx := s.attrIndex(s.fromatt)
	toIdx := s.attrIndex(s.toatt)
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		from := v[fromIdx]
		to := row.MaxDate
		if toIdx >= 0 && !v[toIdx].IsNull() {
			to = v[toIdx]
		}
		if !srcdate.Less(from) && srcdate.Less(to) {
			return v[s.key0Index()], nil
		}
	}
	return s.defaultID, nil
}

func (s *SlowlyChangingDimension) key0Index() int { return 0 } // key is always all[0]

// rowDate resolves the date used to place a row within a version's
// validity interval: the source-date attribute if configured (a value
// that is not already a date is parsed as yyyy-MM-dd), otherwise the job
// clock's Today.
func (s *SlowlyChangingDimension) rowDate(r row.Row, mapping row.Mapping) (row.Value, error) {
	if s.srcdateatt != "" {
		v := row.GetValue(r, s.srcdateatt, mapping)
		if _, isDate := v.Time(); !isDate && !v.IsNull() {
			parsed, err := row.ParseYMD(v.AsString())
			if err != nil {
				return row.Null, fmt.Errorf("dimension %s: source date attribute %s: %w", s.name, s.srcdateatt, err)
			}
			v = parsed
		}
		if v.IsNull() {
			return row.Null, fmt.Errorf("dimension %s: source date attribute %s is null", s.name, s.srcdateatt)
		}
		return v, nil
	}
	return s.clock.Today(), nil
}

// Ensure dispatches to the Type-1 or Type-2 insertion path depending on
// whether type1atts was configured.
func (s *SlowlyChangingDimension) Ensure(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error) {
	metrics.RowsEnsured.WithLabelValues(s.name).Inc()
	if len(s.type1atts) > 0 {
		return s.ensureType1(ctx, r, mapping)
	}
	return s.ensureType2(ctx, r, mapping)
}

// ensureType1 looks up the existing row for the lookup key; if found,
// overwrites its type1atts in place (without creating a new version or
// surrogate key) whenever any of them differ from the stored values.
func (s *SlowlyChangingDimension) ensureType1(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error) {
	key, err := s.searchKey(r, mapping)
	if err != nil {
		return row.Null, err
	}
	versions, ok, err := s.store.Get(key)
	if err != nil {
		return row.Null, err
	}
	if !ok || len(versions) == 0 {
		return s.Insert(ctx, r, mapping)
	}

	current := versions[0]
	changed := false
	updated := append(Version(nil), current...)
	for _, att := range s.type1atts {
		idx := s.attrIndex(att)
		if idx < 0 {
			continue
		}
		newVal := row.GetValue(r, att, mapping)
		if !newVal.Equal(current[idx]) {
			updated[idx] = newVal
			changed = true
		}
	}
	if changed {
		if err := s.store.Set(key, []Version{updated}); err != nil {
			return row.Null, err
		}
	}
	return current[s.key0Index()], nil
}

// ensureType2 looks up the existing version series for the lookup key.
// With no prior version, it inserts the first one (version 1, from-date
// defaulted if unset). With a prior version whose from-date is on or
// after the row's date, it returns that latest version's key unchanged.
// Otherwise it compares every non-key/version/date attribute against the
// latest version: if any
// differ, it closes the latest version's toatt and appends a new version
// with a fresh surrogate key; otherwise it returns the latest version's
// key unchanged.
func (s *SlowlyChangingDimension) ensureType2(ctx context.Context, r row.Row, mapping row.Mapping) (row.Value, error) {
	key, err := s.searchKey(r, mapping)
	if err != nil {
		return row.Null, err
	}
	versions, ok, err := s.store.Get(key)
	if err != nil {
		return row.Null, err
	}
	if !ok || len(versions) == 0 {
		r = r.Clone()
		r[mapping.Get(s.versionatt)] = row.Int(1)
		if s.fromatt != "" {
			if _, has := r[mapping.Get(s.fromatt)]; !has {
				from, err := s.rowDate(r, mapping)
				if err != nil {
					return row.Null, err
				}
				r[mapping.Get(s.fromatt)] = from
			}
		}
		if s.toatt != "" {
			r[mapping.Get(s.toatt)] = row.Null
		}
		return s.Insert(ctx, r, mapping)
	}

	latest := versions[len(versions)-1]
	rowdate, err := s.rowDate(r, mapping)
	if err != nil {
		return row.Null, err
	}
	fromIdx := s.attrIndex(s.fromatt)
	if rowdate.Less(latest[fromIdx]) || rowdate.Equal(latest[fromIdx]) {
		// Not newer than the latest version's effective date: no change.
		return latest[s.key0Index()], nil
	}

	addNewVersion := false
	for _, att := range s.all {
		if att == s.key || att == s.fromatt || att == s.versionatt || att == s.toatt {
			continue
		}
		idx := s.attrIndex(att)
		if !row.GetValue(r, att, mapping).Equal(latest[idx]) {
			addNewVersion = true
			break
		}
	}
	if !addNewVersion {
		return latest[s.key0Index()], nil
	}

	nextVersionNum, _ := latest[s.attrIndex(s.versionatt)].Int64()
	newKeyVal, err := s.nextID(ctx)
	if err != nil {
		return row.Null, err
	}

	nr := r.Clone()
	nr[mapping.Get(s.key)] = newKeyVal
	nr[mapping.Get(s.versionatt)] = row.Int(nextVersionNum + 1)
	nr[mapping.Get(s.fromatt)] = rowdate
	if s.toatt != "" {
		nr[mapping.Get(s.toatt)] = row.Null
	}

	if s.toatt != "" {
		toIdx := s.attrIndex(s.toatt)
		closedLatest := append(Version(nil), latest...)
		closedLatest[toIdx] = rowdate
		versions[len(versions)-1] = closedLatest
	}

	newVersion := s.toVersion(nr, mapping)
	versions = append(versions, newVersion)
	if err := s.store.Set(key, versions); err != nil {
		return row.Null, err
	}
	return newKeyVal, nil
}
