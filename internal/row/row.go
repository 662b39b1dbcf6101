// Package row implements the dynamic row dictionary that flows through
// dimension and fact table handlers: an order-insensitive mapping from
// attribute name to a string, integer, date, or null value.
package row

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value is a tagged attribute value. The zero Value is null.
type Value struct {
	kind byte // 0=null, 's'=string, 'i'=int, 'd'=date
	s    string
	i    int64
	d    time.Time
}

// Null is the null Value.
var Null = Value{}

// String wraps a string attribute value.
func String(s string) Value { return Value{kind: 's', s: s} }

// Int wraps an integer attribute value.
func Int(i int64) Value { return Value{kind: 'i', i: i} }

// Date wraps a date-valued attribute. Only the date portion is significant.
func Date(t time.Time) Value { return Value{kind: 'd', d: t} }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == 0 }

// AsString renders v in the form the bulk loader and shelve serialize with.
func (v Value) AsString() string {
	switch v.kind {
	case 's':
		return v.s
	case 'i':
		return strconv.FormatInt(v.i, 10)
	case 'd':
		return v.d.Format("2006-01-02")
	default:
		return ""
	}
}

// Int64 returns the integer value, or ok=false if v is not an int.
func (v Value) Int64() (int64, bool) {
	if v.kind != 'i' {
		return 0, false
	}
	return v.i, true
}

// Time returns the date value, or ok=false if v is not a date.
func (v Value) Time() (time.Time, bool) {
	if v.kind != 'd' {
		return time.Time{}, false
	}
	return v.d, true
}

// Equal compares two values by kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case 's':
		return v.s == o.s
	case 'i':
		return v.i == o.i
	case 'd':
		return v.d.Equal(o.d)
	default:
		return true // both null
	}
}

// Less orders two date values, used for interval comparisons. Panics if
// either value is not a date; callers are expected to have validated kinds.
func (v Value) Less(o Value) bool {
	if v.kind != 'd' || o.kind != 'd' {
		panic("row: Less is only defined for date values")
	}
	return v.d.Before(o.d)
}

func (v Value) String() string {
	if v.IsNull() {
		return "<null>"
	}
	return v.AsString()
}

// Row is a mutable mapping of attribute name to Value.
type Row map[string]Value

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Mapping maps a canonical attribute name to the name it is stored under
// in a source row. A lookup of canonical name n uses row[mapping.Get(n)].
type Mapping map[string]string

// Get returns mapping[name] if present, else name itself.
func (m Mapping) Get(name string) string {
	if m == nil {
		return name
	}
	if v, ok := m[name]; ok {
		return v
	}
	return name
}

// GetValue returns row[mapping.Get(name)], panicking if absent — mirrors
// pyetlmr's getvalue, which assumes the attribute exists.
func GetValue(r Row, name string, mapping Mapping) Value {
	v, ok := r[mapping.Get(name)]
	if !ok {
		panic(fmt.Sprintf("row: missing attribute %q", mapping.Get(name)))
	}
	return v
}

// GetValueOr returns row[mapping.Get(name)], or def if absent.
func GetValueOr(r Row, name string, mapping Mapping, def Value) Value {
	if v, ok := r[mapping.Get(name)]; ok {
		return v
	}
	return def
}

// Project builds a new Row containing only atts, renamed through mapping:
// for each canonical name c in atts, result[c] = row[mapping.Get(c)].
func Project(atts []string, r Row, mapping Mapping) Row {
	out := make(Row, len(atts))
	for _, c := range atts {
		out[c] = GetValue(r, c, mapping)
	}
	return out
}

// ProjectSrcFields builds a new Row containing just the raw source
// fields a dimension declared in srcfields, with no renaming: for each
// field present in r, result[field] = r[field]. This is distinct from
// Project, which renames through a canonical-name mapping; distribution
// strategies use ProjectSrcFields to cut a row down to what a dimension
// needs before it crosses to a reducer, matching pyetlmr's
// `dict([(field, row[field]) for field in srcfields if row.has_key(field)])`.
func ProjectSrcFields(srcfields []string, r Row) Row {
	out := make(Row, len(srcfields))
	for _, f := range srcfields {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Copy returns a copy of row with renaming applied: for each (newname,
// oldname) pair, result[newname] = row[oldname], and oldname is dropped
// unless it is also a newname.
func Copy(r Row, renaming map[string]string) Row {
	out := r.Clone()
	if len(renaming) == 0 {
		return out
	}
	tmp := r.Clone()
	res := make(Row, len(r))
	for newname, oldname := range renaming {
		res[newname] = r[oldname]
		delete(tmp, oldname)
	}
	for k, v := range tmp {
		res[k] = v
	}
	return res
}

// Rename mutates row in place: for each (old, new) pair, row[new] =
// row[old] and row[old] is deleted.
func Rename(r Row, renaming map[string]string) {
	for oldname, newname := range renaming {
		r[newname] = r[oldname]
		delete(r, oldname)
	}
}

// SetDefaults sets default values for attributes missing from row, without
// overwriting attributes already present.
func SetDefaults(r Row, defaults map[string]Value) {
	for att, def := range defaults {
		if _, ok := r[att]; !ok {
			r[att] = def
		}
	}
}

// RowHandler mutates a row in place, optionally consulting a name mapping.
// Dimensions and fact tables carry an ordered sequence of these.
type RowHandler interface {
	Apply(r Row, mapping Mapping)
}

// RowHandlerFunc adapts a function to RowHandler.
type RowHandlerFunc func(r Row, mapping Mapping)

// Apply implements RowHandler.
func (f RowHandlerFunc) Apply(r Row, mapping Mapping) { f(r, mapping) }

// ApplyAll runs handlers in order against row.
func ApplyAll(handlers []RowHandler, r Row, mapping Mapping) {
	for _, h := range handlers {
		h.Apply(r, mapping)
	}
}

// ParseYMD converts a string of the form "yyyy-MM-dd" to a date Value.
// An empty string returns Null, matching pyetlmr's ymdparser(None) = None.
func ParseYMD(s string) (Value, error) {
	if s == "" {
		return Null, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Null, fmt.Errorf("row: parsing date %q: %w", s, err)
	}
	return Date(t), nil
}

// ParseYMDHMS converts a string of the form "yyyy-MM-dd HH:mm:ss" to a
// date Value with second granularity.
func ParseYMDHMS(s string) (Value, error) {
	if s == "" {
		return Null, nil
	}
	parts := strings.SplitN(s, " ", 2)
	if len(parts) != 2 {
		return Null, fmt.Errorf("row: parsing timestamp %q: missing time part", s)
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return Null, fmt.Errorf("row: parsing timestamp %q: %w", s, err)
	}
	return Date(t), nil
}

// MaxDate is the open-ended sentinel used when a Type-2 SCD version's
// toatt is null, matching pyetlmr's literal '9999-12-31'.
var MaxDate = Date(time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC))

// jsonValue is Value's wire representation, used for shelve persistence
// and as the basis of a dimension's stable lookup-tuple keys.
type jsonValue struct {
	Kind string `json:"k"`
	S    string `json:"s,omitempty"`
	I    int64  `json:"i,omitempty"`
	D    string `json:"d,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	jv := jsonValue{}
	switch v.kind {
	case 's':
		jv.Kind, jv.S = "s", v.s
	case 'i':
		jv.Kind, jv.I = "i", v.i
	case 'd':
		jv.Kind, jv.D = "d", v.d.Format(time.RFC3339)
	default:
		jv.Kind = "n"
	}
	return json.Marshal(jv)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}
	switch jv.Kind {
	case "s":
		*v = String(jv.S)
	case "i":
		*v = Int(jv.I)
	case "d":
		t, err := time.Parse(time.RFC3339, jv.D)
		if err != nil {
			return fmt.Errorf("row: decoding date value: %w", err)
		}
		*v = Date(t)
	default:
		*v = Null
	}
	return nil
}

// SearchKey encodes a tuple of values into a stable string key, used by
// dimension lookups to index the shelved store by lookup-attribute values.
func SearchKey(values []Value) (string, error) {
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("row: encoding search key: %w", err)
	}
	return string(b), nil
}

// DecodeSearchKey is SearchKey's inverse, used by stores that must turn a
// dimension's lookup key back into the tuple of values it was built from
// (e.g. to construct a WHERE clause against the live warehouse).
func DecodeSearchKey(key string) ([]Value, error) {
	var values []Value
	if err := json.Unmarshal([]byte(key), &values); err != nil {
		return nil, fmt.Errorf("row: decoding search key %q: %w", key, err)
	}
	return values, nil
}
