package row

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProjectRoundTrip(t *testing.T) {
	r := Row{"url": String("http://x.org/p"), "size": Int(10)}
	atts := []string{"url", "size"}

	p1 := Project(atts, r, nil)
	p2 := Project(atts, p1, nil)
	require.Equal(t, p1, p2)
}

func TestProjectWithMapping(t *testing.T) {
	r := Row{"downloaddate": String("2020-01-01")}
	mapping := Mapping{"date": "downloaddate"}

	p := Project([]string{"date"}, r, mapping)
	require.Equal(t, String("2020-01-01"), p["date"])
}

func TestRenameInvolutive(t *testing.T) {
	r := Row{"a": Int(1), "b": Int(2)}
	forward := map[string]string{"a": "x", "b": "y"}
	backward := map[string]string{"x": "a", "y": "b"}

	clone := r.Clone()
	Rename(clone, forward)
	Rename(clone, backward)
	require.Equal(t, r, clone)
}

func TestCopyWithRenaming(t *testing.T) {
	r := Row{"oldname": Int(5), "other": Int(6)}
	out := Copy(r, map[string]string{"newname": "oldname"})

	require.Equal(t, Int(5), out["newname"])
	require.Equal(t, Int(6), out["other"])
	_, hasOld := out["oldname"]
	require.False(t, hasOld)
}

func TestSetDefaultsDoesNotOverwrite(t *testing.T) {
	r := Row{"a": Int(1)}
	SetDefaults(r, map[string]Value{"a": Int(99), "b": Int(2)})
	require.Equal(t, Int(1), r["a"])
	require.Equal(t, Int(2), r["b"])
}

func TestParseYMD(t *testing.T) {
	v, err := ParseYMD("2020-06-15")
	require.NoError(t, err)
	tm, ok := v.Time()
	require.True(t, ok)
	require.Equal(t, 2020, tm.Year())
	require.Equal(t, 6, int(tm.Month()))
	require.Equal(t, 15, tm.Day())

	null, err := ParseYMD("")
	require.NoError(t, err)
	require.True(t, null.IsNull())
}

func TestClockMemoizesFirstCall(t *testing.T) {
	c := NewClock()
	a := c.Today()
	b := c.Today()
	require.True(t, a.Equal(b))
}

func TestApplyAllRunsInOrder(t *testing.T) {
	var order []int
	h1 := RowHandlerFunc(func(r Row, m Mapping) { order = append(order, 1) })
	h2 := RowHandlerFunc(func(r Row, m Mapping) { order = append(order, 2) })
	ApplyAll([]RowHandler{h1, h2}, Row{}, nil)
	require.Equal(t, []int{1, 2}, order)
}
