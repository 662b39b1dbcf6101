package bulkload

import (
	"bufio"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etlmr-go/etlmr/internal/row"
)

func TestBulkFactTableFlushesAtBulkSize(t *testing.T) {
	var loadedTables []string
	var loadedRows [][]string

	loader := func(table string, attributes []string, fieldsep, rowsep, nullsubst string, f *os.File) error {
		loadedTables = append(loadedTables, table)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if scanner.Text() == "" {
				continue
			}
			loadedRows = append(loadedRows, strings.Split(scanner.Text(), fieldsep))
		}
		return scanner.Err()
	}

	b, err := New("sales", []string{"dateid", "productid"}, []string{"amount"}, loader, WithBulkSize(2))
	require.NoError(t, err)

	require.NoError(t, b.Insert(row.Row{"dateid": row.Int(1), "productid": row.Int(10), "amount": row.Int(100)}, nil))
	require.NoError(t, b.Insert(row.Row{"dateid": row.Int(2), "productid": row.Int(20), "amount": row.Int(200)}, nil))
	// bulksize reached: automatic flush
	require.Len(t, loadedTables, 1)
	require.Len(t, loadedRows, 2)

	require.NoError(t, b.Insert(row.Row{"dateid": row.Int(3), "productid": row.Int(30), "amount": row.Int(300)}, nil))
	require.NoError(t, b.EndLoad())
	require.Len(t, loadedTables, 2)
	require.Len(t, loadedRows, 3)
}

func TestBulkFactTableSubstitutesNulls(t *testing.T) {
	var lines []string
	loader := func(table string, attributes []string, fieldsep, rowsep, nullsubst string, f *os.File) error {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if scanner.Text() != "" {
				lines = append(lines, scanner.Text())
			}
		}
		return scanner.Err()
	}

	b, err := New("sales", []string{"dateid"}, []string{"amount"}, loader, WithNullSubst(`\N`), WithBulkSize(1))
	require.NoError(t, err)

	require.NoError(t, b.Insert(row.Row{"dateid": row.Int(1), "amount": row.Null}, nil))
	require.NoError(t, b.EndLoad())

	require.Equal(t, []string{"1\t\\N"}, lines)
}
