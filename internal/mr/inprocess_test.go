package mr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type wordMapper struct{}

func (wordMapper) Map(ctx context.Context, record any, emit func(KeyValue)) error {
	emit(KeyValue{Key: record.(string), Value: 1})
	return nil
}

type sumReducer struct{}

func (sumReducer) Reduce(ctx context.Context, key string, values []any, emit func(KeyValue)) error {
	sum := 0
	for _, v := range values {
		sum += v.(int)
	}
	emit(KeyValue{Key: key, Value: sum})
	return nil
}

func TestLocalRunCountsOccurrences(t *testing.T) {
	job := Job{Mapper: wordMapper{}, Reducer: sumReducer{}, NrReduces: 2}
	l := &Local{}

	out, err := l.Run(context.Background(), job, []any{"a", "b", "a", "c", "b", "a"})
	require.NoError(t, err)

	counts := make(map[string]int)
	for _, kv := range out {
		counts[kv.Key] = kv.Value.(int)
	}
	require.Equal(t, 3, counts["a"])
	require.Equal(t, 2, counts["b"])
	require.Equal(t, 1, counts["c"])
}
