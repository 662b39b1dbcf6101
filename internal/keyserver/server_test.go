package keyserver

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func noopLogEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestServerHandsOutIncreasingKeys(t *testing.T) {
	s := &Server{counters: map[string]int64{}, log: noopLogEntry()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, "127.0.0.1:18889") }()
	time.Sleep(50 * time.Millisecond)

	c, err := Dial("127.0.0.1:18889")
	require.NoError(t, err)
	defer c.Close()

	id1, err := c.Next("pagedim")
	require.NoError(t, err)
	id2, err := c.Next("pagedim")
	require.NoError(t, err)
	require.Equal(t, id1+1, id2)

	id3, err := c.Next("domaindim")
	require.NoError(t, err)
	require.Equal(t, int64(1), id3) // independent counter per dimension
}

func TestServerSeedsFromMaxKey(t *testing.T) {
	s := &Server{counters: map[string]int64{"pagedim": 500}, log: noopLogEntry()}
	require.Equal(t, int64(501), s.nextID("pagedim"))
	require.Equal(t, int64(502), s.nextID("pagedim"))
}
