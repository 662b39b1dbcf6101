// Package keyserver implements the central surrogate-key TCP service the
// ODAT strategy uses to keep multiple parallel reducers handing out
// disjoint surrogate keys: one line-oriented connection per client,
// reading a dimension name and returning the next integer key for it.
package keyserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/etlmr-go/etlmr/internal/metrics"
	"github.com/etlmr-go/etlmr/internal/sqlconn"
)

// DefaultPort is the TCP port the key server listens on.
const DefaultPort = 8888

// DimensionSpec names a dimension the server must seed its counter for,
// including snowflaked children (each must be seeded independently: the
// protocol addresses dimensions by name, not by snowflake membership).
type DimensionSpec struct {
	Name string
	Key  string
}

// Server hands out monotonically increasing integer keys per dimension
// name over a line-oriented TCP protocol: a client sends a dimension
// name followed by a newline, and receives the next integer for it
// followed by a newline. Sending "END" or an empty line closes the
// connection.
type Server struct {
	mu       sync.Mutex
	counters map[string]int64
	log      *logrus.Entry
}

// Seed builds a Server whose counters start at one past the maximum key
// currently present in the warehouse for each dimension in specs,
// matching pyetlmr's seq_init: SELECT MAX(key) FROM name for every
// dimension, including snowflaked children.
func Seed(ctx context.Context, con *sqlconn.Connection, specs []DimensionSpec) (*Server, error) {
	counters := make(map[string]int64, len(specs))
	for _, spec := range specs {
		stmt := fmt.Sprintf("SELECT MAX(%s) FROM %s", spec.Key, spec.Name)
		if err := con.Query(ctx, stmt); err != nil {
			return nil, fmt.Errorf("keyserver: seeding %s: %w", spec.Name, err)
		}
		tup, ok, err := con.FetchOneTuple()
		if err != nil {
			return nil, err
		}
		if ok && tup[0] != nil {
			if n, ok := tup[0].(int64); ok {
				counters[spec.Name] = n
			}
		}
	}
	return &Server{counters: counters, log: logrus.WithField("component", "keyserver")}, nil
}

// Serve accepts connections on addr (":8888" for all interfaces on the
// default port) until ctx is canceled or listening fails.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("keyserver: listening on %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("keyserver: accept: %w", err)
			}
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		name := scanner.Text()
		if name == "END" || name == "" {
			return
		}
		metrics.KeyServerRequests.Inc()
		next := s.nextID(name)
		if _, err := fmt.Fprintf(conn, "%d\n", next); err != nil {
			s.log.WithError(err).Warn("keyserver: writing response failed")
			return
		}
	}
}

// nextID is the only state mutation in the server; since each client
// connection is handled on its own goroutine, every access must be
// serialized. A single global lock is fine here: the protocol is a short
// read-and-increment, never a bottleneck relative to the job it feeds.
func (s *Server) nextID(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.counters[name] + 1
	s.counters[name] = next
	return next
}
