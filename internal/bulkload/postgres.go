package bulkload

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/lib/pq"
)

// PostgresCopyLoader returns a Loader that streams a temp file's rows
// into table via the COPY protocol (lib/pq's CopyIn), the idiomatic Go
// equivalent of pyetlmr's cursor.copy_from.
func PostgresCopyLoader(db *sql.DB) Loader {
	return func(table string, attributes []string, fieldsep, rowsep, nullsubst string, tempfile *os.File) error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("bulkload: begin copy transaction: %w", err)
		}

		stmt, err := tx.Prepare(pq.CopyIn(table, attributes...))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("bulkload: preparing copy into %s: %w", table, err)
		}

		scanner := bufio.NewScanner(tempfile)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			fields := strings.Split(line, fieldsep)
			args := make([]any, len(fields))
			for i, f := range fields {
				if nullsubst != "" && f == nullsubst {
					args[i] = nil
				} else {
					args[i] = f
				}
			}
			if _, err := stmt.Exec(args...); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("bulkload: copy row into %s: %w", table, err)
			}
		}
		if err := scanner.Err(); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("bulkload: reading temp file: %w", err)
		}

		if _, err := stmt.Exec(); err != nil {
			stmt.Close()
			tx.Rollback()
			return fmt.Errorf("bulkload: finalizing copy into %s: %w", table, err)
		}
		if err := stmt.Close(); err != nil {
			tx.Rollback()
			return fmt.Errorf("bulkload: closing copy statement: %w", err)
		}
		return tx.Commit()
	}
}
