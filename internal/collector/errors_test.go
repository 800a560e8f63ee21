package collector

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"dbinventory/internal/core"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		err  error
		want core.Code
	}{
		{"mysql table denied", &mysql.MySQLError{Number: 1142, Message: "SELECT command denied"}, core.CodeCollectPartial},
		{"mysql syntax", &mysql.MySQLError{Number: 1064}, core.CodeCollect},
		{"pq insufficient privilege", &pq.Error{Code: "42501"}, core.CodeCollectPartial},
		{"mssql cannot access database", fmt.Errorf("wrapped: %w", mssql.Error{Number: 916}), core.CodeCollectPartial},
		{"mssql deadlock", mssql.Error{Number: 1205}, core.CodeCollect},
		{"bad conn", driver.ErrBadConn, core.CodeConnect},
		{"net", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset")}, core.CodeConnect},
		{"timeout", context.DeadlineExceeded, core.CodeCollect},
		{"other", errors.New("boom"), core.CodeCollect},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, core.CodeOf(classify(ctx, c.err)))
		})
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, core.CodeCancelled, core.CodeOf(classify(cancelled, errors.New("interrupted"))))
}
