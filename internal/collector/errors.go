package collector

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"dbinventory/internal/core"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/godror/godror"
	"github.com/lib/pq"
)

var (
	mysqlDenied  = map[uint16]bool{1044: true, 1045: true, 1142: true, 1143: true, 1227: true}
	pqDenied     = map[pq.ErrorCode]bool{"42501": true, "28000": true}
	mssqlDenied  = map[int32]bool{229: true, 230: true, 297: true, 300: true, 916: true, 18456: true}
	oracleDenied = map[int]bool{942: true, 1031: true, 1017: true}
)

// IsPermissionDenied reports whether err is a vendor privilege or
// authorization error.
func IsPermissionDenied(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return mysqlDenied[me.Number]
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pqDenied[pe.Code]
	}
	var se mssql.Error
	if errors.As(err, &se) {
		return mssqlDenied[se.Number]
	}
	if oe, ok := godror.AsOraErr(err); ok {
		return oracleDenied[oe.Code()]
	}
	return false
}

// IsTransport reports network level failures.
func IsTransport(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// classify maps a catalog query error to a core code. ctx is the caller's
// context, so a query deadline is told apart from a cancelled session.
func classify(ctx context.Context, err error) error {
	const op = "collector.query"
	switch {
	case ctx.Err() != nil:
		return core.E(core.CodeCancelled, op, ctx.Err())
	case IsPermissionDenied(err):
		return core.E(core.CodeCollectPartial, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return core.Errorf(core.CodeCollect, op, "query timeout: %v", err)
	case IsTransport(err):
		return core.E(core.CodeConnect, op, err)
	}
	return core.E(core.CodeCollect, op, err)
}
