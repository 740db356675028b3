package database

import (
	"context"
	"errors"
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	driver.Conn
	pingErr error
	execErr error
	execs   []string
	closed  int
}

func (c *fakeConn) Ping(context.Context) error { return c.pingErr }

func (c *fakeConn) Exec(_ context.Context, query string, _ ...any) error {
	c.execs = append(c.execs, query)
	return c.execErr
}

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}

func TestOpen_ClosesConnOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		conn    *fakeConn
		wantErr string
	}{
		{"ping", &fakeConn{pingErr: errors.New("connection refused")}, "failed to ping ClickHouse"},
		{"schema", &fakeConn{execErr: errors.New("read only")}, "failed to initialize schema"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := open(context.Background(), tt.conn, "localhost:9000")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Nil(t, db)
			assert.Equal(t, 1, tt.conn.closed)
		})
	}
}

func TestOpen_InitializesSchema(t *testing.T) {
	conn := &fakeConn{}
	db, err := open(context.Background(), conn, "localhost:9000")
	require.NoError(t, err)
	require.NotNil(t, db)

	assert.Equal(t, AllTables(), conn.execs)
	assert.Zero(t, conn.closed)

	require.NoError(t, db.Close())
	assert.Equal(t, 1, conn.closed)
}
