package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"
)

// txRecorder counts transaction outcomes observed by the fake driver.
type txRecorder struct {
	commits   int
	rollbacks int
}

type fakeDriver struct{ rec *txRecorder }

func (d *fakeDriver) Open(string) (driver.Conn, error) { return &fakeConn{rec: d.rec}, nil }

type fakeConn struct{ rec *txRecorder }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return &fakeTx{rec: c.rec}, nil }

type fakeTx struct{ rec *txRecorder }

func (t *fakeTx) Commit() error   { t.rec.commits++; return nil }
func (t *fakeTx) Rollback() error { t.rec.rollbacks++; return nil }

var txRec = &txRecorder{}

func init() {
	sql.Register("txfake", &fakeDriver{rec: txRec})
}

func openFake(t *testing.T) *sql.DB {
	t.Helper()
	*txRec = txRecorder{}
	db, err := sql.Open("txfake", "")
	if err != nil {
		t.Fatalf("open fake db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	db := openFake(t)

	err := WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if txRec.commits != 1 || txRec.rollbacks != 0 {
		t.Fatalf("expected one commit and no rollback, got commits=%d rollbacks=%d", txRec.commits, txRec.rollbacks)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openFake(t)
	boom := errors.New("write failed")

	err := WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the unit-of-work error, got %v", err)
	}
	if txRec.commits != 0 || txRec.rollbacks != 1 {
		t.Fatalf("expected rollback only, got commits=%d rollbacks=%d", txRec.commits, txRec.rollbacks)
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := openFake(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("panic must propagate out of WithTx")
			}
		}()
		_ = WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error {
			panic("unit of work panicked")
		})
	}()

	if txRec.commits != 0 || txRec.rollbacks != 1 {
		t.Fatalf("expected rollback only, got commits=%d rollbacks=%d", txRec.commits, txRec.rollbacks)
	}
}

func TestPoolConfigDefaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 25 || got.MaxIdleConns != 25 {
		t.Fatalf("unexpected conn defaults: %+v", got)
	}
	if got.ConnMaxLifetime != 30*time.Minute || got.ConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("unexpected lifetime defaults: %+v", got)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %+v", got)
	}

	custom := PostgresPoolConfig{MaxOpenConns: 4, PingTimeout: time.Second}.withDefaults()
	if custom.MaxOpenConns != 4 || custom.PingTimeout != time.Second {
		t.Fatalf("explicit values must be kept: %+v", custom)
	}
}
