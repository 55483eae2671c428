package limiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const wallet = "0x52908400098527886E0F7030069857D2E4169EE7"

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	qrErr         error
	qrBlockedTill time.Time
	qrFails       int

	lastArgs []any
	execSQL  []string
	execErr  error
}

func (f *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.lastArgs = args
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.lastArgs = args
	switch {
	case strings.Contains(sql, "SELECT blocked_until"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(*time.Time)) = f.qrBlockedTill
			return nil
		}}
	case strings.Contains(sql, "RETURNING fail_count"):
		return fakeRow{scan: func(dest ...any) error {
			if f.qrErr != nil {
				return f.qrErr
			}
			*(dest[0].(*int)) = f.qrFails
			return nil
		}}
	}
	return fakeRow{scan: func(...any) error { return errors.New("unexpected query") }}
}

func newLimiter(fp *fakePool, now time.Time) *PG {
	l := NewPG(fp, 15*time.Minute, 5, 10*time.Minute)
	l.now = func() time.Time { return now }
	return l
}

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestAllow_NoHistory(t *testing.T) {
	l := newLimiter(&fakePool{qrErr: pgx.ErrNoRows}, now)
	ok, wait, err := l.Allow(context.Background(), wallet, HashIP("10.0.0.1"))
	if err != nil || !ok || wait != 0 {
		t.Fatalf("ok=%v wait=%v err=%v", ok, wait, err)
	}
}

func TestAllow_Blocked(t *testing.T) {
	l := newLimiter(&fakePool{qrBlockedTill: now.Add(3 * time.Minute)}, now)
	ok, wait, err := l.Allow(context.Background(), wallet, HashIP("10.0.0.1"))
	if err != nil || ok || wait != 3*time.Minute {
		t.Fatalf("ok=%v wait=%v err=%v", ok, wait, err)
	}
}

func TestAllow_BlockElapsed(t *testing.T) {
	l := newLimiter(&fakePool{qrBlockedTill: now.Add(-time.Second)}, now)
	ok, _, err := l.Allow(context.Background(), wallet, HashIP("10.0.0.1"))
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestAllow_DBError(t *testing.T) {
	l := newLimiter(&fakePool{qrErr: errors.New("db down")}, now)
	if ok, _, err := l.Allow(context.Background(), wallet, nil); err == nil || ok {
		t.Fatalf("want error, got ok=%v err=%v", ok, err)
	}
}

func TestSuccess_Resets(t *testing.T) {
	fp := &fakePool{}
	l := newLimiter(fp, now)
	if err := l.Success(context.Background(), wallet, HashIP("10.0.0.1")); err != nil {
		t.Fatal(err)
	}
	if len(fp.execSQL) != 1 || !strings.Contains(fp.execSQL[0], "fail_count=0") {
		t.Fatalf("unexpected exec: %v", fp.execSQL)
	}
	if fp.lastArgs[0] != wallet {
		t.Fatalf("keyed by %v", fp.lastArgs[0])
	}
}

func TestFailure_BelowThreshold(t *testing.T) {
	fp := &fakePool{qrFails: 4}
	blocked, wait, err := newLimiter(fp, now).Failure(context.Background(), wallet, HashIP("10.0.0.1"))
	if err != nil || blocked || wait != 0 {
		t.Fatalf("blocked=%v wait=%v err=%v", blocked, wait, err)
	}
	if len(fp.execSQL) != 0 {
		t.Fatalf("no block expected, exec=%v", fp.execSQL)
	}
}

func TestFailure_BlocksAtThreshold(t *testing.T) {
	fp := &fakePool{qrFails: 5}
	blocked, wait, err := newLimiter(fp, now).Failure(context.Background(), wallet, HashIP("10.0.0.1"))
	if err != nil || !blocked || wait != 10*time.Minute {
		t.Fatalf("blocked=%v wait=%v err=%v", blocked, wait, err)
	}
	if len(fp.execSQL) != 1 || !strings.Contains(fp.execSQL[0], "SET blocked_until") {
		t.Fatalf("must set blocked_until, exec=%v", fp.execSQL)
	}
	if until := fp.lastArgs[2].(time.Time); !until.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("blocked until %v", until)
	}
}

func TestFailure_QueryError(t *testing.T) {
	fp := &fakePool{qrErr: errors.New("boom")}
	if _, _, err := newLimiter(fp, now).Failure(context.Background(), wallet, nil); err == nil {
		t.Fatal("want error")
	}
}

func TestHashIP_IgnoresPort(t *testing.T) {
	a := HashIP("1.2.3.4:123")
	b := HashIP("1.2.3.4:9999")
	c := HashIP("1.2.3.4")
	d := HashIP("5.6.7.8:123")
	if string(a) != string(b) || string(a) != string(c) || string(a) == string(d) || len(a) != 32 {
		t.Fatalf("unexpected hashes")
	}
	if string(HashIP("[::1]:80")) != string(HashIP("::1")) {
		t.Fatalf("ipv6 host mismatch")
	}
}
