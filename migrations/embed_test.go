package migrations

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type recordExec struct {
	sqls   []string
	failOn int
}

func (r *recordExec) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.sqls = append(r.sqls, sql)
	if r.failOn > 0 && len(r.sqls) == r.failOn {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	return pgconn.CommandTag{}, nil
}

func TestNamesOrdered(t *testing.T) {
	names, err := Names()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"001_schema.sql", "002_views.sql", "003_realtime.sql"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestApplyRunsAll(t *testing.T) {
	r := &recordExec{}
	if err := Apply(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if len(r.sqls) != 3 {
		t.Fatalf("executed %d migrations", len(r.sqls))
	}
	if !strings.Contains(r.sqls[1], "posts_with_stats") {
		t.Error("views migration out of order")
	}
	if !strings.Contains(r.sqls[2], "notify_change") {
		t.Error("realtime migration missing notify_change")
	}
}

func TestApplyStopsOnError(t *testing.T) {
	r := &recordExec{failOn: 2}
	err := Apply(context.Background(), r)
	if err == nil || !strings.Contains(err.Error(), "002_views.sql") {
		t.Fatalf("err = %v", err)
	}
	if len(r.sqls) != 2 {
		t.Errorf("executed %d, want stop after failure", len(r.sqls))
	}
}
