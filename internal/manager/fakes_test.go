package manager

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/realtime"
)

type staticSession string

func (s staticSession) UserID() string      { return string(s) }
func (s staticSession) AccessToken() string { return "" }

// result — ответ fakeDB на один запрос.
type result struct {
	rows [][]any
	tag  string
	err  error
}

type rule struct {
	match   string
	results []result
}

type call struct {
	sql  string
	args []any
}

// fakeDB отвечает по первому правилу, чей фрагмент входит в SQL. Очередь ответов
// правила расходуется по одному; последний ответ повторяется.
type fakeDB struct {
	mu    sync.Mutex
	rules []*rule
	calls []call
}

func newFakeDB() *fakeDB { return &fakeDB{} }

func (f *fakeDB) on(match string, res ...result) *fakeDB {
	f.rules = append(f.rules, &rule{match: match, results: res})
	return f
}

func (f *fakeDB) next(sql string, args []any) result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{sql: sql, args: args})
	for _, r := range f.rules {
		if !strings.Contains(sql, r.match) || len(r.results) == 0 {
			continue
		}
		res := r.results[0]
		if len(r.results) > 1 {
			r.results = r.results[1:]
		}
		return res
	}
	return result{}
}

func (f *fakeDB) called(fragment string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c.sql, fragment) {
			n++
		}
	}
	return n
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	res := f.next(sql, args)
	return pgconn.NewCommandTag(res.tag), res.err
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	res := f.next(sql, args)
	if res.err != nil {
		return nil, res.err
	}
	return &fakeRows{rows: res.rows, i: -1}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	res := f.next(sql, args)
	return fakeRow{res: res}
}

type fakeRow struct{ res result }

func (r fakeRow) Scan(dest ...any) error {
	if r.res.err != nil {
		return r.res.err
	}
	if len(r.res.rows) == 0 {
		return pgx.ErrNoRows
	}
	return assign(dest, r.res.rows[0])
}

type fakeRows struct {
	rows [][]any
	i    int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.i], nil }

func (r *fakeRows) Next() bool {
	r.i++
	return r.i < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	if err := assign(dest, r.rows[r.i]); err != nil {
		r.err = err
		return err
	}
	return nil
}

// assign раскладывает значения по указателям, приводя совместимые типы.
func assign(dest []any, src []any) error {
	if len(dest) != len(src) {
		return fmt.Errorf("fake scan: %d destinations, %d values", len(dest), len(src))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		if src[i] == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		sv := reflect.ValueOf(src[i])
		switch {
		case sv.Type().AssignableTo(dv.Type()):
			dv.Set(sv)
		case dv.Kind() == reflect.Pointer && sv.Type().AssignableTo(dv.Type().Elem()):
			p := reflect.New(dv.Type().Elem())
			p.Elem().Set(sv)
			dv.Set(p)
		case sv.Kind() == dv.Kind() && sv.Type().ConvertibleTo(dv.Type()):
			dv.Set(sv.Convert(dv.Type()))
		default:
			return fmt.Errorf("fake scan: column %d: %T into %s", i, src[i], dv.Type())
		}
	}
	return nil
}

func pgErr(code string) error { return &pgconn.PgError{Code: code, Message: "fake " + code} }

// newTestGateway — шлюз над fakeDB, брокером без источника и пользователем uid.
func newTestGateway(db *fakeDB, uid string) (*gateway.Gateway, *realtime.Broker) {
	b := realtime.NewBroker(nil)
	gw := gateway.New(gateway.Options{
		Session:  staticSession(uid),
		DB:       db,
		Realtime: b,
		Limits:   gateway.UploadLimits{MaxFiles: 4, MaxFileSize: 5 << 20, AllowedTypes: []string{"image/jpeg", "image/png"}},
	})
	return gw, b
}

// memStore — DraftStore в памяти.
type memStore struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemStore() *memStore { return &memStore{m: map[string]string{}} }

func (s *memStore) Get(_ context.Context, k string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[k], nil
}

func (s *memStore) Set(_ context.Context, k, v string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = v
	return nil
}

func (s *memStore) Delete(_ context.Context, k string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, k)
	return nil
}

// uploadRecorder — ObjectStore, запоминающий пути. Содержимое "bad" не загружается.
type uploadRecorder struct {
	paths []string
}

func (u *uploadRecorder) Upload(_ context.Context, bucket, path, _ string, data []byte) (string, error) {
	if string(data) == "bad" {
		return "", fmt.Errorf("upload failed")
	}
	u.paths = append(u.paths, bucket+"/"+path)
	return "https://cdn.test/" + bucket + "/" + path, nil
}

func (u *uploadRecorder) Remove(context.Context, string, string) error { return nil }
