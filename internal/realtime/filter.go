package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event — тип изменения строки.
type Event string

const (
	EventInsert Event = "INSERT"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
	EventAll    Event = "*"
)

// Change — полезная нагрузка уведомления из триггера notify_change().
// Record считается неполным и не доверенным: получатель перечитывает строку по id.
type Change struct {
	Table     string         `json:"table"`
	Type      Event          `json:"type"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record,omitempty"`
}

// Field возвращает значение колонки как строку; для DELETE берётся old_record.
func (c Change) Field(column string) string {
	rec := c.Record
	if c.Type == EventDelete && c.OldRecord != nil {
		rec = c.OldRecord
	}
	v, ok := rec[column]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	return fmt.Sprint(v)
}

// Filter — область подписки: таблица, тип события и необязательный предикат column=eq.value.
type Filter struct {
	Table  string
	Event  Event
	Column string
	Value  string
}

// ParseFilter разбирает предикат вида "chat_id=eq.123". Пустое выражение — без предиката.
func ParseFilter(table string, event Event, expr string) (Filter, error) {
	f := Filter{Table: table, Event: event}
	if f.Event == "" {
		f.Event = EventAll
	}
	if table == "" {
		return Filter{}, fmt.Errorf("realtime filter: empty table")
	}
	if expr == "" {
		return f, nil
	}
	col, rest, ok := strings.Cut(expr, "=")
	if !ok || col == "" {
		return Filter{}, fmt.Errorf("realtime filter %q: expected column=eq.value", expr)
	}
	op, val, ok := strings.Cut(rest, ".")
	if !ok || op != "eq" {
		return Filter{}, fmt.Errorf("realtime filter %q: only eq is supported", expr)
	}
	f.Column, f.Value = col, val
	return f, nil
}

func (f Filter) String() string {
	s := string(f.Event) + ":" + f.Table
	if f.Column != "" {
		s += ":" + f.Column + "=eq." + f.Value
	}
	return s
}

// Match проверяет, относится ли изменение к подписке.
func (f Filter) Match(c Change) bool {
	if f.Table != c.Table {
		return false
	}
	if f.Event != EventAll && f.Event != "" && f.Event != c.Type {
		return false
	}
	if f.Column == "" {
		return true
	}
	return c.Field(f.Column) == f.Value
}
