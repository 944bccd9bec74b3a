package realtime

import (
	"context"
	"encoding/json"
)

// MemorySource — источник для демо-режима и тестов: изменения публикуются вручную.
type MemorySource struct {
	ch chan []byte
}

func NewMemorySource(buffer int) *MemorySource {
	return &MemorySource{ch: make(chan []byte, buffer)}
}

// Publish кладёт изменение в очередь; при переполнении изменение теряется.
func (s *MemorySource) Publish(c Change) bool {
	data, err := json.Marshal(c)
	if err != nil {
		return false
	}
	select {
	case s.ch <- data:
		return true
	default:
		return false
	}
}

func (s *MemorySource) Listen(ctx context.Context, deliver func([]byte)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-s.ch:
			deliver(p)
		}
	}
}
