package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/agrilovers/internal/logger"
)

var ErrClosed = errors.New("realtime broker closed")

type Handler func(Change)

// Source доставляет сырые JSON-уведомления до отмены ctx.
type Source interface {
	Listen(ctx context.Context, deliver func(payload []byte)) error
}

// Channel — живая подписка. Освобождается только через Broker.RemoveChannel.
type Channel struct {
	id      uint64
	name    string
	filter  Filter
	handler Handler
	removed atomic.Bool
}

func (c *Channel) Name() string   { return c.name }
func (c *Channel) Filter() Filter { return c.filter }

// Active — канал ещё не удалён из брокера.
func (c *Channel) Active() bool { return c != nil && !c.removed.Load() }

// Broker раздаёт изменения из Source подпискам, чей фильтр совпал.
type Broker struct {
	src Source

	mu       sync.RWMutex
	channels map[uint64]*Channel
	nextID   uint64
	closed   bool
}

func NewBroker(src Source) *Broker {
	return &Broker{src: src, channels: make(map[uint64]*Channel)}
}

func (b *Broker) Subscribe(name string, f Filter, h Handler) (*Channel, error) {
	if f.Table == "" {
		return nil, errors.New("realtime subscribe: empty table")
	}
	if h == nil {
		return nil, errors.New("realtime subscribe: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	ch := &Channel{id: b.nextID, name: name, filter: f, handler: h}
	b.channels[ch.id] = ch
	logger.Debugf("realtime: subscribed %s (%s), active=%d", name, f, len(b.channels))
	return ch, nil
}

// RemoveChannel идемпотентен: nil, уже удалённый или чужой канал — no-op.
func (b *Broker) RemoveChannel(ch *Channel) {
	if ch == nil || !ch.removed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	delete(b.channels, ch.id)
	n := len(b.channels)
	b.mu.Unlock()
	logger.Debugf("realtime: removed %s, active=%d", ch.name, n)
}

// ActiveNames — имена живых каналов в порядке создания.
func (b *Broker) ActiveNames() []string {
	b.mu.RLock()
	chs := make([]*Channel, 0, len(b.channels))
	for _, ch := range b.channels {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()
	sort.Slice(chs, func(i, j int) bool { return chs[i].id < chs[j].id })
	names := make([]string, len(chs))
	for i, ch := range chs {
		names[i] = ch.name
	}
	return names
}

func (b *Broker) ActiveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}

// Dispatch декодирует уведомление и вызывает обработчики совпавших каналов.
func (b *Broker) Dispatch(payload []byte) {
	var c Change
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&c); err != nil {
		logger.Warnf("realtime: bad payload: %v", err)
		return
	}
	b.Deliver(c)
}

func (b *Broker) Deliver(c Change) {
	b.mu.RLock()
	var matched []*Channel
	for _, ch := range b.channels {
		if ch.filter.Match(c) {
			matched = append(matched, ch)
		}
	}
	b.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	for _, ch := range matched {
		// канал мог быть удалён между снимком и вызовом
		if !ch.Active() {
			continue
		}
		ch.handler(c)
	}
}

// Run слушает источник до отмены ctx.
func (b *Broker) Run(ctx context.Context) error {
	if b.src == nil {
		<-ctx.Done()
		return nil
	}
	err := b.src.Listen(ctx, b.Dispatch)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close снимает все каналы; дальнейшие Subscribe возвращают ErrClosed.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	chs := b.channels
	b.channels = make(map[uint64]*Channel)
	b.mu.Unlock()
	for _, ch := range chs {
		ch.removed.Store(true)
	}
}
