package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/realtime"
)

// background — фоновые каналы пользователя. Не зависят от открытой беседы.
type background struct {
	userID   string
	channels []*realtime.Channel
}

// StartBackground открывает фоновые каналы при входе пользователя: активность
// бесед, новые посты, личные уведомления. Повторный вызов для того же
// пользователя ничего не делает. Каналы, которые открыть не удалось,
// перечисляются в ошибке; открытые остаются до StopBackground.
func (s *Session) StartBackground(userID string) error {
	if userID == "" {
		return gateway.ErrNotAuthenticated
	}
	s.bgMu.Lock()
	defer s.bgMu.Unlock()

	s.mu.Lock()
	if s.bg != nil && s.bg.userID == userID {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.stopBackground()

	s.mu.Lock()
	s.bgGen++
	gen := s.bgGen
	s.mu.Unlock()

	bg := &background{userID: userID}
	var errs []error
	open := func(what string, ch *realtime.Channel, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
			return
		}
		bg.channels = append(bg.channels, ch)
	}
	if s.direct != nil {
		ch, err := s.direct.SubscribeToChatActivity(func(chatID, senderID string) {
			s.onChatActivity(gen, userID, chatID, senderID)
		})
		open("chat activity", ch, err)
	}
	if s.posts != nil {
		ch, err := s.posts.SubscribeToPosts(func(postID, authorID string) {
			s.onPost(gen, userID, postID, authorID)
		})
		open("posts", ch, err)
	}
	if s.notifs != nil {
		ch, err := s.notifs.SubscribeToNotifications(userID, func(id, actorID string) {
			s.onNotification(gen, userID, id, actorID)
		})
		open("notifications", ch, err)
	}

	s.mu.Lock()
	s.bg = bg
	s.mu.Unlock()
	logger.Infof("session: background channels for %s: %d open", userID, len(bg.channels))
	if len(errs) > 0 {
		return fmt.Errorf("session.StartBackground: %w", errors.Join(errs...))
	}
	return nil
}

// StopBackground закрывает фоновые каналы ровно один раз; повтор — no-op.
// Ждёт завершения идущего StartBackground.
func (s *Session) StopBackground() {
	s.bgMu.Lock()
	defer s.bgMu.Unlock()
	s.stopBackground()
}

func (s *Session) stopBackground() {
	s.mu.Lock()
	bg := s.bg
	s.bg = nil
	s.bgGen++
	s.mu.Unlock()
	if bg == nil || s.channels == nil {
		return
	}
	for _, ch := range bg.channels {
		s.channels.RemoveChannel(ch)
	}
	logger.Debugf("session: background channels for %s closed", bg.userID)
}

// BackgroundActive — открыты ли фоновые каналы.
func (s *Session) BackgroundActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bg != nil
}

// MarkPostSeen запоминает id своего только что созданного поста, чтобы эхо
// из канала постов не добавило его в ленту второй раз.
func (s *Session) MarkPostSeen(id string) {
	s.recent.add(id)
}

func (s *Session) bgCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.bgGen
}

func (s *Session) onChatActivity(gen uint64, uid, chatID, senderID string) {
	if senderID == uid || !s.bgCurrent(gen) {
		return
	}
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	s.renderer.ChatActivity(chatID)
}

func (s *Session) onPost(gen uint64, uid, postID, authorID string) {
	if authorID == uid || !s.bgCurrent(gen) {
		return
	}
	if !s.recent.add(postID) {
		return
	}
	p, err := gateway.WithTimeout(context.Background(), s.timeout, func(ctx context.Context) (*model.Post, error) {
		return s.posts.GetPost(ctx, postID)
	})
	if err != nil {
		logger.Warnf("session: fetch post %s: %v", postID, err)
		return
	}
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if s.bgCurrent(gen) {
		s.renderer.NewPost(*p)
	}
}

func (s *Session) onNotification(gen uint64, uid, id, actorID string) {
	if actorID == uid || !s.bgCurrent(gen) {
		return
	}
	n, err := gateway.WithTimeout(context.Background(), s.timeout, func(ctx context.Context) (*model.Notification, error) {
		return s.notifs.Get(ctx, id)
	})
	if err != nil {
		logger.Warnf("session: fetch notification %s: %v", id, err)
		return
	}
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if s.bgCurrent(gen) {
		s.renderer.NewNotification(*n)
	}
}

// recentSet — id, виденные за последние ttl.
type recentSet struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newRecentSet(ttl time.Duration) *recentSet {
	return &recentSet{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

// add возвращает false, если id уже встречался в пределах ttl.
func (r *recentSet) add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for k, at := range r.seen {
		if now.Sub(at) > r.ttl {
			delete(r.seen, k)
		}
	}
	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = now
	return true
}
