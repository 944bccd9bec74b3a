package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/agrilovers/internal/auth"
	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
)

// requireUser — общий вход действий записи. Без входа открывается окно
// аккаунта; в демо-режиме показывается подсказка.
func (c *Controller) requireUser() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Demo {
		c.toastLocked("info", "Connect a backend to use this feature")
		return gateway.ErrNotConfigured
	}
	if c.auth != nil && c.state.UserID == "" {
		c.state.openModal(ModalAccount)
		c.publishStateLocked()
		return ErrSignInRequired
	}
	return nil
}

func call(ctx context.Context, c *Controller, fn func(context.Context) error) error {
	_, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// keyedMutex сериализует действия по одному ключу (id поста).
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*keyedEntry)
	}
	e, ok := k.m[key]
	if !ok {
		e = &keyedEntry{}
		k.m[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}

// --- посты ---

// LikePost переключает лайк. Интерфейс обновляется сразу и откатывается при
// ошибке; повторные нажатия на один пост выполняются по очереди.
func (c *Controller) LikePost(ctx context.Context, postID string) (model.LikeState, error) {
	if err := c.requireUser(); err != nil {
		return model.LikeState{}, err
	}
	unlock := c.likes.lock(postID)
	defer unlock()

	c.mu.Lock()
	liked, known := c.likedLocked(postID)
	want := !liked
	if known {
		c.setLikeLocked(postID, want)
	}
	c.mu.Unlock()

	var (
		st  model.LikeState
		err error
	)
	if liked {
		err = call(ctx, c, func(ctx context.Context) error { return c.posts.UnlikePost(ctx, postID) })
		st = model.LikeState{PostID: postID, Liked: false}
	} else {
		st, err = gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (model.LikeState, error) {
			return c.posts.LikePost(ctx, postID)
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if known {
			c.setLikeLocked(postID, liked)
		}
		c.toastLocked("error", "Could not update like")
		return model.LikeState{}, fmt.Errorf("controller.LikePost: %w", err)
	}
	if st.Liked != want && known {
		c.setLikeLocked(postID, st.Liked)
	}
	return st, nil
}

// likedLocked ищет пост во всех загруженных списках.
func (c *Controller) likedLocked(id string) (liked, known bool) {
	for _, list := range c.postListsLocked() {
		if i := indexPost(list, id); i >= 0 {
			return list[i].UserLiked, true
		}
	}
	return false, false
}

func (c *Controller) postListsLocked() [][]model.Post {
	var out [][]model.Post
	for _, v := range []View{ViewFeed, ViewShowcase} {
		if cont, ok := c.state.Content[v]; ok {
			if list, ok := cont.Items.([]model.Post); ok {
				out = append(out, list)
			}
		}
	}
	if cont, ok := c.state.Content[ViewMarket]; ok {
		if mc, ok := cont.Items.(MarketContent); ok {
			out = append(out, mc.Listings)
		}
	}
	return out
}

// setLikeLocked меняет состояние лайка во всех списках (копия при записи).
func (c *Controller) setLikeLocked(id string, liked bool) {
	for _, v := range []View{ViewFeed, ViewShowcase} {
		cont, ok := c.state.Content[v]
		if !ok {
			continue
		}
		if list, ok := cont.Items.([]model.Post); ok {
			if next, changed := withLike(list, id, liked); changed {
				cont.Items = next
				c.publishViewLocked(v)
			}
		}
	}
	if cont, ok := c.state.Content[ViewMarket]; ok {
		if mc, ok := cont.Items.(MarketContent); ok {
			if next, changed := withLike(mc.Listings, id, liked); changed {
				mc.Listings = next
				cont.Items = mc
				c.publishViewLocked(ViewMarket)
			}
		}
	}
}

// insertPostLocked добавляет пост в подходящие загруженные списки. Повтор по id — no-op.
func (c *Controller) insertPostLocked(p model.Post) {
	published := false
	if cont, ok := c.state.Content[ViewFeed]; ok && c.state.Feed.match(p) {
		if list, ok := cont.Items.([]model.Post); ok {
			if next, added := insertPost(list, p); added {
				cont.Items = next
				c.publishViewLocked(ViewFeed)
				published = true
			}
		}
	}
	if cont, ok := c.state.Content[ViewShowcase]; ok && len(p.ImageURLs) > 0 {
		if list, ok := cont.Items.([]model.Post); ok {
			if next, added := insertPost(list, p); added {
				cont.Items = next
				c.publishViewLocked(ViewShowcase)
				published = true
			}
		}
	}
	if cont, ok := c.state.Content[ViewMarket]; ok && p.IsMarketPost {
		f := c.state.Market
		if mc, ok := cont.Items.(MarketContent); ok && (f.Type == "" || f.Type == p.MarketType) {
			if next, added := insertPost(mc.Listings, p); added {
				mc.Listings = next
				cont.Items = mc
				c.publishViewLocked(ViewMarket)
				published = true
			}
		}
	}
	if published {
		c.publish(Event{Type: EventPost, Payload: p})
	}
}

// CreatePost публикует пост; собственное эхо из канала постов подавляется.
func (c *Controller) CreatePost(ctx context.Context, np model.NewPost) (*model.Post, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	p, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.Post, error) {
		return c.posts.CreatePost(ctx, np)
	})
	if err != nil {
		c.toast("error", "Failed to create post")
		return nil, fmt.Errorf("controller.CreatePost: %w", err)
	}
	if c.conv != nil {
		c.conv.MarkPostSeen(p.ID)
	}
	c.mu.Lock()
	c.insertPostLocked(*p)
	c.state.closeModal(ModalCreatePost)
	c.publishStateLocked()
	c.toastLocked("success", "Post published")
	c.mu.Unlock()
	return p, nil
}

func (c *Controller) AddComment(ctx context.Context, postID, content string) (*model.Comment, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	cm, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.Comment, error) {
		return c.posts.AddComment(ctx, postID, content)
	})
	if err != nil {
		return nil, fmt.Errorf("controller.AddComment: %w", err)
	}
	c.mu.Lock()
	c.bumpCommentsLocked(postID)
	c.mu.Unlock()
	return cm, nil
}

func (c *Controller) bumpCommentsLocked(id string) {
	bump := func(list []model.Post) ([]model.Post, bool) {
		i := indexPost(list, id)
		if i < 0 {
			return list, false
		}
		out := append([]model.Post(nil), list...)
		out[i].CommentsCount++
		return out, true
	}
	for _, v := range []View{ViewFeed, ViewShowcase} {
		if cont, ok := c.state.Content[v]; ok {
			if list, ok := cont.Items.([]model.Post); ok {
				if next, ok := bump(list); ok {
					cont.Items = next
					c.publishViewLocked(v)
				}
			}
		}
	}
	if cont, ok := c.state.Content[ViewMarket]; ok {
		if mc, ok := cont.Items.(MarketContent); ok {
			if next, ok := bump(mc.Listings); ok {
				mc.Listings = next
				cont.Items = mc
				c.publishViewLocked(ViewMarket)
			}
		}
	}
}

func (c *Controller) GetComments(ctx context.Context, postID string) ([]model.Comment, error) {
	if c.isDemo() {
		return []model.Comment{}, nil
	}
	return gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) ([]model.Comment, error) {
		return c.posts.GetComments(ctx, postID)
	})
}

// --- фильтры и поиск ---

func (c *Controller) SetFeedFilters(ctx context.Context, f FeedFilters) error {
	c.mu.Lock()
	c.state.Feed = f
	c.mu.Unlock()
	return c.reload(ctx, ViewFeed)
}

func (c *Controller) SetMarketFilters(ctx context.Context, f MarketFilters) error {
	c.mu.Lock()
	c.state.Market = f
	c.mu.Unlock()
	return c.reload(ctx, ViewMarket)
}

func (c *Controller) SetGroupFilters(ctx context.Context, f GroupFilters) error {
	c.mu.Lock()
	c.state.Groups = f
	c.mu.Unlock()
	return c.reload(ctx, ViewGroups)
}

// reload перечитывает вкладку; вытесненная загрузка ошибкой не считается.
func (c *Controller) reload(ctx context.Context, v View) error {
	err := c.LoadView(ctx, v)
	if errors.Is(err, gateway.ErrSuperseded) {
		return nil
	}
	return err
}

// Search запускает поиск и делает вкладку поиска активной.
func (c *Controller) Search(ctx context.Context, q SearchQuery) error {
	q.Query = strings.TrimSpace(q.Query)
	q.Type = model.ParseSearchType(string(q.Type))
	c.mu.Lock()
	c.state.Search = q
	c.mu.Unlock()
	return c.SwitchView(ctx, string(ViewSearch), true)
}

func (c *Controller) runSearch(ctx context.Context, q SearchQuery) error {
	err := load(ctx, c, ViewSearch, func(ctx context.Context) (*model.SearchResponse, error) {
		return c.search.SearchAll(ctx, q.Query, q.Type, q.Filters, c.pageSize)
	}, nil)
	if err != nil {
		return err
	}
	if c.userID() == "" {
		return nil
	}
	if err := call(ctx, c, func(ctx context.Context) error {
		return c.search.SaveSearchHistory(ctx, q.Query, q.Type, q.Filters)
	}); err != nil {
		logger.Warnf("controller: save search history: %v", err)
	}
	return nil
}

// Suggestions — подсказки для строки поиска; в демо-режиме пусто.
func (c *Controller) Suggestions(ctx context.Context, prefix string) ([]model.Suggestion, error) {
	if c.isDemo() || strings.TrimSpace(prefix) == "" {
		return []model.Suggestion{}, nil
	}
	return gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) ([]model.Suggestion, error) {
		return c.search.GetSearchSuggestions(ctx, prefix)
	})
}

// --- рынок ---

func (c *Controller) ReportPrice(ctx context.Context, in model.NewPriceReport) (*model.PriceReport, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	r, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.PriceReport, error) {
		return c.market.CreatePriceReport(ctx, in)
	})
	if err != nil {
		return nil, fmt.Errorf("controller.ReportPrice: %w", err)
	}
	c.mu.Lock()
	if cont, ok := c.state.Content[ViewMarket]; ok {
		if mc, ok := cont.Items.(MarketContent); ok {
			mc.Prices = append([]model.PriceReport{*r}, mc.Prices...)
			cont.Items = mc
			c.publishViewLocked(ViewMarket)
		}
	}
	c.toastLocked("success", "Price reported")
	c.mu.Unlock()
	return r, nil
}

// AveragePrice — средняя цена культуры за последние priceAverageDays дней.
func (c *Controller) AveragePrice(ctx context.Context, crop, province string) (*model.AveragePrice, error) {
	if c.isDemo() {
		return nil, gateway.ErrNotConfigured
	}
	return gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.AveragePrice, error) {
		return c.market.GetAveragePrice(ctx, crop, province, priceAverageDays)
	})
}

// --- группы ---

// JoinGroup вступает в открытую группу или подаёт заявку в закрытую.
// requested=true — заявка ждёт решения администратора.
func (c *Controller) JoinGroup(ctx context.Context, groupID string) (requested bool, err error) {
	if err := c.requireUser(); err != nil {
		return false, err
	}
	c.mu.Lock()
	g, known := c.groupLocked(groupID)
	c.mu.Unlock()
	if known && !g.IsPublic {
		_, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.JoinRequest, error) {
			return c.groups.RequestToJoin(ctx, groupID)
		})
		if err != nil {
			return false, fmt.Errorf("controller.JoinGroup: %w", err)
		}
		c.toast("success", "Join request sent")
		return true, nil
	}
	joined, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (bool, error) {
		return c.groups.JoinGroup(ctx, groupID)
	})
	if err != nil {
		return false, fmt.Errorf("controller.JoinGroup: %w", err)
	}
	c.mu.Lock()
	c.setMemberLocked(groupID, true, joined)
	c.mu.Unlock()
	return false, nil
}

func (c *Controller) LeaveGroup(ctx context.Context, groupID string) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	if err := call(ctx, c, func(ctx context.Context) error { return c.groups.LeaveGroup(ctx, groupID) }); err != nil {
		return fmt.Errorf("controller.LeaveGroup: %w", err)
	}
	c.mu.Lock()
	c.setMemberLocked(groupID, false, true)
	c.mu.Unlock()
	return nil
}

func (c *Controller) CreateGroup(ctx context.Context, in model.NewGroup) (*model.Group, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	g, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.Group, error) {
		return c.groups.CreateGroup(ctx, in)
	})
	if err != nil {
		return nil, fmt.Errorf("controller.CreateGroup: %w", err)
	}
	c.mu.Lock()
	if cont, ok := c.state.Content[ViewGroups]; ok {
		if list, ok := cont.Items.([]model.Group); ok && indexGroup(list, g.ID) < 0 {
			cont.Items = append([]model.Group{*g}, list...)
			c.publishViewLocked(ViewGroups)
		}
	}
	c.mu.Unlock()
	return g, nil
}

func (c *Controller) groupLocked(id string) (model.Group, bool) {
	if cont, ok := c.state.Content[ViewGroups]; ok {
		if list, ok := cont.Items.([]model.Group); ok {
			if i := indexGroup(list, id); i >= 0 {
				return list[i], true
			}
		}
	}
	return model.Group{}, false
}

// setMemberLocked отмечает членство; changed=false — счётчик участников не трогается.
func (c *Controller) setMemberLocked(id string, member, changed bool) {
	cont, ok := c.state.Content[ViewGroups]
	if !ok {
		return
	}
	list, ok := cont.Items.([]model.Group)
	if !ok {
		return
	}
	i := indexGroup(list, id)
	if i < 0 {
		return
	}
	out := append([]model.Group(nil), list...)
	if changed && out[i].IsMember != member {
		if member {
			out[i].MembersCount++
		} else if out[i].MembersCount > 0 {
			out[i].MembersCount--
		}
	}
	out[i].IsMember = member
	if !member {
		out[i].UserRole = ""
	}
	cont.Items = out
	c.publishViewLocked(ViewGroups)
}

func indexGroup(list []model.Group, id string) int {
	for i, g := range list {
		if g.ID == id {
			return i
		}
	}
	return -1
}

// --- друзья ---

func (c *Controller) SendFriendRequest(ctx context.Context, receiverID string) (*model.FriendRequest, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	r, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.FriendRequest, error) {
		return c.friends.SendFriendRequest(ctx, receiverID)
	})
	if err != nil {
		return nil, fmt.Errorf("controller.SendFriendRequest: %w", err)
	}
	c.toast("success", "Friend request sent")
	return r, nil
}

func (c *Controller) RespondToFriendRequest(ctx context.Context, requestID string, accept bool) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	if err := call(ctx, c, func(ctx context.Context) error {
		return c.friends.RespondToFriendRequest(ctx, requestID, accept)
	}); err != nil {
		return fmt.Errorf("controller.RespondToFriendRequest: %w", err)
	}
	return c.reloadIfActive(ctx, ViewFriends)
}

func (c *Controller) RemoveFriend(ctx context.Context, friendID string) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	if err := call(ctx, c, func(ctx context.Context) error { return c.friends.RemoveFriend(ctx, friendID) }); err != nil {
		return fmt.Errorf("controller.RemoveFriend: %w", err)
	}
	return c.reloadIfActive(ctx, ViewFriends)
}

func (c *Controller) reloadIfActive(ctx context.Context, v View) error {
	c.mu.Lock()
	active := c.state.View == v
	c.mu.Unlock()
	if !active {
		return nil
	}
	return c.reload(ctx, v)
}

// --- истории ---

func (c *Controller) CreateStory(ctx context.Context, caption string, img model.Upload) (*model.Story, error) {
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	s, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.Story, error) {
		return c.stories.CreateStory(ctx, caption, img)
	})
	if err != nil {
		c.toast("error", "Failed to share story")
		return nil, fmt.Errorf("controller.CreateStory: %w", err)
	}
	c.mu.Lock()
	c.state.closeModal(ModalStory)
	c.publishStateLocked()
	c.mu.Unlock()
	return s, c.reloadIfActive(ctx, ViewStories)
}

func (c *Controller) ViewStory(ctx context.Context, storyID string) error {
	if c.userID() == "" {
		return nil
	}
	if err := call(ctx, c, func(ctx context.Context) error { return c.stories.ViewStory(ctx, storyID) }); err != nil {
		logger.Warnf("controller: record story view: %v", err)
	}
	return nil
}

// --- инструменты ---

func (c *Controller) SeedRate(crop string, areaHa float64) (*model.SeedRate, error) {
	return c.tools.CalculateSeedRate(crop, areaHa)
}

func (c *Controller) Fertilizer(crop string, areaHa float64) (*model.FertilizerPlan, error) {
	return c.tools.CalculateFertilizer(crop, areaHa)
}

// --- уведомления ---

func (c *Controller) MarkNotificationRead(ctx context.Context, id string) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	if err := call(ctx, c, func(ctx context.Context) error { return c.notifs.MarkRead(ctx, id) }); err != nil {
		return fmt.Errorf("controller.MarkNotificationRead: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.notices[id]; ok && !n.IsRead {
		n.IsRead = true
		c.notices[id] = n
		if c.state.UnreadNotices > 0 {
			c.state.UnreadNotices--
		}
	}
	c.setNoticesReadLocked(func(n model.Notification) bool { return n.ID == id })
	return nil
}

func (c *Controller) MarkAllNotificationsRead(ctx context.Context) error {
	if err := c.requireUser(); err != nil {
		return err
	}
	if err := call(ctx, c, c.notifs.MarkAllRead); err != nil {
		return fmt.Errorf("controller.MarkAllNotificationsRead: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, n := range c.notices {
		n.IsRead = true
		c.notices[id] = n
	}
	c.state.UnreadNotices = 0
	c.setNoticesReadLocked(func(model.Notification) bool { return true })
	return nil
}

func (c *Controller) setNoticesReadLocked(match func(model.Notification) bool) {
	if cont, ok := c.state.Content[ViewNotifications]; ok {
		if list, ok := cont.Items.([]model.Notification); ok {
			out := append([]model.Notification(nil), list...)
			for i := range out {
				if match(out[i]) {
					out[i].IsRead = true
				}
			}
			cont.Items = out
			c.publishViewLocked(ViewNotifications)
		}
	}
	c.publishStateLocked()
}

// --- аутентификация ---

func (c *Controller) authReady() error {
	if c.isDemo() || c.auth == nil {
		return gateway.ErrNotConfigured
	}
	return nil
}

func (c *Controller) SignIn(ctx context.Context, email, password string) (*auth.Result, error) {
	if err := c.authReady(); err != nil {
		return nil, err
	}
	return gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*auth.Result, error) {
		return c.auth.SignInWithPassword(ctx, email, password)
	})
}

func (c *Controller) SignUp(ctx context.Context, email, password string) (*auth.Result, error) {
	if err := c.authReady(); err != nil {
		return nil, err
	}
	return gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*auth.Result, error) {
		return c.auth.SignUpWithPassword(ctx, email, password)
	})
}

func (c *Controller) SendCode(ctx context.Context, ch auth.Channel, target string) error {
	if err := c.authReady(); err != nil {
		return err
	}
	return call(ctx, c, func(ctx context.Context) error { return c.auth.SendOTP(ctx, ch, target) })
}

func (c *Controller) VerifyCode(ctx context.Context, ch auth.Channel, target, code string) (*auth.Result, error) {
	if err := c.authReady(); err != nil {
		return nil, err
	}
	return gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*auth.Result, error) {
		return c.auth.VerifyOTP(ctx, ch, target, code)
	})
}

// SignOut завершает сессию; состояние сбрасывается по событию выхода.
func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.authReady(); err != nil {
		return err
	}
	return call(ctx, c, c.auth.SignOut)
}

// SaveProfile создаёт или обновляет профиль текущего пользователя.
func (c *Controller) SaveProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	if err := c.authReady(); err != nil {
		return nil, err
	}
	if err := c.requireUser(); err != nil {
		return nil, err
	}
	saved, err := gateway.WithTimeout(ctx, c.timeout, func(ctx context.Context) (*model.Profile, error) {
		return c.auth.CreateProfile(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("controller.SaveProfile: %w", err)
	}
	c.mu.Lock()
	cont := c.state.content(ViewProfile)
	cont.Items = saved
	cont.Error = nil
	c.publishViewLocked(ViewProfile)
	c.mu.Unlock()
	return saved, nil
}

// --- модальные окна ---

func (c *Controller) OpenModal(m Modal) {
	if m == ModalChat {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.openModal(m)
	c.publishStateLocked()
}

// CloseModal закрывает окно; окно чата закрывается вместе с беседой.
func (c *Controller) CloseModal(m Modal) {
	if m == ModalChat {
		c.CloseConversation()
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.closeModal(m)
	c.publishStateLocked()
}
