package controller

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/agrilovers/internal/manager"
	"github.com/agrilovers/internal/model"
)

const (
	showcaseLimit      = 50
	marketListingLimit = 30
	notificationsLimit = 50
	defaultProvince    = "Lusaka"
	priceAverageDays   = 30
)

func (c *Controller) fetchFeed(ctx context.Context) ([]model.Post, error) {
	c.mu.Lock()
	f := c.state.Feed
	c.mu.Unlock()
	posts, err := c.posts.GetPosts(ctx, manager.PostFilter{Province: f.Province, CropTag: f.CropTag, Limit: c.pageSize})
	if err != nil {
		return nil, err
	}
	if f.PhotosOnly {
		posts = withPhotos(posts)
	}
	return posts, nil
}

func (c *Controller) fetchShowcase(ctx context.Context) ([]model.Post, error) {
	posts, err := c.posts.GetPosts(ctx, manager.PostFilter{Limit: showcaseLimit})
	if err != nil {
		return nil, err
	}
	return withPhotos(posts), nil
}

// fetchMarket читает объявления и цены параллельно.
func (c *Controller) fetchMarket(ctx context.Context) (MarketContent, error) {
	c.mu.Lock()
	f := c.state.Market
	c.mu.Unlock()
	var out MarketContent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		posts, err := c.posts.GetMarketPosts(gctx, f.Type, manager.PostFilter{
			Province: f.Province, CropTag: f.Crop, Limit: marketListingLimit,
		})
		out.Listings = posts
		return err
	})
	g.Go(func() error {
		prices, err := c.market.GetPriceReports(gctx, manager.PriceFilter{Crop: f.Crop, Province: f.Province, Limit: c.pageSize})
		out.Prices = prices
		return err
	})
	if err := g.Wait(); err != nil {
		return MarketContent{}, err
	}
	return out, nil
}

func (c *Controller) fetchGroups(ctx context.Context) ([]model.Group, error) {
	c.mu.Lock()
	f := c.state.Groups
	c.mu.Unlock()
	return c.groups.GetGroups(ctx, manager.GroupFilter{
		GroupType: f.GroupType, CropTag: f.CropTag, Province: f.Province, Query: f.Query, Limit: c.pageSize,
	})
}

func (c *Controller) fetchFriends(ctx context.Context) (FriendsContent, error) {
	uid := c.userID()
	var out FriendsContent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		friends, err := c.friends.GetFriends(gctx, uid)
		out.Friends = friends
		return err
	})
	g.Go(func() error {
		pending, err := c.friends.GetPendingRequests(gctx)
		out.Pending = pending
		return err
	})
	if err := g.Wait(); err != nil {
		return FriendsContent{}, err
	}
	return out, nil
}

func (c *Controller) fetchTools(ctx context.Context) (ToolsContent, error) {
	return ToolsContent{Weather: c.tools.GetWeather(ctx, c.province())}, nil
}

func (c *Controller) fetchProfile(ctx context.Context) (*model.Profile, error) {
	uid := c.userID()
	if c.auth == nil || uid == "" {
		return nil, nil
	}
	return c.auth.LoadUserProfile(ctx, uid)
}

func (c *Controller) fetchNotifications(ctx context.Context) ([]model.Notification, error) {
	return c.notifs.List(ctx, notificationsLimit)
}

// applyNotifications пересобирает кэш уведомлений по id.
func (c *Controller) applyNotifications(list []model.Notification) {
	c.notices = make(map[string]model.Notification, len(list))
	unread := 0
	for _, n := range list {
		c.notices[n.ID] = n
		if !n.IsRead {
			unread++
		}
	}
	c.state.UnreadNotices = unread
}

func (c *Controller) province() string {
	if c.auth != nil {
		if p := c.auth.Profile(); p != nil && p.Province != "" {
			return p.Province
		}
	}
	return defaultProvince
}

func withPhotos(posts []model.Post) []model.Post {
	out := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		if len(p.ImageURLs) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// insertPost добавляет пост в начало списка, если поста с таким id там ещё нет.
// Исходный срез не меняется.
func insertPost(list []model.Post, p model.Post) ([]model.Post, bool) {
	for _, x := range list {
		if x.ID == p.ID {
			return list, false
		}
	}
	out := make([]model.Post, 0, len(list)+1)
	out = append(out, p)
	return append(out, list...), true
}

// withLike возвращает копию списка с новым состоянием лайка поста id.
func withLike(list []model.Post, id string, liked bool) ([]model.Post, bool) {
	i := indexPost(list, id)
	if i < 0 || list[i].UserLiked == liked {
		return list, false
	}
	out := append([]model.Post(nil), list...)
	out[i].UserLiked = liked
	if liked {
		out[i].LikesCount++
	} else if out[i].LikesCount > 0 {
		out[i].LikesCount--
	}
	return out, true
}

func indexPost(list []model.Post, id string) int {
	for i, p := range list {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (f FeedFilters) match(p model.Post) bool {
	if f.Province != "" && p.LocationProvince != f.Province {
		return false
	}
	if f.PhotosOnly && len(p.ImageURLs) == 0 {
		return false
	}
	if f.CropTag == "" {
		return true
	}
	for _, t := range p.CropTags {
		if t == f.CropTag {
			return true
		}
	}
	return false
}
