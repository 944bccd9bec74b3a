package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
)

const (
	// allTypeLimit — результатов на тип при поиске по всем типам.
	allTypeLimit = 5
	// maxSuggestions — предел числа подсказок.
	maxSuggestions = 8
	// minSuggestLen — подсказки начинаются со второго символа.
	minSuggestLen = 2
	trendingWindow = 7 * 24 * time.Hour
)

// SearchManager — поиск по фермерам, культурам, рынкам, постам и группам, история и подсказки.
type SearchManager struct {
	gw     *gateway.Gateway
	posts  *PostsManager
	groups *GroupsManager
}

func NewSearchManager(gw *gateway.Gateway) *SearchManager {
	return &SearchManager{gw: gw, posts: NewPostsManager(gw), groups: NewGroupsManager(gw)}
}

// SearchAll выполняет поиск выбранного типа; "all" — пять поисков параллельно.
func (m *SearchManager) SearchAll(ctx context.Context, query string, t model.SearchType, f model.SearchFilters, limit int) (*model.SearchResponse, error) {
	defer logger.DeferLogDuration("search.SearchAll", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	resp := &model.SearchResponse{Query: query, SearchType: t, Filters: f, Results: []model.SearchResult{}}

	var err error
	switch t {
	case model.SearchFarmer:
		resp.Results, err = m.SearchFarmers(ctx, query, f, limit)
	case model.SearchCrop:
		resp.Results, err = m.SearchCrops(ctx, query, f, limit)
	case model.SearchMarket:
		resp.Results, err = m.SearchMarkets(ctx, query, f, limit)
	case model.SearchPost:
		resp.Results, err = m.SearchPosts(ctx, query, f, limit)
	case model.SearchGroup:
		resp.Results, err = m.SearchGroups(ctx, query, f, limit)
	default:
		resp.SearchType = model.SearchAll
		resp.Results, err = m.searchEverything(ctx, query, f)
	}
	if err != nil {
		return nil, err
	}
	if err := m.SaveSearchHistory(ctx, query, resp.SearchType, f); err != nil {
		logger.Warnf("search: save history: %v", err)
	}
	if sugg, err := m.GetSearchSuggestions(ctx, query); err == nil {
		resp.Suggestions = sugg
	}
	return resp, nil
}

func (m *SearchManager) searchEverything(ctx context.Context, q string, f model.SearchFilters) ([]model.SearchResult, error) {
	parts := make([][]model.SearchResult, 5)
	searches := []func(context.Context, string, model.SearchFilters, int) ([]model.SearchResult, error){
		m.SearchFarmers, m.SearchCrops, m.SearchMarkets, m.SearchPosts, m.SearchGroups,
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, search := range searches {
		g.Go(func() (err error) {
			parts[i], err = search(gctx, q, f, allTypeLimit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("searchMgr.SearchAll: %w", err)
	}
	out := []model.SearchResult{}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

func (m *SearchManager) SearchFarmers(ctx context.Context, q string, f model.SearchFilters, limit int) ([]model.SearchResult, error) {
	farmers, err := m.posts.SearchFarmers(ctx, q, f, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.SearchResult, len(farmers))
	for i := range farmers {
		out[i] = model.SearchResult{Type: "farmer", ID: farmers[i].ID, Item: farmers[i]}
	}
	return out, nil
}

// SearchCrops — фермеры, выращивающие культуру, и посты с таким тегом.
func (m *SearchManager) SearchCrops(ctx context.Context, q string, f model.SearchFilters, limit int) ([]model.SearchResult, error) {
	defer logger.DeferLogDuration("search.SearchCrops", time.Now())()
	pattern := likePattern(q)
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+profileCols("p")+` FROM profiles p
		 WHERE p.crops ILIKE $1 AND ($2::text = '' OR p.province = $2)
		 ORDER BY p.created_at DESC LIMIT $3`, pattern, f.Province, limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("searchMgr.SearchCrops farmers: %w", err)
	}
	farmers, err := collect(rows, "searchMgr.SearchCrops", scanProfileRow)
	if err != nil {
		return nil, err
	}
	posts, err := m.queryPosts(ctx,
		`EXISTS (SELECT 1 FROM unnest({p}crop_tags) t WHERE t ILIKE $1) AND ($2::text = '' OR {p}location_province = $2)`,
		pattern, f.Province, limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("searchMgr.SearchCrops posts: %w", err)
	}
	out := make([]model.SearchResult, 0, len(farmers)+len(posts))
	for i := range farmers {
		out = append(out, model.SearchResult{Type: "farmer_crop", ID: farmers[i].ID, Item: farmers[i]})
	}
	for i := range posts {
		out = append(out, model.SearchResult{Type: "post_crop", ID: posts[i].ID, Item: posts[i]})
	}
	return out, nil
}

// queryPosts ищет посты по предикату cond ({p} — префикс таблицы) с аргументами $1, $2 и лимитом $3.
func (m *SearchManager) queryPosts(ctx context.Context, cond string, args ...any) ([]model.Post, error) {
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+postViewCols+` FROM posts_with_stats
		 WHERE `+strings.ReplaceAll(cond, "{p}", "")+`
		 ORDER BY created_at DESC LIMIT $3`, args...)
	if err == nil {
		return collect(rows, "searchMgr.posts", scanPostView)
	}
	if !gateway.IsUndefinedTable(err) {
		return nil, err
	}
	rows, err = m.gw.DB.Query(ctx,
		`SELECT `+postLegacyCols+` FROM posts p JOIN profiles pr ON pr.id = p.author_id
		 WHERE p.deleted_at IS NULL AND `+strings.ReplaceAll(cond, "{p}", "p.")+`
		 ORDER BY p.created_at DESC LIMIT $3`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, "searchMgr.posts legacy", scanPostLegacy)
}

func (m *SearchManager) SearchPosts(ctx context.Context, q string, f model.SearchFilters, limit int) ([]model.SearchResult, error) {
	defer logger.DeferLogDuration("search.SearchPosts", time.Now())()
	posts, err := m.queryPosts(ctx,
		`{p}content ILIKE $1 AND ($2::text = '' OR {p}location_province = $2)`, likePattern(q), f.Province, limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("searchMgr.SearchPosts: %w", err)
	}
	out := make([]model.SearchResult, len(posts))
	for i := range posts {
		out[i] = model.SearchResult{Type: "post", ID: posts[i].ID, Item: posts[i]}
	}
	return out, nil
}

func (m *SearchManager) SearchMarkets(ctx context.Context, q string, f model.SearchFilters, limit int) ([]model.SearchResult, error) {
	defer logger.DeferLogDuration("search.SearchMarkets", time.Now())()
	rows, err := m.gw.DB.Query(ctx,
		`SELECT id::text, name, COALESCE(province,''), COALESCE(district,''), COALESCE(commodities,''), is_active, last_updated
		 FROM markets
		 WHERE is_active
		   AND (name ILIKE $1 OR commodities ILIKE $1 OR district ILIKE $1 OR province ILIKE $1)
		   AND ($2::text = '' OR province = $2)
		   AND ($3::text = '' OR commodities ILIKE '%' || $3 || '%')
		 ORDER BY name LIMIT $4`, likePattern(q), f.Province, f.Commodity, limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("searchMgr.SearchMarkets: %w", err)
	}
	markets, err := collect(rows, "searchMgr.SearchMarkets", func(r pgx.Rows) (model.Market, error) {
		var mk model.Market
		err := r.Scan(&mk.ID, &mk.Name, &mk.Province, &mk.District, &mk.Commodities, &mk.IsActive, &mk.LastUpdated)
		return mk, err
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.SearchResult, len(markets))
	for i := range markets {
		out[i] = model.SearchResult{Type: "market", ID: markets[i].ID, Item: markets[i]}
	}
	return out, nil
}

func (m *SearchManager) SearchGroups(ctx context.Context, q string, f model.SearchFilters, limit int) ([]model.SearchResult, error) {
	groups, err := m.groups.GetGroups(ctx, GroupFilter{
		GroupType: f.GroupType, CropTag: f.CropTag, Province: f.Province, Query: q, Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.SearchResult, len(groups))
	for i := range groups {
		out[i] = model.SearchResult{Type: "group", ID: groups[i].ID, Item: groups[i]}
	}
	return out, nil
}

// SaveSearchHistory сохраняет запрос авторизованного пользователя; гостевые и пустые запросы пропускаются.
func (m *SearchManager) SaveSearchHistory(ctx context.Context, query string, t model.SearchType, f model.SearchFilters) error {
	uid := m.gw.UserID()
	query = strings.TrimSpace(query)
	if uid == "" || query == "" || !m.gw.Configured() {
		return nil
	}
	filters, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := m.gw.DB.Exec(ctx,
		`INSERT INTO search_history (user_id, query, search_type, filters) VALUES ($1, $2, $3, $4)`,
		uid, query, string(t), filters); err != nil {
		return fmt.Errorf("searchMgr.SaveSearchHistory: %w", err)
	}
	return nil
}

// GetSearchSuggestions объединяет популярные и недавние запросы с префиксом q.
func (m *SearchManager) GetSearchSuggestions(ctx context.Context, q string) ([]model.Suggestion, error) {
	defer logger.DeferLogDuration("search.GetSearchSuggestions", time.Now())()
	q = strings.TrimSpace(q)
	if len([]rune(q)) < minSuggestLen {
		return []model.Suggestion{}, nil
	}
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	pattern := strings.TrimSuffix(likePattern(q), "%")
	pattern = strings.TrimPrefix(pattern, "%") + "%"
	popular, err := m.suggestions(ctx, "popular",
		`SELECT query, search_type, COUNT(*)::int FROM search_history
		 WHERE query ILIKE $1 GROUP BY query, search_type
		 ORDER BY COUNT(*) DESC LIMIT $2`, pattern, maxSuggestions)
	if err != nil {
		return nil, err
	}
	trending, err := m.suggestions(ctx, "trending",
		`SELECT query, search_type, COUNT(*)::int FROM search_history
		 WHERE query ILIKE $1 AND created_at >= $3
		 GROUP BY query, search_type
		 ORDER BY COUNT(*) DESC LIMIT $2`, pattern, maxSuggestions, time.Now().Add(-trendingWindow))
	if err != nil {
		return nil, err
	}
	return MergeSuggestions(popular, trending), nil
}

func (m *SearchManager) suggestions(ctx context.Context, source, sql string, args ...any) ([]model.Suggestion, error) {
	rows, err := m.gw.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searchMgr.suggestions %s: %w", source, err)
	}
	return collect(rows, "searchMgr.suggestions", func(r pgx.Rows) (model.Suggestion, error) {
		s := model.Suggestion{Source: source}
		err := r.Scan(&s.Query, &s.Type, &s.Count)
		return s, err
	})
}

// MergeSuggestions убирает повторы (без учёта регистра, побеждает больший счётчик),
// сортирует по убыванию счётчика и обрезает до восьми.
func MergeSuggestions(lists ...[]model.Suggestion) []model.Suggestion {
	best := make(map[string]model.Suggestion)
	var order []string
	for _, list := range lists {
		for _, s := range list {
			key := strings.ToLower(strings.TrimSpace(s.Query))
			prev, ok := best[key]
			if !ok {
				order = append(order, key)
			}
			if !ok || s.Count > prev.Count {
				best[key] = s
			}
		}
	}
	out := make([]model.Suggestion, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

func (m *SearchManager) GetUserSearchHistory(ctx context.Context, limit int) ([]model.SearchHistoryEntry, error) {
	defer logger.DeferLogDuration("search.GetUserSearchHistory", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT id::text, query, search_type, filters, created_at
		 FROM search_history WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, uid, limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("searchMgr.GetUserSearchHistory: %w", err)
	}
	return collect(rows, "searchMgr.GetUserSearchHistory", func(r pgx.Rows) (model.SearchHistoryEntry, error) {
		var e model.SearchHistoryEntry
		var filters []byte
		err := r.Scan(&e.ID, &e.Query, &e.SearchType, &filters, &e.CreatedAt)
		e.Filters = filters
		return e, err
	})
}

func (m *SearchManager) ClearSearchHistory(ctx context.Context) error {
	defer logger.DeferLogDuration("search.ClearSearchHistory", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	if _, err := m.gw.DB.Exec(ctx, `DELETE FROM search_history WHERE user_id = $1`, uid); err != nil {
		return fmt.Errorf("searchMgr.ClearSearchHistory: %w", err)
	}
	return nil
}

// GetTrendingSearches — самые частые запросы за последние 7 дней.
func (m *SearchManager) GetTrendingSearches(ctx context.Context, limit int) ([]model.TrendingSearch, error) {
	defer logger.DeferLogDuration("search.GetTrendingSearches", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT query, search_type, COUNT(*)::int FROM search_history
		 WHERE created_at >= $1
		 GROUP BY query, search_type
		 ORDER BY COUNT(*) DESC LIMIT $2`, time.Now().Add(-trendingWindow), limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("searchMgr.GetTrendingSearches: %w", err)
	}
	return collect(rows, "searchMgr.GetTrendingSearches", func(r pgx.Rows) (model.TrendingSearch, error) {
		var t model.TrendingSearch
		err := r.Scan(&t.Query, &t.SearchType, &t.SearchCount)
		return t, err
	})
}
