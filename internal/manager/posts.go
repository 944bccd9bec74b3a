package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/agrilovers/internal/auth"
	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/realtime"
)

// PostFilter — параметры выборки ленты и рынка. Пустые поля не фильтруют.
type PostFilter struct {
	ID         string
	CropTag    string
	Province   string
	MarketOnly bool
	MarketType model.MarketType
	AuthorID   string
	Limit      int
	Offset     int
}

func (f PostFilter) args() []any {
	return []any{f.ID, f.CropTag, f.Province, f.MarketOnly, string(f.MarketType), f.AuthorID, limitOr(f.Limit), f.Offset}
}

// postWhere — общий предикат выборки постов; p — префикс таблицы ("" или "p.").
func postWhere(p string) string {
	return strings.NewReplacer("{p}", p).Replace(`
		 WHERE ($1::text = '' OR {p}id::text = $1)
		   AND ($2::text = '' OR $2 = ANY({p}crop_tags))
		   AND ($3::text = '' OR {p}location_province = $3)
		   AND (NOT $4::bool OR {p}is_market_post)
		   AND ($5::text = '' OR {p}market_type = $5)
		   AND ($6::text = '' OR {p}author_id::text = $6)
		 ORDER BY {p}created_at DESC
		 LIMIT $7 OFFSET $8`)
}

const postViewCols = `id::text, author_id::text, content, crop_tags, COALESCE(location_province,''),
	COALESCE(location_district,''), image_urls, is_market_post, COALESCE(market_type,''), created_at, updated_at,
	COALESCE(first_name,''), COALESCE(last_name,''), COALESCE(avatar_url,''), COALESCE(author_province,''),
	COALESCE(author_district,''), COALESCE(farmer_type,''), likes_count, comments_count, user_liked`

const postLegacyCols = `p.id::text, p.author_id::text, p.content, p.crop_tags, COALESCE(p.location_province,''),
	COALESCE(p.location_district,''), p.image_urls, p.is_market_post, COALESCE(p.market_type,''), p.created_at, p.updated_at,
	COALESCE(pr.first_name,''), COALESCE(pr.last_name,''), COALESCE(pr.avatar_url,''), COALESCE(pr.province,''),
	COALESCE(pr.district,''), COALESCE(pr.farmer_type,'')`

func postBaseDest(p *model.Post) []any {
	a := &p.Author
	return []any{&p.ID, &p.AuthorID, &p.Content, &p.CropTags, &p.LocationProvince, &p.LocationDistrict,
		&p.ImageURLs, &p.IsMarketPost, &p.MarketType, &p.CreatedAt, &p.UpdatedAt,
		&a.FirstName, &a.LastName, &a.AvatarURL, &a.Province, &a.District, &a.FarmerType}
}

func scanPostView(rows pgx.Rows) (model.Post, error) {
	var p model.Post
	err := rows.Scan(dest(postBaseDest(&p), []any{&p.LikesCount, &p.CommentsCount, &p.UserLiked})...)
	p.Author.ID = p.AuthorID
	return p, err
}

func scanPostLegacy(rows pgx.Rows) (model.Post, error) {
	var p model.Post
	err := rows.Scan(postBaseDest(&p)...)
	p.Author.ID = p.AuthorID
	return p, err
}

// PostsManager — лента, рыночные объявления, лайки и комментарии.
type PostsManager struct {
	gw *gateway.Gateway
}

func NewPostsManager(gw *gateway.Gateway) *PostsManager {
	return &PostsManager{gw: gw}
}

// GetPosts читает представление posts_with_stats; без него собирает ту же форму вручную.
func (m *PostsManager) GetPosts(ctx context.Context, f PostFilter) ([]model.Post, error) {
	defer logger.DeferLogDuration("posts.GetPosts", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx, `SELECT `+postViewCols+` FROM posts_with_stats`+postWhere(""), f.args()...)
	if err != nil {
		if gateway.IsUndefinedTable(err) {
			logger.Warnf("posts: posts_with_stats missing, using manual aggregation")
			return m.getPostsLegacy(ctx, f)
		}
		return nil, fmt.Errorf("postsMgr.GetPosts: %w", err)
	}
	return collect(rows, "postsMgr.GetPosts", scanPostView)
}

func (m *PostsManager) getPostsLegacy(ctx context.Context, f PostFilter) ([]model.Post, error) {
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+postLegacyCols+`
		 FROM posts p
		 JOIN profiles pr ON pr.id = p.author_id`+
			strings.Replace(postWhere("p."), "WHERE", "WHERE p.deleted_at IS NULL AND", 1), f.args()...)
	if err != nil {
		return nil, fmt.Errorf("postsMgr.getPostsLegacy: %w", err)
	}
	posts, err := collect(rows, "postsMgr.getPostsLegacy", scanPostLegacy)
	if err != nil || len(posts) == 0 {
		return posts, err
	}
	ids := make([]string, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
	}

	var likes, comments, liked map[string]int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		likes, err = countBy(gctx, m.gw.DB,
			`SELECT post_id::text, COUNT(*)::int FROM post_likes WHERE post_id = ANY($1::uuid[]) GROUP BY post_id`, ids)
		return err
	})
	g.Go(func() (err error) {
		comments, err = countBy(gctx, m.gw.DB,
			`SELECT post_id::text, COUNT(*)::int FROM comments
			 WHERE post_id = ANY($1::uuid[]) AND deleted_at IS NULL GROUP BY post_id`, ids)
		return err
	})
	if uid := m.gw.UserID(); uid != "" {
		g.Go(func() (err error) {
			liked, err = countBy(gctx, m.gw.DB,
				`SELECT post_id::text, 1 FROM post_likes WHERE post_id = ANY($1::uuid[]) AND user_id = $2::uuid`, ids, uid)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("postsMgr.getPostsLegacy counts: %w", err)
	}
	for i := range posts {
		posts[i].LikesCount = likes[posts[i].ID]
		posts[i].CommentsCount = comments[posts[i].ID]
		posts[i].UserLiked = liked[posts[i].ID] > 0
	}
	return posts, nil
}

// countBy читает пары (id, count) в карту.
func countBy(ctx context.Context, db gateway.DB, sql string, args ...any) (map[string]int, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// GetMarketPosts — объявления о продаже/покупке; пустой тип — все объявления.
func (m *PostsManager) GetMarketPosts(ctx context.Context, marketType model.MarketType, f PostFilter) ([]model.Post, error) {
	f.MarketOnly = true
	f.MarketType = marketType
	return m.GetPosts(ctx, f)
}

func (m *PostsManager) GetPost(ctx context.Context, id string) (*model.Post, error) {
	posts, err := m.GetPosts(ctx, PostFilter{ID: id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, gateway.ErrNotFound
	}
	return &posts[0], nil
}

// CreatePost загружает изображения, затем вставляет пост и перечитывает его в полной форме.
func (m *PostsManager) CreatePost(ctx context.Context, np model.NewPost) (*model.Post, error) {
	defer logger.DeferLogDuration("posts.CreatePost", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	if err := required("content", np.Content); err != nil {
		return nil, err
	}
	if np.IsMarketPost && np.MarketType != model.MarketTypeSelling && np.MarketType != model.MarketTypeBuying {
		return nil, &gateway.ValidationError{Field: "market_type", Reason: "must be selling or buying"}
	}
	if err := gateway.ValidateUploads(np.Images, m.gw.Limits); err != nil {
		return nil, err
	}
	urls := m.UploadImages(ctx, uid, np.Images)
	tags := np.CropTags
	if tags == nil {
		tags = []string{}
	}
	var marketType any
	if np.IsMarketPost {
		marketType = string(np.MarketType)
	}

	var id string
	err = m.gw.DB.QueryRow(ctx,
		`INSERT INTO posts (author_id, content, crop_tags, location_province, location_district, image_urls, is_market_post, market_type)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		 RETURNING id::text`,
		uid, strings.TrimSpace(np.Content), tags, np.Province, np.District, urls, np.IsMarketPost, marketType,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("postsMgr.CreatePost: %w", err)
	}
	p, err := m.GetPost(ctx, id)
	if err != nil {
		logger.Warnf("posts: reload created post %s: %v", id, err)
		now := time.Now()
		return &model.Post{
			ID: id, AuthorID: uid, Content: strings.TrimSpace(np.Content), CropTags: tags,
			LocationProvince: np.Province, LocationDistrict: np.District, ImageURLs: urls,
			IsMarketPost: np.IsMarketPost, MarketType: np.MarketType, CreatedAt: now, UpdatedAt: now,
			Author: model.ProfileRef{ID: uid},
		}, nil
	}
	return p, nil
}

// UploadImages загружает файлы в post-images; неудачные пропускаются.
func (m *PostsManager) UploadImages(ctx context.Context, ownerID string, files []model.Upload) []string {
	urls := make([]string, 0, len(files))
	if m.gw.Storage == nil {
		return urls
	}
	for _, f := range files {
		u, err := m.gw.Storage.Upload(ctx, gateway.BucketPostImages, gateway.ObjectPath(ownerID, f.Name), f.ContentType, f.Data)
		if err != nil {
			logger.Warnf("posts: upload %s: %v", f.Name, err)
			continue
		}
		urls = append(urls, u)
	}
	return urls
}

// LikePost ставит лайк; повторный лайк (23505) снимает его.
func (m *PostsManager) LikePost(ctx context.Context, postID string) (model.LikeState, error) {
	defer logger.DeferLogDuration("posts.LikePost", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return model.LikeState{PostID: postID}, err
	}
	_, err = m.gw.DB.Exec(ctx, `INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2)`, postID, uid)
	if err == nil {
		return model.LikeState{PostID: postID, Liked: true}, nil
	}
	if gateway.IsUniqueViolation(err) {
		if err := m.UnlikePost(ctx, postID); err != nil {
			return model.LikeState{PostID: postID, Liked: true}, err
		}
		return model.LikeState{PostID: postID, Liked: false}, nil
	}
	return model.LikeState{PostID: postID}, fmt.Errorf("postsMgr.LikePost: %w", err)
}

func (m *PostsManager) UnlikePost(ctx context.Context, postID string) error {
	defer logger.DeferLogDuration("posts.UnlikePost", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	if _, err := m.gw.DB.Exec(ctx, `DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`, postID, uid); err != nil {
		return fmt.Errorf("postsMgr.UnlikePost: %w", err)
	}
	return nil
}

const commentCols = `c.id::text, c.post_id::text, c.author_id::text, c.content, c.created_at, `

func scanComment(rows pgx.Rows) (model.Comment, error) {
	var c model.Comment
	err := rows.Scan(dest([]any{&c.ID, &c.PostID, &c.AuthorID, &c.Content, &c.CreatedAt}, refDest(&c.Author))...)
	return c, err
}

func (m *PostsManager) AddComment(ctx context.Context, postID, content string) (*model.Comment, error) {
	defer logger.DeferLogDuration("posts.AddComment", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	if err := required("content", content); err != nil {
		return nil, err
	}
	var id string
	if err := m.gw.DB.QueryRow(ctx,
		`INSERT INTO comments (post_id, author_id, content) VALUES ($1, $2, $3) RETURNING id::text`,
		postID, uid, strings.TrimSpace(content)).Scan(&id); err != nil {
		return nil, fmt.Errorf("postsMgr.AddComment: %w", err)
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+commentCols+refCols("pr")+`
		 FROM comments c JOIN profiles pr ON pr.id = c.author_id
		 WHERE c.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("postsMgr.AddComment reload: %w", err)
	}
	list, err := collect(rows, "postsMgr.AddComment", scanComment)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, gateway.ErrNotFound
	}
	return &list[0], nil
}

func (m *PostsManager) GetComments(ctx context.Context, postID string) ([]model.Comment, error) {
	defer logger.DeferLogDuration("posts.GetComments", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+commentCols+refCols("pr")+`
		 FROM comments c JOIN profiles pr ON pr.id = c.author_id
		 WHERE c.post_id = $1 AND c.deleted_at IS NULL
		 ORDER BY c.created_at ASC`, postID)
	if err != nil {
		return nil, fmt.Errorf("postsMgr.GetComments: %w", err)
	}
	return collect(rows, "postsMgr.GetComments", scanComment)
}

// DeletePost — мягкое удаление собственного поста.
func (m *PostsManager) DeletePost(ctx context.Context, postID string) error {
	defer logger.DeferLogDuration("posts.DeletePost", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	tag, err := m.gw.DB.Exec(ctx,
		`UPDATE posts SET deleted_at = NOW() WHERE id = $1 AND author_id = $2 AND deleted_at IS NULL`, postID, uid)
	if err != nil {
		return fmt.Errorf("postsMgr.DeletePost: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// SubscribeToPosts — глобальный канал новых постов; обработчик получает id и автора.
func (m *PostsManager) SubscribeToPosts(onInsert func(postID, authorID string)) (*realtime.Channel, error) {
	return m.gw.Subscribe("posts:inserts", realtime.Filter{Table: "posts", Event: realtime.EventInsert},
		func(c realtime.Change) {
			if id := c.Field("id"); id != "" {
				onInsert(id, c.Field("author_id"))
			}
		})
}

// SearchFarmers ищет по имени, культурам, скоту и местоположению.
func (m *PostsManager) SearchFarmers(ctx context.Context, query string, f model.SearchFilters, limit int) ([]model.Profile, error) {
	defer logger.DeferLogDuration("posts.SearchFarmers", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+auth.ProfileColumns+` FROM profiles
		 WHERE ($1::text = '%%' OR first_name ILIKE $1 OR last_name ILIKE $1 OR crops ILIKE $1
		        OR livestock ILIKE $1 OR province ILIKE $1 OR district ILIKE $1)
		   AND ($2::text = '' OR province = $2)
		   AND ($3::text = '' OR district = $3)
		   AND ($4::text = '' OR farmer_type = $4)
		   AND ($5::float8 = 0 OR farm_size_ha >= $5)
		   AND ($6::float8 = 0 OR farm_size_ha <= $6)
		 ORDER BY created_at DESC
		 LIMIT $7`,
		likePattern(query), f.Province, f.District, f.FarmerType, f.MinFarmSize, f.MaxFarmSize, limitOr(limit))
	if err != nil {
		return nil, fmt.Errorf("postsMgr.SearchFarmers: %w", err)
	}
	return collect(rows, "postsMgr.SearchFarmers", func(r pgx.Rows) (model.Profile, error) {
		p, err := auth.ScanProfile(r)
		if err != nil {
			return model.Profile{}, err
		}
		return *p, nil
	})
}

func (m *PostsManager) GetFarmerProfile(ctx context.Context, id string) (*model.Profile, error) {
	defer logger.DeferLogDuration("posts.GetFarmerProfile", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	p, err := auth.ScanProfile(m.gw.DB.QueryRow(ctx, `SELECT `+auth.ProfileColumns+` FROM profiles WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("postsMgr.GetFarmerProfile: %w", err)
	}
	return p, nil
}
