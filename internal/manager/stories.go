package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
	"github.com/agrilovers/internal/storage"
)

// DraftStore — локальное хранилище черновиков (часть storage.Store).
type DraftStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// StoriesManager — истории на 24 часа и их просмотры.
type StoriesManager struct {
	gw     *gateway.Gateway
	drafts DraftStore
	now    func() time.Time
}

func NewStoriesManager(gw *gateway.Gateway, drafts DraftStore) *StoriesManager {
	return &StoriesManager{gw: gw, drafts: drafts, now: time.Now}
}

// storyObjectPath — stories/{uid}/{unix-ms}.{ext}.
func storyObjectPath(uid, name string, at time.Time) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("stories/%s/%d.%s", uid, at.UnixMilli(), ext)
}

func splitTags(s string) []string {
	out := []string{}
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// CreateStory загружает фото и публикует историю с местоположением и культурами из профиля автора.
func (m *StoriesManager) CreateStory(ctx context.Context, caption string, img model.Upload) (*model.Story, error) {
	defer logger.DeferLogDuration("stories.CreateStory", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	if err := gateway.ValidateUploads([]model.Upload{img}, m.gw.Limits); err != nil {
		return nil, err
	}
	if m.gw.Storage == nil {
		return nil, gateway.ErrNotConfigured
	}
	url, err := m.gw.Storage.Upload(ctx, gateway.BucketStoryImages, storyObjectPath(uid, img.Name, m.now()), img.ContentType, img.Data)
	if err != nil {
		return nil, fmt.Errorf("storiesMgr.CreateStory upload: %w", err)
	}

	s := &model.Story{AuthorID: uid, ImageURL: url, Caption: strings.TrimSpace(caption), Author: model.ProfileRef{ID: uid}}
	var crops string
	err = m.gw.DB.QueryRow(ctx,
		`SELECT COALESCE(province,''), COALESCE(district,''), COALESCE(crops,''), COALESCE(first_name,''), COALESCE(last_name,''),
		        COALESCE(avatar_url,'')
		 FROM profiles WHERE id = $1`, uid,
	).Scan(&s.LocationProvince, &s.LocationDistrict, &crops, &s.Author.FirstName, &s.Author.LastName, &s.Author.AvatarURL)
	if err != nil && noRows(err) != gateway.ErrNotFound {
		return nil, fmt.Errorf("storiesMgr.CreateStory profile: %w", err)
	}
	s.CropTags = splitTags(crops)

	err = m.gw.DB.QueryRow(ctx,
		`INSERT INTO stories (author_id, image_url, caption, location_province, location_district, crop_tags)
		 VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), $6)
		 RETURNING id::text, created_at, expires_at`,
		uid, url, s.Caption, s.LocationProvince, s.LocationDistrict, s.CropTags,
	).Scan(&s.ID, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("storiesMgr.CreateStory: %w", err)
	}
	if err := m.ClearDraft(ctx); err != nil {
		logger.Warnf("stories: clear draft: %v", err)
	}
	return s, nil
}

// GetActiveStories — неистёкшие истории, сгруппированные по авторам.
func (m *StoriesManager) GetActiveStories(ctx context.Context) ([]model.StoryGroup, error) {
	defer logger.DeferLogDuration("stories.GetActiveStories", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT s.id::text, s.author_id::text, s.image_url, COALESCE(s.caption,''), COALESCE(s.location_province,''),
		        COALESCE(s.location_district,''), s.crop_tags, s.created_at, s.expires_at, `+refCols("pr")+`
		 FROM stories s JOIN profiles pr ON pr.id = s.author_id
		 WHERE s.expires_at > NOW()
		 ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storiesMgr.GetActiveStories: %w", err)
	}
	stories, err := collect(rows, "storiesMgr.GetActiveStories", func(r pgx.Rows) (model.Story, error) {
		var s model.Story
		err := r.Scan(dest([]any{&s.ID, &s.AuthorID, &s.ImageURL, &s.Caption, &s.LocationProvince,
			&s.LocationDistrict, &s.CropTags, &s.CreatedAt, &s.ExpiresAt}, refDest(&s.Author))...)
		return s, err
	})
	if err != nil {
		return nil, err
	}
	uid := m.gw.UserID()
	viewed := map[string]bool{}
	if uid != "" && len(stories) > 0 {
		ids := make([]string, len(stories))
		for i := range stories {
			ids[i] = stories[i].ID
		}
		seen, err := countBy(ctx, m.gw.DB,
			`SELECT story_id::text, 1 FROM story_views WHERE viewer_id = $1::uuid AND story_id = ANY($2::uuid[])`, uid, ids)
		if err != nil {
			return nil, fmt.Errorf("storiesMgr.GetActiveStories views: %w", err)
		}
		for id := range seen {
			viewed[id] = true
		}
	}
	return GroupStories(uid, stories, viewed), nil
}

// GroupStories группирует истории по автору в порядке первого появления.
// Свои истории идут первыми и никогда не помечаются непросмотренными.
func GroupStories(uid string, stories []model.Story, viewed map[string]bool) []model.StoryGroup {
	var own *model.StoryGroup
	var others []*model.StoryGroup
	byAuthor := make(map[string]*model.StoryGroup)
	for _, s := range stories {
		g := byAuthor[s.AuthorID]
		if g == nil {
			g = &model.StoryGroup{User: s.Author}
			g.User.ID = s.AuthorID
			byAuthor[s.AuthorID] = g
			if s.AuthorID == uid {
				own = g
			} else {
				others = append(others, g)
			}
		}
		g.Stories = append(g.Stories, s)
		if s.AuthorID != uid && !viewed[s.ID] {
			g.HasUnseen = true
		}
	}
	out := make([]model.StoryGroup, 0, len(byAuthor))
	if own != nil {
		out = append(out, *own)
	}
	for _, g := range others {
		out = append(out, *g)
	}
	return out
}

// ViewStory отмечает просмотр; повторный просмотр не ошибка.
func (m *StoriesManager) ViewStory(ctx context.Context, storyID string) error {
	defer logger.DeferLogDuration("stories.ViewStory", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	var seen bool
	if err := m.gw.DB.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM story_views WHERE story_id = $1 AND viewer_id = $2)`, storyID, uid,
	).Scan(&seen); err != nil {
		return fmt.Errorf("storiesMgr.ViewStory check: %w", err)
	}
	if seen {
		return nil
	}
	_, err = m.gw.DB.Exec(ctx, `INSERT INTO story_views (story_id, viewer_id) VALUES ($1, $2)`, storyID, uid)
	if err != nil && !gateway.IsUniqueViolation(err) {
		return fmt.Errorf("storiesMgr.ViewStory: %w", err)
	}
	return nil
}

func (m *StoriesManager) DeleteStory(ctx context.Context, storyID string) error {
	defer logger.DeferLogDuration("stories.DeleteStory", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return err
	}
	tag, err := m.gw.DB.Exec(ctx, `DELETE FROM stories WHERE id = $1 AND author_id = $2`, storyID, uid)
	if err != nil {
		return fmt.Errorf("storiesMgr.DeleteStory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// SaveDraft кладёт черновик в локальное хранилище на время жизни истории.
func (m *StoriesManager) SaveDraft(ctx context.Context, d model.StoryDraft) error {
	if m.drafts == nil {
		return nil
	}
	if d.SavedAt.IsZero() {
		d.SavedAt = m.now()
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return m.drafts.Set(ctx, storage.StoryDraftKey(m.gw.UserID()), string(data), storage.StoryDraftTTL)
}

// LoadDraft возвращает nil без ошибки, если черновика нет.
func (m *StoriesManager) LoadDraft(ctx context.Context) (*model.StoryDraft, error) {
	if m.drafts == nil {
		return nil, nil
	}
	raw, err := m.drafts.Get(ctx, storage.StoryDraftKey(m.gw.UserID()))
	if err != nil || raw == "" {
		return nil, err
	}
	var d model.StoryDraft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		logger.Warnf("stories: drop corrupt draft: %v", err)
		return nil, m.ClearDraft(ctx)
	}
	return &d, nil
}

func (m *StoriesManager) ClearDraft(ctx context.Context) error {
	if m.drafts == nil {
		return nil
	}
	return m.drafts.Delete(ctx, storage.StoryDraftKey(m.gw.UserID()))
}
