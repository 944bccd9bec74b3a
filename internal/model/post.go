package model

import "time"

type MarketType string

const (
	MarketTypeSelling MarketType = "selling"
	MarketTypeBuying  MarketType = "buying"
)

type Post struct {
	ID               string     `json:"id"`
	AuthorID         string     `json:"author_id"`
	Content          string     `json:"content"`
	CropTags         []string   `json:"crop_tags"`
	LocationProvince string     `json:"location_province,omitempty"`
	LocationDistrict string     `json:"location_district,omitempty"`
	ImageURLs        []string   `json:"image_urls,omitempty"`
	IsMarketPost     bool       `json:"is_market_post"`
	MarketType       MarketType `json:"market_type,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LikesCount       int        `json:"likes_count"`
	CommentsCount    int        `json:"comments_count"`
	UserLiked        bool       `json:"user_liked"`
	Author           ProfileRef `json:"author"`
}

// NewPost — данные для создания поста; изображения загружаются до вставки строки.
type NewPost struct {
	Content      string
	CropTags     []string
	Province     string
	District     string
	IsMarketPost bool
	MarketType   MarketType
	Images       []Upload
}

type Comment struct {
	ID        string     `json:"id"`
	PostID    string     `json:"post_id"`
	AuthorID  string     `json:"author_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	Author    ProfileRef `json:"author"`
}

// LikeState — итог переключения лайка.
type LikeState struct {
	PostID string `json:"post_id"`
	Liked  bool   `json:"liked"`
}

// Upload — файл, выбранный пользователем для загрузки в объектное хранилище.
type Upload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// Size возвращает размер содержимого в байтах.
func (u Upload) Size() int64 { return int64(len(u.Data)) }
