package model

import (
	"encoding/json"
	"time"
)

type SearchType string

const (
	SearchAll    SearchType = "all"
	SearchFarmer SearchType = "farmer"
	SearchCrop   SearchType = "crop"
	SearchMarket SearchType = "market"
	SearchPost   SearchType = "post"
	SearchGroup  SearchType = "group"
)

// ParseSearchType: неизвестное значение — поиск по всем типам.
func ParseSearchType(s string) SearchType {
	switch t := SearchType(s); t {
	case SearchFarmer, SearchCrop, SearchMarket, SearchPost, SearchGroup:
		return t
	}
	return SearchAll
}

// SearchFilters — дополнительные фильтры поиска.
type SearchFilters struct {
	Province    string  `json:"province,omitempty"`
	District    string  `json:"district,omitempty"`
	CropTag     string  `json:"crop_tag,omitempty"`
	FarmerType  string  `json:"farmer_type,omitempty"`
	GroupType   string  `json:"group_type,omitempty"`
	Commodity   string  `json:"commodity,omitempty"`
	MinFarmSize float64 `json:"min_farm_size,omitempty"`
	MaxFarmSize float64 `json:"max_farm_size,omitempty"`
}

// SearchResult — элемент выдачи; Type уточняет тип Item (farmer, farmer_crop, post_crop, market, post, group).
type SearchResult struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Item any    `json:"item"`
}

type Suggestion struct {
	Query  string `json:"query"`
	Type   string `json:"type"`
	Count  int    `json:"count"`
	Source string `json:"source"`
}

type SearchResponse struct {
	Query       string         `json:"query"`
	SearchType  SearchType     `json:"search_type"`
	Filters     SearchFilters  `json:"filters"`
	Results     []SearchResult `json:"results"`
	Suggestions []Suggestion   `json:"suggestions"`
}

type SearchHistoryEntry struct {
	ID         string          `json:"id"`
	Query      string          `json:"query"`
	SearchType string          `json:"search_type"`
	Filters    json.RawMessage `json:"filters,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type TrendingSearch struct {
	Query       string `json:"query"`
	SearchType  string `json:"search_type"`
	SearchCount int    `json:"search_count"`
}
