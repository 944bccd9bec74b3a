package model

import "time"

type Market struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Province    string     `json:"province,omitempty"`
	District    string     `json:"district,omitempty"`
	Commodities string     `json:"commodities,omitempty"`
	IsActive    bool       `json:"is_active"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

type PriceReport struct {
	ID              string     `json:"id"`
	ReporterID      string     `json:"reporter_id"`
	CropOrLivestock string     `json:"crop_or_livestock"`
	Unit            string     `json:"unit"`
	PricePerUnit    float64    `json:"price_per_unit"`
	Currency        string     `json:"currency"`
	Province        string     `json:"province,omitempty"`
	District        string     `json:"district,omitempty"`
	MarketID        string     `json:"market_id,omitempty"`
	QualityGrade    string     `json:"quality_grade,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Reporter        ProfileRef `json:"reporter"`
	Market          *Market    `json:"market,omitempty"`
}

type NewPriceReport struct {
	CropOrLivestock string
	Unit            string
	PricePerUnit    float64
	Currency        string
	Province        string
	District        string
	MarketID        string
	QualityGrade    string
	Notes           string
}

// DefaultCurrency — валюта отчётов о ценах по умолчанию.
const DefaultCurrency = "ZMW"

// AveragePrice — средняя цена по последним отчётам, округлённая до сотых.
type AveragePrice struct {
	Average    float64 `json:"average"`
	SampleSize int     `json:"sample_size"`
	Currency   string  `json:"currency"`
}

// PricePoint — средняя цена за день для графика тренда.
type PricePoint struct {
	Date    string  `json:"date"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}
