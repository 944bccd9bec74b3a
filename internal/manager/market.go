package manager

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
)

// PriceFilter — фильтр отчётов о ценах.
type PriceFilter struct {
	Crop     string
	Province string
	MarketID string
	Limit    int
}

const priceCols = `r.id::text, r.reporter_id::text, r.crop_or_livestock, r.unit, r.price_per_unit::float8, r.currency,
	COALESCE(r.province,''), COALESCE(r.district,''), COALESCE(r.market_id::text,''), COALESCE(r.quality_grade,''),
	COALESCE(r.notes,''), r.created_at, COALESCE(mk.name,''), `

func scanPriceReport(rows pgx.Rows) (model.PriceReport, error) {
	var r model.PriceReport
	var marketName string
	err := rows.Scan(dest([]any{&r.ID, &r.ReporterID, &r.CropOrLivestock, &r.Unit, &r.PricePerUnit, &r.Currency,
		&r.Province, &r.District, &r.MarketID, &r.QualityGrade, &r.Notes, &r.CreatedAt, &marketName},
		refDest(&r.Reporter))...)
	if r.MarketID != "" {
		r.Market = &model.Market{ID: r.MarketID, Name: marketName}
	}
	return r, err
}

// MarketManager — отчёты о ценах и справочник рынков.
type MarketManager struct {
	gw *gateway.Gateway
}

func NewMarketManager(gw *gateway.Gateway) *MarketManager {
	return &MarketManager{gw: gw}
}

func (m *MarketManager) CreatePriceReport(ctx context.Context, in model.NewPriceReport) (*model.PriceReport, error) {
	defer logger.DeferLogDuration("market.CreatePriceReport", time.Now())()
	uid, err := m.gw.RequireUser()
	if err != nil {
		return nil, err
	}
	if err := required("crop_or_livestock", in.CropOrLivestock); err != nil {
		return nil, err
	}
	if err := required("unit", in.Unit); err != nil {
		return nil, err
	}
	if in.PricePerUnit <= 0 || math.IsNaN(in.PricePerUnit) || math.IsInf(in.PricePerUnit, 0) {
		return nil, &gateway.ValidationError{Field: "price_per_unit", Reason: "must be a positive number"}
	}
	if in.Currency == "" {
		in.Currency = model.DefaultCurrency
	}
	var id string
	err = m.gw.DB.QueryRow(ctx,
		`INSERT INTO price_reports (reporter_id, crop_or_livestock, unit, price_per_unit, currency, province, district,
		                            market_id, quality_grade, notes)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,'')::uuid, NULLIF($9,''), NULLIF($10,''))
		 RETURNING id::text`,
		uid, strings.TrimSpace(in.CropOrLivestock), in.Unit, in.PricePerUnit, in.Currency, in.Province, in.District,
		in.MarketID, in.QualityGrade, in.Notes,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("marketMgr.CreatePriceReport: %w", err)
	}
	return &model.PriceReport{
		ID: id, ReporterID: uid, CropOrLivestock: strings.TrimSpace(in.CropOrLivestock), Unit: in.Unit,
		PricePerUnit: in.PricePerUnit, Currency: in.Currency, Province: in.Province, District: in.District,
		MarketID: in.MarketID, QualityGrade: in.QualityGrade, Notes: in.Notes, CreatedAt: time.Now(),
		Reporter: model.ProfileRef{ID: uid},
	}, nil
}

func (m *MarketManager) GetPriceReports(ctx context.Context, f PriceFilter) ([]model.PriceReport, error) {
	defer logger.DeferLogDuration("market.GetPriceReports", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT `+priceCols+refCols("u")+`
		 FROM price_reports r
		 JOIN profiles u ON u.id = r.reporter_id
		 LEFT JOIN markets mk ON mk.id = r.market_id
		 WHERE ($1::text = '' OR r.crop_or_livestock = $1)
		   AND ($2::text = '' OR r.province = $2)
		   AND ($3::text = '' OR r.market_id::text = $3)
		 ORDER BY r.created_at DESC
		 LIMIT $4`, f.Crop, f.Province, f.MarketID, limitOr(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("marketMgr.GetPriceReports: %w", err)
	}
	return collect(rows, "marketMgr.GetPriceReports", scanPriceReport)
}

// GetAveragePrice — средняя цена по отчётам за последние days дней.
func (m *MarketManager) GetAveragePrice(ctx context.Context, crop, province string, days int) (*model.AveragePrice, error) {
	defer logger.DeferLogDuration("market.GetAveragePrice", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 30
	}
	var avg float64
	var n int
	err := m.gw.DB.QueryRow(ctx,
		`SELECT COALESCE(AVG(price_per_unit), 0)::float8, COUNT(*)::int
		 FROM price_reports
		 WHERE crop_or_livestock = $1
		   AND ($2::text = '' OR province = $2)
		   AND created_at >= NOW() - make_interval(days => $3)`, crop, province, days,
	).Scan(&avg, &n)
	if err != nil {
		return nil, fmt.Errorf("marketMgr.GetAveragePrice: %w", err)
	}
	return &model.AveragePrice{Average: round2(avg), SampleSize: n, Currency: model.DefaultCurrency}, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (m *MarketManager) GetMarkets(ctx context.Context, province string) ([]model.Market, error) {
	defer logger.DeferLogDuration("market.GetMarkets", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT id::text, name, COALESCE(province,''), COALESCE(district,''), COALESCE(commodities,''), is_active, last_updated
		 FROM markets
		 WHERE is_active AND ($1::text = '' OR province = $1)
		 ORDER BY name`, province)
	if err != nil {
		return nil, fmt.Errorf("marketMgr.GetMarkets: %w", err)
	}
	return collect(rows, "marketMgr.GetMarkets", func(r pgx.Rows) (model.Market, error) {
		var mk model.Market
		err := r.Scan(&mk.ID, &mk.Name, &mk.Province, &mk.District, &mk.Commodities, &mk.IsActive, &mk.LastUpdated)
		return mk, err
	})
}

// GetPriceTrends — средняя цена по дням за последние days дней, по возрастанию даты.
func (m *MarketManager) GetPriceTrends(ctx context.Context, crop string, days int) ([]model.PricePoint, error) {
	defer logger.DeferLogDuration("market.GetPriceTrends", time.Now())()
	if err := ready(ctx, m.gw); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 30
	}
	rows, err := m.gw.DB.Query(ctx,
		`SELECT to_char(created_at::date, 'YYYY-MM-DD'), AVG(price_per_unit)::float8, COUNT(*)::int
		 FROM price_reports
		 WHERE crop_or_livestock = $1 AND created_at >= NOW() - make_interval(days => $2)
		 GROUP BY created_at::date
		 ORDER BY created_at::date`, crop, days)
	if err != nil {
		return nil, fmt.Errorf("marketMgr.GetPriceTrends: %w", err)
	}
	return collect(rows, "marketMgr.GetPriceTrends", func(r pgx.Rows) (model.PricePoint, error) {
		var p model.PricePoint
		err := r.Scan(&p.Date, &p.Average, &p.Count)
		p.Average = round2(p.Average)
		return p, err
	})
}
