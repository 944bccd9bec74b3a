package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/model"
)

// DefaultWeatherURL — Open-Meteo forecast API.
const DefaultWeatherURL = "https://api.open-meteo.com/v1/forecast"

// DefaultLocation — провинция прогноза по умолчанию.
const DefaultLocation = "Lusaka"

const (
	seedBagKg       = 25
	forecastDays    = 5
	weatherTimezone = "Africa/Lusaka"
)

// seedRates — норма высева, кг/га.
var seedRates = map[string]float64{
	"maize":      25,
	"soybeans":   80,
	"wheat":      100,
	"groundnuts": 80,
	"sunflower":  40,
}

// fertilizerRates — мешки по 50 кг на гектар: базальное, подкормка.
var fertilizerRates = map[string][2]float64{
	"maize":    {4, 4},
	"soybeans": {2, 0},
	"wheat":    {4, 4},
}

type coords struct{ lat, lon float64 }

// provinceCoords — центры провинций Замбии.
var provinceCoords = map[string]coords{
	"Lusaka":        {-15.4167, 28.2833},
	"Copperbelt":    {-12.9667, 28.6333},
	"Central":       {-14.4333, 28.45},
	"Southern":      {-16.85, 26.9833},
	"Western":       {-15.2833, 23.15},
	"Eastern":       {-13.6333, 32.65},
	"Northern":      {-10.2, 31.1833},
	"Luapula":       {-11.1, 28.8833},
	"North-Western": {-12.1833, 26.4},
	"Muchinga":      {-11.8333, 31.4333},
}

// ToolsManager — калькуляторы и прогноз погоды. БД не нужна.
type ToolsManager struct {
	weatherURL string
	client     *http.Client
	now        func() time.Time
}

func NewToolsManager(weatherURL string, client *http.Client) *ToolsManager {
	if weatherURL == "" {
		weatherURL = DefaultWeatherURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ToolsManager{weatherURL: weatherURL, client: client, now: time.Now}
}

func positiveArea(area float64) error {
	if area <= 0 || math.IsNaN(area) || math.IsInf(area, 0) {
		return &gateway.ValidationError{Field: "area", Reason: "must be a positive number of hectares"}
	}
	return nil
}

// CalculateSeedRate — семена на площадь и число 25-кг мешков.
func (m *ToolsManager) CalculateSeedRate(crop string, areaHa float64) (*model.SeedRate, error) {
	if err := positiveArea(areaHa); err != nil {
		return nil, err
	}
	rate, ok := seedRates[strings.ToLower(strings.TrimSpace(crop))]
	if !ok {
		return nil, &gateway.ValidationError{Field: "crop", Reason: fmt.Sprintf("no seed rate for %q", crop)}
	}
	kg := rate * areaHa
	return &model.SeedRate{
		Crop: crop, AreaHa: areaHa, SeedNeededKg: kg,
		BagsNeeded: int(math.Ceil(kg / seedBagKg)),
	}, nil
}

// CalculateFertilizer — базальное и подкормочное удобрение в 50-кг мешках.
func (m *ToolsManager) CalculateFertilizer(crop string, areaHa float64) (*model.FertilizerPlan, error) {
	if err := positiveArea(areaHa); err != nil {
		return nil, err
	}
	r, ok := fertilizerRates[strings.ToLower(strings.TrimSpace(crop))]
	if !ok {
		return nil, &gateway.ValidationError{Field: "crop", Reason: fmt.Sprintf("no fertilizer plan for %q", crop)}
	}
	basal := int(math.Ceil(r[0] * areaHa))
	top := int(math.Ceil(r[1] * areaHa))
	return &model.FertilizerPlan{Crop: crop, AreaHa: areaHa, BasalBags: basal, TopBags: top, TotalBags: basal + top}, nil
}

// WeatherCondition переводит WMO-код в описание и иконку.
func WeatherCondition(code int) (string, string) {
	switch {
	case code == 0:
		return "Sunny", "☀️"
	case code >= 1 && code <= 3:
		return "Partly Cloudy", "⛅"
	case code >= 45 && code <= 48:
		return "Foggy", "🌫️"
	case code >= 51 && code <= 67:
		return "Rainy", "🌧️"
	case code >= 71 && code <= 77:
		return "Snow", "❄️"
	case code >= 80 && code <= 82:
		return "Heavy Rain", "⛈️"
	case code >= 95 && code <= 99:
		return "Thunderstorm", "⚡"
	}
	return "Unknown", "🌡️"
}

type openMeteoResponse struct {
	Daily struct {
		Time             []string  `json:"time"`
		WeatherCode      []int     `json:"weathercode"`
		TemperatureMax   []float64 `json:"temperature_2m_max"`
		TemperatureMin   []float64 `json:"temperature_2m_min"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// GetWeather — прогноз на 5 дней для провинции. При сбое сети возвращает сгенерированный
// прогноз с Mock=true, а не ошибку.
func (m *ToolsManager) GetWeather(ctx context.Context, province string) *model.Weather {
	defer logger.DeferLogDuration("tools.GetWeather", time.Now())()
	c, ok := provinceCoords[province]
	if !ok {
		province = DefaultLocation
		c = provinceCoords[DefaultLocation]
	}
	w, err := m.fetchWeather(ctx, province, c)
	if err != nil {
		logger.Warnf("tools: weather for %s: %v, using mock forecast", province, err)
		return m.mockWeather(province)
	}
	return w
}

func (m *ToolsManager) fetchWeather(ctx context.Context, province string, c coords) (*model.Weather, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", c.lat))
	q.Set("longitude", fmt.Sprintf("%.4f", c.lon))
	q.Set("daily", "weathercode,temperature_2m_max,temperature_2m_min,precipitation_sum")
	q.Set("timezone", weatherTimezone)
	q.Set("forecast_days", fmt.Sprint(forecastDays))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.weatherURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &gateway.HTTPError{Status: resp.StatusCode, Message: "weather service"}
	}
	var body openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode weather: %w", err)
	}
	d := body.Daily
	n := min(len(d.Time), len(d.WeatherCode), len(d.TemperatureMax), len(d.TemperatureMin), len(d.PrecipitationSum), forecastDays)
	if n == 0 {
		return nil, fmt.Errorf("weather: empty forecast")
	}
	w := &model.Weather{Location: province, Forecast: make([]model.DayForecast, 0, n)}
	for i := 0; i < n; i++ {
		cond, icon := WeatherCondition(d.WeatherCode[i])
		w.Forecast = append(w.Forecast, model.DayForecast{
			Date: d.Time[i], TempHigh: int(math.Round(d.TemperatureMax[i])), TempLow: int(math.Round(d.TemperatureMin[i])),
			Condition: cond, Icon: icon, Rainfall: d.PrecipitationSum[i],
		})
	}
	w.Current = w.Forecast[0]
	return w, nil
}

// mockWeather — детерминированный прогноз на основе даты.
func (m *ToolsManager) mockWeather(province string) *model.Weather {
	codes := []int{0, 2, 61, 3, 80}
	start := m.now()
	w := &model.Weather{Location: province, Mock: true, Forecast: make([]model.DayForecast, 0, forecastDays)}
	for i := 0; i < forecastDays; i++ {
		day := start.AddDate(0, 0, i)
		code := codes[(day.YearDay()+i)%len(codes)]
		cond, icon := WeatherCondition(code)
		rain := 0.0
		if code >= 51 {
			rain = float64(5 + day.YearDay()%15)
		}
		w.Forecast = append(w.Forecast, model.DayForecast{
			Date: day.Format("2006-01-02"), TempHigh: 26 + day.YearDay()%6, TempLow: 14 + day.YearDay()%4,
			Condition: cond, Icon: icon, Rainfall: rain,
		})
	}
	w.Current = w.Forecast[0]
	return w
}

// Provinces — список провинций для выбора местоположения прогноза.
func Provinces() []string {
	return []string{"Lusaka", "Copperbelt", "Central", "Southern", "Western", "Eastern",
		"Northern", "Luapula", "North-Western", "Muchinga"}
}
