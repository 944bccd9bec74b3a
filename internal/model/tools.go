package model

// SeedRate — расчёт потребности в семенах (мешки по 25 кг).
type SeedRate struct {
	Crop         string  `json:"crop"`
	AreaHa       float64 `json:"area"`
	SeedNeededKg float64 `json:"seed_needed_kg"`
	BagsNeeded   int     `json:"bags_needed"`
}

// FertilizerPlan — базальное и подкормочное удобрение, мешки по 50 кг.
type FertilizerPlan struct {
	Crop      string  `json:"crop"`
	AreaHa    float64 `json:"area"`
	BasalBags int     `json:"basal_bags"`
	TopBags   int     `json:"top_bags"`
	TotalBags int     `json:"total_bags"`
}

type DayForecast struct {
	Date      string  `json:"date"`
	TempHigh  int     `json:"temp_high"`
	TempLow   int     `json:"temp_low"`
	Condition string  `json:"condition"`
	Icon      string  `json:"icon"`
	Rainfall  float64 `json:"rainfall"`
}

// Weather — прогноз на 5 дней; Mock — данные сгенерированы без сети.
type Weather struct {
	Location string        `json:"location"`
	Current  DayForecast   `json:"current"`
	Forecast []DayForecast `json:"forecast"`
	Mock     bool          `json:"mock"`
}
