package weather

// Observation: нормализованное текущее наблюдение.
type Observation struct {
	Location        string `json:"location"`
	AreaName        string `json:"area_name"`
	Country         string `json:"country"`
	TemperatureF    string `json:"temperature_f"`
	TemperatureC    string `json:"temperature_c"`
	Condition       string `json:"condition"`
	Humidity        string `json:"humidity"`
	WindSpeedMph    string `json:"wind_speed_mph"`
	FeelsLikeF      string `json:"feels_like_f"`
	ObservationTime string `json:"observation_time"`
}

func (o Observation) Map() map[string]any {
	return map[string]any{
		"location":         o.Location,
		"area_name":        o.AreaName,
		"country":          o.Country,
		"temperature_f":    o.TemperatureF,
		"temperature_c":    o.TemperatureC,
		"condition":        o.Condition,
		"humidity":         o.Humidity,
		"wind_speed_mph":   o.WindSpeedMph,
		"feels_like_f":     o.FeelsLikeF,
		"observation_time": o.ObservationTime,
	}
}

type ForecastDay struct {
	Date     string `json:"date"`
	MaxTempF string `json:"max_temp_f"`
	MinTempF string `json:"min_temp_f"`
	MaxTempC string `json:"max_temp_c"`
	MinTempC string `json:"min_temp_c"`
	Summary  string `json:"summary"`
}

type Forecast struct {
	Location string        `json:"location"`
	AreaName string        `json:"area_name"`
	Country  string        `json:"country"`
	Days     []ForecastDay `json:"days"`
}

func (f Forecast) Map() map[string]any {
	days := make([]any, 0, len(f.Days))
	for _, d := range f.Days {
		days = append(days, map[string]any{
			"date":       d.Date,
			"max_temp_f": d.MaxTempF,
			"min_temp_f": d.MinTempF,
			"max_temp_c": d.MaxTempC,
			"min_temp_c": d.MinTempC,
			"summary":    d.Summary,
		})
	}
	return map[string]any{
		"location":  f.Location,
		"area_name": f.AreaName,
		"country":   f.Country,
		"days":      days,
	}
}

// Сырой формат j1: почти все значения — массивы из одного {"value": ...}.
type valueList []struct {
	Value string `json:"value"`
}

func (v valueList) first(fallback string) string {
	if len(v) == 0 || v[0].Value == "" {
		return fallback
	}
	return v[0].Value
}

type report struct {
	CurrentCondition []struct {
		TempF           string    `json:"temp_F"`
		TempC           string    `json:"temp_C"`
		FeelsLikeF      string    `json:"FeelsLikeF"`
		Humidity        string    `json:"humidity"`
		WindspeedMiles  string    `json:"windspeedMiles"`
		ObservationTime string    `json:"observation_time"`
		WeatherDesc     valueList `json:"weatherDesc"`
	} `json:"current_condition"`
	NearestArea []struct {
		AreaName valueList `json:"areaName"`
		Country  valueList `json:"country"`
	} `json:"nearest_area"`
	Weather []struct {
		Date     string `json:"date"`
		MaxTempF string `json:"maxtempF"`
		MinTempF string `json:"mintempF"`
		MaxTempC string `json:"maxtempC"`
		MinTempC string `json:"mintempC"`
		Hourly   []struct {
			Time        string    `json:"time"`
			WeatherDesc valueList `json:"weatherDesc"`
		} `json:"hourly"`
	} `json:"weather"`
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func (r *report) area(location string) (string, string) {
	if len(r.NearestArea) == 0 {
		return location, "Unknown"
	}
	a := r.NearestArea[0]
	return a.AreaName.first(location), a.Country.first("Unknown")
}

func (r *report) observation(location string) Observation {
	cur := r.CurrentCondition[0]
	area, country := r.area(location)
	return Observation{
		Location:        location,
		AreaName:        area,
		Country:         country,
		TemperatureF:    orNA(cur.TempF),
		TemperatureC:    orNA(cur.TempC),
		Condition:       cur.WeatherDesc.first("N/A"),
		Humidity:        orNA(cur.Humidity),
		WindSpeedMph:    orNA(cur.WindspeedMiles),
		FeelsLikeF:      orNA(cur.FeelsLikeF),
		ObservationTime: orNA(cur.ObservationTime),
	}
}

func (r *report) forecast(location string, days int) Forecast {
	area, country := r.area(location)
	f := Forecast{Location: location, AreaName: area, Country: country}
	for i, w := range r.Weather {
		if i >= days {
			break
		}
		// Сводка дня — описание на полдень (слот "1200"), иначе первое доступное
		summary := "N/A"
		for _, h := range w.Hourly {
			if h.Time == "1200" {
				summary = h.WeatherDesc.first(summary)
				break
			}
		}
		if summary == "N/A" && len(w.Hourly) > 0 {
			summary = w.Hourly[0].WeatherDesc.first(summary)
		}
		f.Days = append(f.Days, ForecastDay{
			Date:     w.Date,
			MaxTempF: orNA(w.MaxTempF),
			MinTempF: orNA(w.MinTempF),
			MaxTempC: orNA(w.MaxTempC),
			MinTempC: orNA(w.MinTempC),
			Summary:  summary,
		})
	}
	return f
}
