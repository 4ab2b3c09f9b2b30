package models

// WeatherReading is the subset of upstream conditions served to clients.
// It has no identity beyond the city name and is never persisted.
type WeatherReading struct {
	City               string  `json:"ville"`
	TemperatureCelsius float64 `json:"température"`
	Description        string  `json:"description"`
}
