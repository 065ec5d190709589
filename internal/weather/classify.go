package weather

// ClassifyAQI maps an AQI to the ordinal category. NaN, zero and negative
// values are Unknown. Thresholds are checked from the highest band down.
func ClassifyAQI(aqi float64) AirQualityCategory {
	switch {
	case aqi == 0:
		return AirQualityUnknown
	case aqi >= 201:
		return AirQualityPoor
	case aqi >= 151:
		return AirQualityInferior
	case aqi >= 101:
		return AirQualityFair
	case aqi >= 51:
		return AirQualityGood
	case aqi >= 0:
		return AirQualityExcellent
	default:
		return AirQualityUnknown
	}
}

type breakpoint struct {
	aqiLo, aqiHi   float64
	concLo, concHi float64
}

// EPA PM2.5 breakpoints, continuous at band edges.
var pm25Breakpoints = []breakpoint{
	{0, 50, 0, 12.0},
	{50, 100, 12.0, 35.5},
	{100, 150, 35.5, 55.5},
	{150, 200, 55.5, 150.5},
	{200, 300, 150.5, 250.5},
	{300, 400, 250.5, 350.5},
	{400, 500, 350.5, 500.5},
}

// InferPM25 estimates the PM2.5 density in µg/m³ from an AQI. The boolean is
// false when aqi is outside [0, 500] or NaN.
func InferPM25(aqi float64) (float64, bool) {
	for _, bp := range pm25Breakpoints {
		if aqi >= bp.aqiLo && aqi <= bp.aqiHi {
			return bp.concLo + (aqi-bp.aqiLo)*(bp.concHi-bp.concLo)/(bp.aqiHi-bp.aqiLo), true
		}
	}
	return 0, false
}
