package weather

import (
	"fmt"
	"math"
)

// Molar volume of an ideal gas at 0°C and 1013 hPa, in litres.
const molarVolume = 22.41

var ppbMolarMass = map[Pollutant]float64{
	PollutantNO2: 46.01,
	PollutantO3:  48.00,
	PollutantSO2: 64.07,
}

var mgMolarMass = map[Pollutant]float64{
	PollutantCO: 28.01,
}

// gasVolume is the molar volume corrected for temperature and pressure.
func gasVolume(temperatureC, pressureHpa float64) (float64, error) {
	if pressureHpa == 0 || math.IsNaN(pressureHpa) || math.IsNaN(temperatureC) {
		return 0, fmt.Errorf("%w: temperature %v°C, pressure %v hPa", ErrInvalidMeasurement, temperatureC, pressureHpa)
	}
	return molarVolume * ((temperatureC + 273) / 273) * (1013 / pressureHpa), nil
}

// PPBToMicrogramsPerM3 converts a gas concentration in ppb to µg/m³, rounded
// to the nearest integer. Only NO2, O3 and SO2 are supported.
func PPBToMicrogramsPerM3(p Pollutant, ppb, temperatureC, pressureHpa float64) (float64, error) {
	mass, ok := ppbMolarMass[p]
	if !ok {
		return 0, fmt.Errorf("%w: %s from ppb", ErrUnsupportedPollutant, p)
	}
	vol, err := gasVolume(temperatureC, pressureHpa)
	if err != nil {
		return 0, err
	}
	return math.Round(ppb * (mass / vol)), nil
}

// MicrogramsPerM3ToPPB is the unrounded inverse of PPBToMicrogramsPerM3.
func MicrogramsPerM3ToPPB(p Pollutant, ug, temperatureC, pressureHpa float64) (float64, error) {
	mass, ok := ppbMolarMass[p]
	if !ok {
		return 0, fmt.Errorf("%w: %s to ppb", ErrUnsupportedPollutant, p)
	}
	vol, err := gasVolume(temperatureC, pressureHpa)
	if err != nil {
		return 0, err
	}
	return ug * vol / mass, nil
}

// MilligramsPerM3ToPPM converts a mass concentration to ppm. Only CO is supported.
func MilligramsPerM3ToPPM(p Pollutant, mg, temperatureC, pressureHpa float64) (float64, error) {
	mass, ok := mgMolarMass[p]
	if !ok {
		return 0, fmt.Errorf("%w: %s to ppm", ErrUnsupportedPollutant, p)
	}
	vol, err := gasVolume(temperatureC, pressureHpa)
	if err != nil {
		return 0, err
	}
	return mg * vol / mass, nil
}
