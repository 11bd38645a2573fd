package fare

import (
	"math"
	"time"
)

// Rates holds the per-service pricing parameters.
type Rates struct {
	Base   float64
	PerKm  float64
	PerMin float64
	Min    int64
}

// serviceRates is the tariff table. Unknown service types fall back to
// the "drive" row.
var serviceRates = map[string]Rates{
	"drive":   {Base: 70, PerKm: 45, PerMin: 8, Min: 80},
	"moto":    {Base: 30, PerKm: 25, PerMin: 5, Min: 40},
	"premium": {Base: 120, PerKm: 70, PerMin: 12, Min: 150},
	"cargo":   {Base: 150, PerKm: 90, PerMin: 10, Min: 200},
}

// RatesFor returns the tariff row for a service type.
func RatesFor(serviceType string) Rates {
	if r, ok := serviceRates[serviceType]; ok {
		return r
	}
	return serviceRates["drive"]
}

// PriceInput carries everything Price needs so the computation stays a
// pure function of its arguments. At supplies the local time used for
// rush-hour and night surcharges.
type PriceInput struct {
	DistanceKm   float64
	DurationMin  float64
	ServiceType  string
	DemandFactor float64
	IsNight      bool
	IsRain       bool
	WaitingMin   int
	RouteAdjKm   float64
	RouteAdjCost int64
	At           time.Time
}

// Price computes the trip price in whole currency units: tariff subtotal,
// surge multiplier capped at 3.0, service minimum floor, rounded up to the
// nearest 10.
func Price(in PriceInput) int64 {
	r := RatesFor(in.ServiceType)

	subtotal := r.Base +
		in.DistanceKm*r.PerKm +
		in.DurationMin*r.PerMin +
		float64(in.WaitingMin) +
		float64(in.RouteAdjCost) +
		in.RouteAdjKm*r.PerKm

	mult := in.DemandFactor
	if mult <= 0 {
		mult = 1.0
	}
	hour := in.At.Hour()
	if (hour >= 7 && hour <= 9) || (hour >= 16 && hour <= 18) {
		mult += 0.2
	}
	if hour >= 23 || hour <= 4 || in.IsNight {
		mult += 0.3
	}
	if in.IsRain {
		mult += 0.2
	}
	if mult > 3.0 {
		mult = 3.0
	}

	price := subtotal * mult
	if price < float64(r.Min) {
		price = float64(r.Min)
	}
	return roundUpTo10(price)
}

func roundUpTo10(v float64) int64 {
	return int64(math.Ceil(v/10.0)) * 10
}

// CommissionRate derives the platform take rate from driver performance
// signals. Fleet drivers are on a flat contract rate regardless of the
// other adjustments.
func CommissionRate(driverRating float64, tripsToday int, isFleetDriver bool, cancelRate float64) float64 {
	rate := 0.20
	if tripsToday > 10 {
		rate -= 0.02
	}
	if tripsToday > 20 {
		rate -= 0.03
	}
	if driverRating < 4.5 {
		rate += 0.05
	}
	if cancelRate > 10 {
		rate += 0.05
	}
	if isFleetDriver {
		rate = 0.18
	}
	if rate < 0.10 {
		rate = 0.10
	}
	if rate > 0.35 {
		rate = 0.35
	}
	return rate
}

// Commission computes the platform commission for a trip.
func Commission(tripPrice int64, driverRating float64, tripsToday int, isFleetDriver bool, cancelRate float64) int64 {
	rate := CommissionRate(driverRating, tripsToday, isFleetDriver, cancelRate)
	return int64(math.Round(float64(tripPrice) * rate))
}

// Fleet ownership models for the three-way split.
const (
	FleetCorporate  = "CORPORATE"
	FleetIndividual = "INDIVIDUAL"
)

// Split divides a trip price between fleet and driver after the platform
// commission. Corporate fleets keep everything above the commission and
// pay drivers a salary outside the platform.
func Split(tripPrice, platformCommission int64, fleetType string, ownerRatePct float64) (fleetTake, driverTake int64) {
	if fleetType == FleetCorporate {
		return tripPrice - platformCommission, 0
	}
	fleetTake = int64(math.Round(float64(tripPrice) * ownerRatePct / 100.0))
	driverTake = tripPrice - platformCommission - fleetTake
	if driverTake < 0 {
		driverTake = 0
	}
	return fleetTake, driverTake
}

// StopImpact prices an added stop from the extra distance and duration it
// introduces, in 5-unit steps.
func StopImpact(deltaKm, deltaMin float64, serviceType string) int64 {
	r := RatesFor(serviceType)
	if deltaKm < 0 {
		deltaKm = 0
	}
	if deltaMin < 0 {
		deltaMin = 0
	}
	raw := 10 + deltaKm*r.PerKm + deltaMin*r.PerMin
	return int64(math.Ceil(raw/5.0)) * 5
}
