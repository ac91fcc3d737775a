package utils

import (
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// DayKey returns the IST trading-day key (YYYY-MM-DD) for t.
func DayKey(t time.Time) string {
	return t.In(IndiaLocation).Format("2006-01-02")
}

// MarketStatus represents the market session at a point in time.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// MarketStatusAt returns the NSE session status at t.
func MarketStatusAt(t time.Time) MarketStatus {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketClosed
	}

	timeMinutes := now.Hour()*60 + now.Minute()

	// Pre-open: 9:00 - 9:15
	if timeMinutes >= 540 && timeMinutes < 555 {
		return MarketPreOpen
	}
	// Market open: 9:15 - 15:30
	if timeMinutes >= 555 && timeMinutes < 930 {
		return MarketOpen
	}
	return MarketClosed
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() MarketStatus {
	return MarketStatusAt(time.Now())
}

// NextSessionExpiry returns the 6 AM IST instant after t, when Kite access
// tokens lapse.
func NextSessionExpiry(t time.Time) time.Time {
	now := t.In(IndiaLocation)
	return time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, IndiaLocation)
}
