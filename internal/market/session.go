// Package market provides A-share session detection, market data
// providers, and session-aware quote caching.
package market

import (
	"time"

	"ths-trader/internal/config"
)

// Stage represents a segment of the A-share trading day.
type Stage string

const (
	StagePreMarket   Stage = "PRE_MARKET"
	StageAuction     Stage = "AUCTION"
	StageMorning     Stage = "MORNING"
	StageNoonBreak   Stage = "NOON_BREAK"
	StageAfternoon   Stage = "AFTERNOON"
	StageAfterMarket Stage = "AFTER_MARKET"
	StageClosed      Stage = "CLOSED"
	StageHoliday     Stage = "HOLIDAY"
)

// SessionInfo describes the market stage at a point in time.
type SessionInfo struct {
	Stage       Stage
	StartTime   time.Time
	EndTime     time.Time
	Description string
	Trading     bool // orders execute only during trading stages
}

// SessionManager resolves wall-clock time into A-share market stages.
// All computations happen in the exchange timezone regardless of the
// zone attached to the input time.
type SessionManager struct {
	location *time.Location
	holidays map[string]bool
}

// NewSessionManager builds a session manager from session config.
// Falls back to Asia/Shanghai when the configured timezone is invalid.
func NewSessionManager(cfg config.SessionConfig) *SessionManager {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc, _ = time.LoadLocation("Asia/Shanghai")
	}
	m := &SessionManager{
		location: loc,
		holidays: make(map[string]bool),
	}
	for _, d := range cfg.Holidays {
		m.holidays[d] = true
	}
	return m
}

// AddHoliday marks a date as a market holiday.
func (m *SessionManager) AddHoliday(date time.Time) {
	m.holidays[date.In(m.location).Format("2006-01-02")] = true
}

// IsHoliday checks if a date is a configured market holiday.
func (m *SessionManager) IsHoliday(t time.Time) bool {
	return m.holidays[t.In(m.location).Format("2006-01-02")]
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (m *SessionManager) IsTradingDay(t time.Time) bool {
	t = t.In(m.location)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !m.IsHoliday(t)
}

// IsTradingTime reports whether orders can execute at t. This is the
// gate the risk cascade and the quote cache consult.
func (m *SessionManager) IsTradingTime(t time.Time) bool {
	return m.SessionAt(t).Trading
}

// SessionAt returns the market stage at a specific time.
func (m *SessionManager) SessionAt(t time.Time) *SessionInfo {
	t = t.In(m.location)

	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return &SessionInfo{Stage: StageClosed, Description: "周末休市"}
	}
	if m.IsHoliday(t) {
		return &SessionInfo{Stage: StageHoliday, Description: "节假日休市"}
	}

	minutes := t.Hour()*60 + t.Minute()

	// Stage boundaries in minutes from midnight.
	const (
		preMarketStart = 8*60 + 30  // 08:30
		auctionStart   = 9*60 + 15  // 09:15
		auctionEnd     = 9*60 + 25  // 09:25
		morningStart   = 9*60 + 30  // 09:30
		morningEnd     = 11*60 + 30 // 11:30
		afternoonStart = 13 * 60    // 13:00
		afternoonEnd   = 15 * 60    // 15:00
		afterMktEnd    = 15*60 + 30 // 15:30
	)

	switch {
	case minutes >= preMarketStart && minutes < auctionStart:
		return &SessionInfo{
			Stage:       StagePreMarket,
			StartTime:   timeAt(t, 8, 30),
			EndTime:     timeAt(t, 9, 15),
			Description: "盘前",
		}
	case minutes >= auctionStart && minutes < auctionEnd:
		return &SessionInfo{
			Stage:       StageAuction,
			StartTime:   timeAt(t, 9, 15),
			EndTime:     timeAt(t, 9, 25),
			Description: "集合竞价",
		}
	case minutes >= morningStart && minutes < morningEnd:
		return &SessionInfo{
			Stage:       StageMorning,
			StartTime:   timeAt(t, 9, 30),
			EndTime:     timeAt(t, 11, 30),
			Description: "早盘",
			Trading:     true,
		}
	case minutes >= morningEnd && minutes < afternoonStart:
		return &SessionInfo{
			Stage:       StageNoonBreak,
			StartTime:   timeAt(t, 11, 30),
			EndTime:     timeAt(t, 13, 0),
			Description: "午间休市",
		}
	case minutes >= afternoonStart && minutes < afternoonEnd:
		return &SessionInfo{
			Stage:       StageAfternoon,
			StartTime:   timeAt(t, 13, 0),
			EndTime:     timeAt(t, 15, 0),
			Description: "午盘",
			Trading:     true,
		}
	case minutes >= afternoonEnd && minutes < afterMktEnd:
		return &SessionInfo{
			Stage:       StageAfterMarket,
			StartTime:   timeAt(t, 15, 0),
			EndTime:     timeAt(t, 15, 30),
			Description: "盘后",
		}
	default:
		return &SessionInfo{Stage: StageClosed, Description: "休市"}
	}
}

// LastTradingClose returns the 15:00 close of the most recent trading
// day at or before t. It walks back at most seven days; if every one of
// them is a weekend or holiday it returns the zero time.
func (m *SessionManager) LastTradingClose(t time.Time) time.Time {
	t = t.In(m.location)
	for i := 0; i < 7; i++ {
		day := t.AddDate(0, 0, -i)
		if !m.IsTradingDay(day) {
			continue
		}
		close := timeAt(day, 15, 0)
		if close.After(t) {
			continue
		}
		return close
	}
	return time.Time{}
}

// NextOpen returns the start of the next trading window after t.
func (m *SessionManager) NextOpen(t time.Time) time.Time {
	t = t.In(m.location)

	if m.IsTradingDay(t) {
		minutes := t.Hour()*60 + t.Minute()
		if minutes < 9*60+30 {
			return timeAt(t, 9, 30)
		}
		if minutes < 13*60 {
			return timeAt(t, 13, 0)
		}
	}

	next := t.AddDate(0, 0, 1)
	for !m.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return timeAt(next, 9, 30)
}

// timeAt creates a time on the same day at the given hour and minute.
func timeAt(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

// String returns a human-readable stage label.
func (s Stage) String() string {
	switch s {
	case StagePreMarket:
		return "Pre-Market (08:30-09:15)"
	case StageAuction:
		return "Call Auction (09:15-09:25)"
	case StageMorning:
		return "Morning Session (09:30-11:30)"
	case StageNoonBreak:
		return "Noon Break (11:30-13:00)"
	case StageAfternoon:
		return "Afternoon Session (13:00-15:00)"
	case StageAfterMarket:
		return "After-Market (15:00-15:30)"
	case StageClosed:
		return "Closed"
	case StageHoliday:
		return "Holiday"
	default:
		return string(s)
	}
}
