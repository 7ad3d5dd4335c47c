package scheduler

import (
	"strings"
	"sync"
	"time"

	"dashboard-sync/src/logger"
	"dashboard-sync/src/normalizer"

	"github.com/scmhub/calendar"
)

// defaultMIC is used for symbols without a known exchange suffix.
const defaultMIC = "xnys"

// exchangeSuffixes maps ticker suffixes to ISO 10383 MIC codes.
var exchangeSuffixes = map[string]string{
	".L":  "xlon",
	".PA": "xpar",
	".DE": "xfra",
	".AS": "xams",
	".BR": "xbru",
	".MI": "xmil",
	".MC": "xmad",
	".ST": "xsto",
	".CO": "xcse",
	".HE": "xhel",
	".VI": "xwbo",
	".SW": "xswx",
	".TO": "xtse",
	".V":  "xtsx",
	".T":  "xtks",
	".HK": "xhkg",
	".AX": "xasx",
	".KS": "xkrx",
	".TW": "xtai",
	".SS": "xshg",
	".SZ": "xshe",
}

// quoteAssets are settlement currencies of crypto pairs; pairs trade 24/7.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "FDUSD", "USD", "EUR", "BTC", "ETH"}

// -----------------------------------------------------------------------------
// MarketCalendar answers "is this market open now" for one exchange.
// -----------------------------------------------------------------------------

type MarketCalendar struct {
	MIC      string
	Calendar *calendar.Calendar
	AlwaysOn bool
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// IsOpen reports whether the market is open at t.
func (mc *MarketCalendar) IsOpen(t time.Time) bool {
	if mc.AlwaysOn {
		return true
	}
	if mc.Timezone != nil {
		t = t.In(mc.Timezone)
	}
	if !mc.Fallback {
		return mc.Calendar.IsOpen(t)
	}

	// Mon-Fri 09:30-16:00 exchange time
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// -----------------------------------------------------------------------------

// IsCryptoPair reports whether symbol looks like a crypto pair such as
// BTCUSDT, ETH-USD or SOL/USDC.
func IsCryptoPair(symbol string) bool {
	sym := normalizer.NormalizeSymbol(symbol)
	if sym == "" || strings.Contains(sym, ".") {
		return false
	}
	if i := strings.IndexAny(sym, "-/"); i > 0 {
		quote := sym[i+1:]
		for _, qa := range quoteAssets {
			if quote == qa {
				return true
			}
		}
		return false
	}
	for _, qa := range quoteAssets {
		if len(sym) > len(qa)+1 && strings.HasSuffix(sym, qa) {
			return true
		}
	}
	return false
}

// MICFor returns the exchange MIC for a symbol from its ticker suffix.
func MICFor(symbol string) string {
	sym := normalizer.NormalizeSymbol(symbol)
	if i := strings.LastIndex(sym, "."); i >= 0 {
		if mic, ok := exchangeSuffixes[sym[i:]]; ok {
			return mic
		}
	}
	return defaultMIC
}

// -----------------------------------------------------------------------------
// MarketHoursGate
// -----------------------------------------------------------------------------

// MarketHoursGate is ready while the market of at least one tracked symbol
// is open. Crypto pairs count as always open.
type MarketHoursGate struct {
	mu        sync.RWMutex
	calendars map[string]*MarketCalendar // by symbol
	byMIC     map[string]*MarketCalendar
	now       func() time.Time
	Logger    *logger.Logger
}

func NewMarketHoursGate(symbols []string, l *logger.Logger) *MarketHoursGate {
	if l == nil {
		l = logger.NewLogger(nil, "MarketHoursGate")
	}
	g := &MarketHoursGate{
		calendars: make(map[string]*MarketCalendar),
		byMIC:     make(map[string]*MarketCalendar),
		now:       time.Now,
		Logger:    l,
	}
	g.UpdateSymbols(symbols)
	return g
}

// -----------------------------------------------------------------------------

// UpdateSymbols replaces the tracked symbol set.
func (g *MarketHoursGate) UpdateSymbols(symbols []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calendars = make(map[string]*MarketCalendar)
	for _, sym := range normalizer.NormalizeSymbols(symbols) {
		g.calendars[sym] = g.calendarFor(sym)
	}

	unique := make(map[*MarketCalendar]struct{})
	for _, cal := range g.calendars {
		unique[cal] = struct{}{}
	}
	g.Logger.Info("Mapped %d symbols to %d market calendars", len(g.calendars), len(unique))
}

// calendarFor must be called with g.mu held.
func (g *MarketHoursGate) calendarFor(symbol string) *MarketCalendar {
	mic := "crypto"
	if !IsCryptoPair(symbol) {
		mic = MICFor(symbol)
	}
	if cal, ok := g.byMIC[mic]; ok {
		return cal
	}

	cal := loadCalendar(mic, g.Logger)
	g.byMIC[mic] = cal
	return cal
}

func loadCalendar(mic string, l *logger.Logger) *MarketCalendar {
	if mic == "crypto" {
		return &MarketCalendar{MIC: mic, AlwaysOn: true}
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil && mic != defaultMIC {
		cal = calendar.GetCalendar(defaultMIC)
	}
	if cal != nil {
		return &MarketCalendar{MIC: mic, Calendar: cal, Timezone: cal.Loc}
	}

	l.Warning("No calendar for MIC '%s', using Mon-Fri 09:30-16:00 New York hours", mic)
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &MarketCalendar{MIC: mic, Fallback: true, Timezone: loc}
}

// -----------------------------------------------------------------------------

// Ready reports whether any tracked market is open now. With no tracked
// symbols there is nothing to poll, so it is not ready.
func (g *MarketHoursGate) Ready() bool {
	now := g.now().UTC()

	g.mu.RLock()
	defer g.mu.RUnlock()

	checked := make(map[*MarketCalendar]struct{}, len(g.calendars))
	for _, cal := range g.calendars {
		if _, done := checked[cal]; done {
			continue
		}
		checked[cal] = struct{}{}
		if cal.IsOpen(now) {
			return true
		}
	}
	return false
}

// MICs returns the tracked exchange codes by symbol.
func (g *MarketHoursGate) MICs() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]string, len(g.calendars))
	for sym, cal := range g.calendars {
		out[sym] = cal.MIC
	}
	return out
}
