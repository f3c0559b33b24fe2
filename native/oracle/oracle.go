package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrPriceUnavailable indicates that no oracle could produce a quote for
	// the requested asset.
	ErrPriceUnavailable = errors.New("oracle: price unavailable")
	// ErrNoFreshQuote indicates that the aggregator could not retrieve a quote
	// within the configured freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
	// ErrPriceDeviation indicates that a quote moved further from the last
	// accepted sample than the configured tolerance allows.
	ErrPriceDeviation = errors.New("oracle: price deviation too high")
)

// PriceQuote captures the price of one asset unit in the quote currency along
// with the timestamp reported by the upstream source.
type PriceQuote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// PriceOracle resolves the current price for the supplied asset symbol.
type PriceOracle interface {
	GetPrice(asset string) (PriceQuote, error)
}

// Aggregator consults a list of registered oracles in priority order until a
// fresh quote is obtained. Quotes older than the freshness window are skipped;
// quotes that deviate from the last accepted sample beyond the configured
// tolerance are rejected outright so a single bad feed cannot trigger unsound
// liquidations.
type Aggregator struct {
	mu              sync.RWMutex
	priority        []string
	oracles         map[string]PriceOracle
	maxAge          time.Duration
	maxDeviationBps uint64
	lastAccepted    map[string]PriceQuote
	now             func() time.Time
}

// NewAggregator constructs an aggregator with the provided priority ordering
// and freshness window. A zero maxAge disables the staleness check.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		priority:     append([]string{}, priority...),
		oracles:      make(map[string]PriceOracle),
		maxAge:       maxAge,
		lastAccepted: make(map[string]PriceQuote),
		now:          time.Now,
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetMaxDeviationBps configures the maximum tolerated move, in basis points,
// between consecutive accepted quotes for the same asset. Zero disables the
// check.
func (a *Aggregator) SetMaxDeviationBps(bps uint64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxDeviationBps = bps
	a.mu.Unlock()
}

// SetClock overrides the time source. Tests use this to pin staleness checks.
func (a *Aggregator) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Register adds or replaces an oracle under the supplied identifier.
// Identifiers are stored in lowercase so lookups remain consistent regardless
// of configuration casing.
func (a *Aggregator) Register(name string, oracle PriceOracle) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.oracles[trimmed] = oracle
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// GetPrice fetches a price from the configured oracles respecting the priority
// ordering, freshness window and deviation tolerance.
func (a *Aggregator) GetPrice(asset string) (PriceQuote, error) {
	if a == nil {
		return PriceQuote{}, fmt.Errorf("oracle aggregator not configured")
	}
	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return PriceQuote{}, fmt.Errorf("oracle: asset symbol required")
	}

	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	deviationBps := a.maxDeviationBps
	now := a.now
	a.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now().Add(-maxAge)
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		source := a.oracles[name]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		quote, err := source.GetPrice(symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Rate == nil || quote.Rate.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle %s returned invalid rate", name)
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		if deviationBps > 0 {
			if err := a.checkDeviation(symbol, quote.Rate, deviationBps); err != nil {
				return PriceQuote{}, err
			}
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		a.mu.Lock()
		a.lastAccepted[symbol] = result.Clone()
		a.mu.Unlock()
		return result, nil
	}

	if lastErr == nil {
		lastErr = ErrPriceUnavailable
	}
	return PriceQuote{}, lastErr
}

func (a *Aggregator) checkDeviation(symbol string, rate *big.Rat, toleranceBps uint64) error {
	a.mu.RLock()
	previous, ok := a.lastAccepted[symbol]
	a.mu.RUnlock()
	if !ok || previous.Rate == nil || previous.Rate.Sign() == 0 {
		return nil
	}
	diff := new(big.Rat).Sub(rate, previous.Rate)
	diff.Abs(diff)
	diff.Quo(diff, previous.Rate)
	tolerance := new(big.Rat).SetFrac64(int64(toleranceBps), 10_000)
	if diff.Cmp(tolerance) > 0 {
		return ErrPriceDeviation
	}
	return nil
}

// ManualOracle provides an in-memory oracle implementation used for tests and
// manual overrides during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]PriceQuote)}
}

// Set stores the provided rational price for the asset.
func (m *ManualOracle) Set(asset string, rate *big.Rat, ts time.Time) {
	if m == nil || rate == nil {
		return
	}
	symbol := normaliseSymbol(asset)
	if symbol == "" {
		return
	}
	m.mu.Lock()
	m.quotes[symbol] = PriceQuote{Rate: new(big.Rat).Set(rate), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
}

// SetDecimal records the supplied decimal price string for the asset.
func (m *ManualOracle) SetDecimal(asset, rate string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	trimmed := strings.TrimSpace(rate)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: rate required")
	}
	parsed, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("manual oracle: invalid rate %q", rate)
	}
	if parsed.Sign() <= 0 {
		return fmt.Errorf("manual oracle: rate must be positive")
	}
	m.Set(asset, parsed, ts)
	return nil
}

// GetPrice retrieves the stored price for the asset.
func (m *ManualOracle) GetPrice(asset string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual oracle not configured")
	}
	symbol := normaliseSymbol(asset)
	m.mu.RLock()
	stored, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, ErrPriceUnavailable
	}
	return stored.Clone(), nil
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
