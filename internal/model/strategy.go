// Package model defines the records that flow through the screener pipeline
// and the strategy registry that gives them their canonical shape.
package model

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Strategy names one options screener (covered_call, csp, ...).
type Strategy string

const (
	StrategyCoveredCall      Strategy = "covered_call"
	StrategyCSP              Strategy = "csp"
	StrategyLongCall         Strategy = "long_call"
	StrategyVerticalBullCall Strategy = "vertical_bull_call"
	StrategyVerticalBullPut  Strategy = "vertical_bull_put"
	StrategyDiagonal         Strategy = "diagonal"
	StrategyIronCondor       Strategy = "iron_condor"
	StrategyPMCC             Strategy = "pmcc"
)

// FieldKind controls how a raw screener cell is coerced during normalization.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindInt
	KindPercent
	KindDate
	KindTimestamp
)

func (k FieldKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindInt:
		return "int"
	case KindPercent:
		return "percent"
	case KindDate:
		return "date"
	case KindTimestamp:
		return "timestamp"
	default:
		return "string"
	}
}

// FieldSpec describes one canonical field and the export headers that map to it.
type FieldSpec struct {
	Name    string
	Kind    FieldKind
	Aliases []string
	// Abs stores the absolute value (put deltas arrive negative).
	Abs bool
}

// StrategySpec is the registry entry for a strategy.
type StrategySpec struct {
	Name      Strategy
	Title     string
	IDPrefix  string
	KeyFields []string
	Fields    []FieldSpec
	// Filters lists which rank filters apply to this strategy's candidates.
	Filters []string

	byName map[string]FieldSpec
	alias  map[string]string
}

// Canonical field names shared across strategies.
const (
	FieldSymbol          = "symbol"
	FieldExpiration      = "expiration"
	FieldStrike          = "strike"
	FieldDTE             = "dte"
	FieldDelta           = "delta"
	FieldIV              = "iv"
	FieldIVRank          = "iv_rank"
	FieldProfitProb      = "profit_prob"
	FieldMoneyness       = "moneyness"
	FieldBid             = "bid"
	FieldAsk             = "ask"
	FieldMid             = "mid"
	FieldVolume          = "volume"
	FieldOpenInterest    = "open_interest"
	FieldPrice           = "price"
	FieldReturn          = "return_pct"
	FieldAnnualReturn    = "annualized_return"
	FieldBreakEven       = "break_even"
	FieldAsOf            = "as_of"
	FieldLongStrike      = "long_strike"
	FieldShortStrike     = "short_strike"
	FieldLongExpiration  = "long_expiration"
	FieldShortExpiration = "short_expiration"
	FieldLongDelta       = "long_delta"
	FieldShortDelta      = "short_delta"
	FieldWidth           = "width"
	FieldDebit           = "debit"
	FieldCredit          = "credit"
	FieldMaxProfit       = "max_profit"
	FieldMaxLoss         = "max_loss"
	FieldRiskReward      = "risk_reward"
	FieldLossProb        = "loss_prob"
	FieldLongPutStrike   = "long_put_strike"
	FieldShortPutStrike  = "short_put_strike"
	FieldShortCallStrike = "short_call_strike"
	FieldLongCallStrike  = "long_call_strike"
)

// Filter names understood by the ranker.
const (
	FilterIVR = "ivr"
	FilterDTE = "dte"
)

var (
	fSymbol       = FieldSpec{Name: FieldSymbol, Kind: KindString, Aliases: []string{"Symbol", "Underlying Symbol", "Underlying", "Ticker"}}
	fExpiration   = FieldSpec{Name: FieldExpiration, Kind: KindDate, Aliases: []string{"Expiration Date", "Exp Date", "Expiration", "Expiry"}}
	fStrike       = FieldSpec{Name: FieldStrike, Kind: KindNumber, Aliases: []string{"Strike Price", "Strike"}}
	fDTE          = FieldSpec{Name: FieldDTE, Kind: KindInt, Aliases: []string{"DTE", "Days to Expiration"}}
	fDelta        = FieldSpec{Name: FieldDelta, Kind: KindNumber, Aliases: []string{"Delta"}, Abs: true}
	fIV           = FieldSpec{Name: FieldIV, Kind: KindPercent, Aliases: []string{"IV", "Imp Vol", "Implied Volatility"}}
	fIVRank       = FieldSpec{Name: FieldIVRank, Kind: KindPercent, Aliases: []string{"IV Rank", "IVR", "IV Rank %"}}
	fProfitProb   = FieldSpec{Name: FieldProfitProb, Kind: KindPercent, Aliases: []string{"Profit Prob", "Prob of Profit", "Probability of Profit"}}
	fMoneyness    = FieldSpec{Name: FieldMoneyness, Kind: KindPercent, Aliases: []string{"Moneyness", "OTM %"}}
	fBid          = FieldSpec{Name: FieldBid, Kind: KindNumber, Aliases: []string{"Bid"}}
	fAsk          = FieldSpec{Name: FieldAsk, Kind: KindNumber, Aliases: []string{"Ask"}}
	fMid          = FieldSpec{Name: FieldMid, Kind: KindNumber, Aliases: []string{"Mid", "Midpoint", "Mark"}}
	fVolume       = FieldSpec{Name: FieldVolume, Kind: KindInt, Aliases: []string{"Volume", "Option Volume"}}
	fOpenInterest = FieldSpec{Name: FieldOpenInterest, Kind: KindInt, Aliases: []string{"Open Int", "Open Interest", "OI"}}
	fPrice        = FieldSpec{Name: FieldPrice, Kind: KindNumber, Aliases: []string{"Price", "Underlying Price", "Last", "Stock Price"}}
	fReturn       = FieldSpec{Name: FieldReturn, Kind: KindPercent, Aliases: []string{"Return", "Static Return", "Return If Called", "Return %"}}
	fAnnReturn    = FieldSpec{Name: FieldAnnualReturn, Kind: KindPercent, Aliases: []string{"Ann Rtn", "Annual Rtn", "Annualized Return", "Annualized Return If Assigned", "If Called Ann Rtn"}}
	fBreakEven    = FieldSpec{Name: FieldBreakEven, Kind: KindNumber, Aliases: []string{"Break Even", "BE (Bid)", "Breakeven"}}
	fAsOf         = FieldSpec{Name: FieldAsOf, Kind: KindTimestamp, Aliases: []string{"As Of", "Time", "Quote Time", "Timestamp"}}
	fLongStrike   = FieldSpec{Name: FieldLongStrike, Kind: KindNumber, Aliases: []string{"Long Strike", "Leg1 Strike", "Strike Leg1"}}
	fShortStrike  = FieldSpec{Name: FieldShortStrike, Kind: KindNumber, Aliases: []string{"Short Strike", "Leg2 Strike", "Strike Leg2"}}
	fLongExp      = FieldSpec{Name: FieldLongExpiration, Kind: KindDate, Aliases: []string{"Long Exp Date", "Long Expiration", "Leg1 Exp Date", "LEAP Exp Date"}}
	fShortExp     = FieldSpec{Name: FieldShortExpiration, Kind: KindDate, Aliases: []string{"Short Exp Date", "Short Expiration", "Leg2 Exp Date"}}
	fLongDelta    = FieldSpec{Name: FieldLongDelta, Kind: KindNumber, Aliases: []string{"Long Delta", "Leg1 Delta", "LEAP Delta"}, Abs: true}
	fShortDelta   = FieldSpec{Name: FieldShortDelta, Kind: KindNumber, Aliases: []string{"Short Delta", "Leg2 Delta"}, Abs: true}
	fWidth        = FieldSpec{Name: FieldWidth, Kind: KindNumber, Aliases: []string{"Width", "Spread Width"}}
	fDebit        = FieldSpec{Name: FieldDebit, Kind: KindNumber, Aliases: []string{"Debit", "Net Debit", "Spread Price"}}
	fCredit       = FieldSpec{Name: FieldCredit, Kind: KindNumber, Aliases: []string{"Credit", "Net Credit"}}
	fMaxProfit    = FieldSpec{Name: FieldMaxProfit, Kind: KindNumber, Aliases: []string{"Max Profit"}}
	fMaxLoss      = FieldSpec{Name: FieldMaxLoss, Kind: KindNumber, Aliases: []string{"Max Loss"}}
	fRiskReward   = FieldSpec{Name: FieldRiskReward, Kind: KindNumber, Aliases: []string{"Risk/Reward", "Risk Reward", "Max Loss/Max Profit"}}
	fLossProb     = FieldSpec{Name: FieldLossProb, Kind: KindPercent, Aliases: []string{"Loss Prob", "Prob of Loss"}}
	fLongPut      = FieldSpec{Name: FieldLongPutStrike, Kind: KindNumber, Aliases: []string{"Long Put Strike", "Leg1 Strike"}}
	fShortPut     = FieldSpec{Name: FieldShortPutStrike, Kind: KindNumber, Aliases: []string{"Short Put Strike", "Leg2 Strike"}}
	fShortCall    = FieldSpec{Name: FieldShortCallStrike, Kind: KindNumber, Aliases: []string{"Short Call Strike", "Leg3 Strike"}}
	fLongCall     = FieldSpec{Name: FieldLongCallStrike, Kind: KindNumber, Aliases: []string{"Long Call Strike", "Leg4 Strike"}}
)

var singleLegFields = []FieldSpec{
	fSymbol, fExpiration, fStrike, fDTE, fDelta, fIV, fIVRank, fProfitProb,
	fMoneyness, fBid, fAsk, fMid, fVolume, fOpenInterest, fPrice, fReturn,
	fAnnReturn, fBreakEven, fAsOf,
}

var verticalFields = []FieldSpec{
	fSymbol, fExpiration, fDTE, fLongStrike, fShortStrike, fShortDelta, fWidth,
	fDebit, fCredit, fMid, fIVRank, fProfitProb, fMaxProfit, fMaxLoss, fPrice, fAsOf,
}

var calendarFields = []FieldSpec{
	fSymbol, fLongExp, fLongStrike, fShortExp, fShortStrike, fLongDelta,
	fShortDelta, fDebit, fIVRank, fDTE, fPrice, fAsOf,
}

var condorFields = []FieldSpec{
	fSymbol, fExpiration, fDTE, fLongPut, fShortPut, fShortCall, fLongCall,
	fCredit, fMaxProfit, fMaxLoss, fRiskReward, fLossProb, fProfitProb, fIVRank,
	fPrice, fAsOf,
}

var registry = map[Strategy]*StrategySpec{}

func register(s *StrategySpec) {
	s.byName = make(map[string]FieldSpec, len(s.Fields))
	s.alias = make(map[string]string)
	for _, f := range s.Fields {
		s.byName[f.Name] = f
		s.alias[headerKey(f.Name)] = f.Name
		for _, a := range f.Aliases {
			// First declaration wins so shared leg aliases stay deterministic.
			if _, ok := s.alias[headerKey(a)]; !ok {
				s.alias[headerKey(a)] = f.Name
			}
		}
	}
	registry[s.Name] = s
}

func init() {
	register(&StrategySpec{
		Name: StrategyCoveredCall, Title: "Covered Call", IDPrefix: "CC",
		KeyFields: []string{FieldSymbol, FieldExpiration, FieldStrike},
		Fields:    singleLegFields, Filters: []string{FilterIVR, FilterDTE},
	})
	register(&StrategySpec{
		Name: StrategyCSP, Title: "Cash-Secured Put", IDPrefix: "CSP",
		KeyFields: []string{FieldSymbol, FieldExpiration, FieldStrike},
		Fields:    singleLegFields, Filters: []string{FilterIVR, FilterDTE},
	})
	register(&StrategySpec{
		Name: StrategyLongCall, Title: "Long Call", IDPrefix: "LC",
		KeyFields: []string{FieldSymbol, FieldExpiration, FieldStrike},
		Fields:    singleLegFields, Filters: []string{FilterIVR, FilterDTE},
	})
	register(&StrategySpec{
		Name: StrategyVerticalBullCall, Title: "Bull Call Spread", IDPrefix: "BCALL",
		KeyFields: []string{FieldSymbol, FieldExpiration, FieldLongStrike, FieldShortStrike},
		Fields:    verticalFields, Filters: []string{FilterIVR, FilterDTE},
	})
	register(&StrategySpec{
		Name: StrategyVerticalBullPut, Title: "Bull Put Spread", IDPrefix: "BPUT",
		KeyFields: []string{FieldSymbol, FieldExpiration, FieldLongStrike, FieldShortStrike},
		Fields:    verticalFields, Filters: []string{FilterIVR, FilterDTE},
	})
	register(&StrategySpec{
		Name: StrategyDiagonal, Title: "Diagonal", IDPrefix: "DIAG",
		KeyFields: []string{FieldSymbol, FieldLongExpiration, FieldLongStrike, FieldShortExpiration, FieldShortStrike},
		Fields:    calendarFields, Filters: []string{FilterIVR, FilterDTE},
	})
	register(&StrategySpec{
		Name: StrategyIronCondor, Title: "Iron Condor", IDPrefix: "IC",
		KeyFields: []string{FieldSymbol, FieldExpiration, FieldLongPutStrike, FieldShortPutStrike, FieldShortCallStrike, FieldLongCallStrike},
		Fields:    condorFields, Filters: []string{FilterIVR, FilterDTE},
	})
	register(&StrategySpec{
		Name: StrategyPMCC, Title: "Poor Man's Covered Call", IDPrefix: "PMCC",
		KeyFields: []string{FieldSymbol, FieldLongExpiration, FieldLongStrike, FieldShortExpiration, FieldShortStrike},
		Fields:    calendarFields, Filters: []string{FilterIVR, FilterDTE},
	})
}

// Lookup returns the registry entry for a strategy name.
func Lookup(name string) (*StrategySpec, error) {
	s, ok := registry[Strategy(strings.TrimSpace(name))]
	if !ok {
		return nil, eris.Errorf("model: unknown strategy %q", name)
	}
	return s, nil
}

// MustLookup is Lookup for registry names known at compile time.
func MustLookup(s Strategy) *StrategySpec {
	spec, err := Lookup(string(s))
	if err != nil {
		panic(err)
	}
	return spec
}

// Strategies returns all registered strategy names in lexical order.
func Strategies() []Strategy {
	out := make([]Strategy, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Field returns the spec for a canonical field name.
func (s *StrategySpec) Field(name string) (FieldSpec, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Canonical maps an export header to its canonical field name. Headers that
// match no alias are returned unchanged and ok is false.
func (s *StrategySpec) Canonical(header string) (string, bool) {
	if name, ok := s.alias[headerKey(header)]; ok {
		return name, true
	}
	return header, false
}

// HasFilter reports whether the ranker filter applies to this strategy.
func (s *StrategySpec) HasFilter(name string) bool {
	for _, f := range s.Filters {
		if f == name {
			return true
		}
	}
	return false
}

// headerKey folds case and whitespace so "Strike  Price" matches "strike price".
func headerKey(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}
