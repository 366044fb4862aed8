package rank

import (
	"math"

	"github.com/tradehub/tradehub-cli/internal/model"
)

// Scorer assigns a score to one candidate. Higher is better. A NaN or
// infinite score excludes the candidate.
type Scorer interface {
	Score(rec *model.NormalizedRecord) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(rec *model.NormalizedRecord) float64

// Score implements Scorer.
func (f ScorerFunc) Score(rec *model.NormalizedRecord) float64 { return f(rec) }

var defaultScorers = map[model.Strategy]Scorer{
	model.StrategyCSP:              ScorerFunc(scoreCSP),
	model.StrategyCoveredCall:      ScorerFunc(scoreCoveredCall),
	model.StrategyLongCall:         ScorerFunc(scoreLongCall),
	model.StrategyVerticalBullCall: ScorerFunc(scoreBullCall),
	model.StrategyVerticalBullPut:  ScorerFunc(scoreBullPut),
	model.StrategyPMCC:             ScorerFunc(scoreCalendar),
	model.StrategyDiagonal:         ScorerFunc(scoreCalendar),
	model.StrategyIronCondor:       ScorerFunc(scoreIronCondor),
}

// DefaultScorer returns the built-in heuristic for a strategy.
func DefaultScorer(s model.Strategy) Scorer {
	if sc, ok := defaultScorers[s]; ok {
		return sc
	}
	return ScorerFunc(func(*model.NormalizedRecord) float64 { return math.NaN() })
}

func num(rec *model.NormalizedRecord, name string, def float64) float64 {
	if v, ok := rec.Numbers[name]; ok {
		return v
	}
	return def
}

func clip(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

// Higher profit probability and IV rank, shorter DTE.
func scoreCSP(rec *model.NormalizedRecord) float64 {
	dte := num(rec, model.FieldDTE, 30)
	ivr := num(rec, model.FieldIVRank, 0.2)
	pprob := num(rec, model.FieldProfitProb, 0.5)
	return 0.5*pprob + 0.3*ivr + 0.2*(1-clip(dte, 0, 60)/60)
}

// More annualized yield, DTE near 30, |delta| near 0.35, higher IVR, slightly OTM.
func scoreCoveredCall(rec *model.NormalizedRecord) float64 {
	ay := num(rec, model.FieldAnnualReturn, math.NaN())
	if math.IsNaN(ay) {
		ay = num(rec, model.FieldReturn, 0)
	}
	dte := clip(num(rec, model.FieldDTE, 30), 0, 3650)
	delta := clip(num(rec, model.FieldDelta, 0.35), 0, 1)
	ivr := clip(num(rec, model.FieldIVRank, 0.2), 0, 1)
	mny := num(rec, model.FieldMoneyness, -0.02)

	sAY := clip(ay, 0, 1)
	sDTE := clip((30-math.Abs(dte-30))/30, 0, 1)
	sDelta := clip((0.35-math.Abs(delta-0.35))/0.35, 0, 1)
	sIVR := clip(ivr/0.5, 0, 1)
	sMny := clip((0.05-math.Abs(mny+0.02))/0.05, 0, 1)
	return 0.35*sAY + 0.20*sDTE + 0.20*sDelta + 0.15*sIVR + 0.10*sMny
}

// Higher profit probability, in the money, DTE near 180, lower IVR.
func scoreLongCall(rec *model.NormalizedRecord) float64 {
	const dtePref = 180.0
	dte := num(rec, model.FieldDTE, dtePref)
	ivr := num(rec, model.FieldIVRank, 0.2)
	mny := num(rec, model.FieldMoneyness, 0)
	pprob := num(rec, model.FieldProfitProb, 0.5)
	dteNorm := 1 - clip(math.Abs(dte-dtePref), 0, dtePref)/dtePref
	return 0.45*pprob + 0.25*(clip(mny, -0.5, 0.5)+0.5) + 0.20*dteNorm + 0.10*(1-clip(ivr, 0, 1))
}

func spreadWidth(rec *model.NormalizedRecord) float64 {
	if w, ok := rec.Numbers[model.FieldWidth]; ok && w > 0 {
		return w
	}
	long, okL := rec.Numbers[model.FieldLongStrike]
	short, okS := rec.Numbers[model.FieldShortStrike]
	if !okL || !okS {
		return math.NaN()
	}
	return math.Abs(short - long)
}

func deltaBand(rec *model.NormalizedRecord) float64 {
	d := num(rec, model.FieldShortDelta, math.NaN())
	return math.Max(0, 1-math.Abs(d-0.40)/0.40)
}

// Remaining-to-max over width, short delta near 0.40.
func scoreBullCall(rec *model.NormalizedRecord) float64 {
	w := spreadWidth(rec)
	debit := num(rec, model.FieldDebit, math.NaN())
	if !(w > 0) {
		return math.NaN()
	}
	rem := math.Max(0, (w-debit)/w)
	return 0.6*rem + 0.4*deltaBand(rec)
}

// Credit over width, short delta near 0.40.
func scoreBullPut(rec *model.NormalizedRecord) float64 {
	w := spreadWidth(rec)
	credit := num(rec, model.FieldCredit, math.NaN())
	if !(w > 0) {
		return math.NaN()
	}
	return 0.6*(credit/w) + 0.4*deltaBand(rec)
}

// Short delta near 0.35, short DTE near 35, bigger long delta.
func scoreCalendar(rec *model.NormalizedRecord) float64 {
	sd := num(rec, model.FieldShortDelta, math.NaN())
	dte := num(rec, model.FieldDTE, math.NaN())
	ld := num(rec, model.FieldLongDelta, 0)
	return (1-math.Abs(sd-0.35))*0.6 + (1-math.Abs(dte-35)/35)*0.3 + math.Min(1, ld)*0.1
}

// Profit probability, reward per unit risk, IV rank.
func scoreIronCondor(rec *model.NormalizedRecord) float64 {
	pprob, ok := rec.Numbers[model.FieldProfitProb]
	if !ok {
		pprob = 1 - num(rec, model.FieldLossProb, 0.5)
	}
	credit := num(rec, model.FieldCredit, math.NaN())
	maxLoss := num(rec, model.FieldMaxLoss, math.NaN())
	if !(maxLoss > 0) {
		return math.NaN()
	}
	ivr := clip(num(rec, model.FieldIVRank, 0.2), 0, 1)
	return 0.5*pprob + 0.3*clip(credit/maxLoss, 0, 1) + 0.2*ivr
}
