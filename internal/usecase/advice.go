package usecase

import (
	"encoding/json"
	"strconv"
	"strings"
)

// The advisory collaborator speaks loosely-shaped JSON: fields go missing,
// payloads arrive wrapped in an extra object, batch responses mix valid
// verdicts with junk values. Everything here parses into tagged result
// types and reports ok=false instead of ever propagating a type error.

// EntryAdvice is a validated entry recommendation.
type EntryAdvice struct {
	Score     float64
	Action    string
	Reason    string
	TargetPct *float64
	StopPct   *float64
}

// RiskVerdict is a validated SELL/HOLD decision for an open position.
type RiskVerdict struct {
	Decision string
	Reason   string
}

// TuneResult is a validated strategy re-optimization suggestion.
type TuneResult struct {
	TargetPct float64
	StopPct   float64
	Reason    string
}

// wrapper keys the advisory model sometimes nests its payload under.
var wrapperKeys = []string{"result", "data", "analysis", "response"}

func unwrap(obj map[string]any) map[string]any {
	if len(obj) != 1 {
		return obj
	}
	for _, k := range wrapperKeys {
		if inner, ok := obj[k].(map[string]any); ok {
			return inner
		}
	}
	return obj
}

func decodeObject(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return unwrap(obj), true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// ParseEntryAdvice validates an entry recommendation. Score and action are
// required; the strategy block with target/stop suggestions is optional.
func ParseEntryAdvice(raw json.RawMessage) (*EntryAdvice, bool) {
	obj, ok := decodeObject(raw)
	if !ok {
		return nil, false
	}

	score, ok := asFloat(obj["score"])
	if !ok {
		return nil, false
	}
	action, ok := asString(obj["action"])
	if !ok || action == "" {
		return nil, false
	}

	adv := &EntryAdvice{Score: score, Action: action}
	if reason, ok := asString(obj["reason"]); ok {
		adv.Reason = reason
	}

	if strat, ok := obj["strategy"].(map[string]any); ok {
		if t, ok := asFloat(strat["target_price"]); ok && t > 0 {
			adv.TargetPct = &t
		}
		if s, ok := asFloat(strat["stop_loss"]); ok {
			// The model occasionally returns the stop as a negative
			// distance; the sign carries no information.
			abs := s
			if abs < 0 {
				abs = -abs
			}
			if abs > 0 {
				adv.StopPct = &abs
			}
		}
	}
	return adv, true
}

// ParseRiskVerdict validates a SELL/HOLD decision.
func ParseRiskVerdict(raw json.RawMessage) (*RiskVerdict, bool) {
	obj, ok := decodeObject(raw)
	if !ok {
		return nil, false
	}
	decision, ok := asString(obj["decision"])
	if !ok {
		return nil, false
	}
	decision = strings.ToUpper(strings.TrimSpace(decision))
	switch decision {
	case "SELL", "HOLD", "LIQUIDATE":
	default:
		return nil, false
	}
	v := &RiskVerdict{Decision: decision}
	if reason, ok := asString(obj["reason"]); ok {
		v.Reason = reason
	}
	return v, true
}

// ParseBatchRiskVerdicts validates a batch response keyed by symbol.
// Entries whose value is not a well-formed verdict object are skipped;
// one junk entry never fails the batch.
func ParseBatchRiskVerdicts(raw json.RawMessage) map[string]RiskVerdict {
	out := make(map[string]RiskVerdict)
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return out
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for symbol, entry := range obj {
		inner, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		if verdict, ok := ParseRiskVerdict(inner); ok {
			out[symbol] = *verdict
		}
	}
	return out
}

// ParseTuneResult validates a strategy re-optimization suggestion.
func ParseTuneResult(raw json.RawMessage) (*TuneResult, bool) {
	obj, ok := decodeObject(raw)
	if !ok {
		return nil, false
	}
	target, ok := asFloat(obj["target_profit_rate"])
	if !ok || target <= 0 {
		return nil, false
	}
	stop, ok := asFloat(obj["stop_loss_rate"])
	if !ok {
		return nil, false
	}
	if stop < 0 {
		stop = -stop
	}
	if stop == 0 {
		return nil, false
	}
	res := &TuneResult{TargetPct: target, StopPct: stop}
	if reason, ok := asString(obj["reason"]); ok {
		res.Reason = reason
	}
	return res, true
}
