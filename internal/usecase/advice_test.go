package usecase

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEntryAdvice(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		ok    bool
		check func(t *testing.T, adv *EntryAdvice)
	}{
		{
			name: "flat object",
			raw:  `{"score":85,"action":"BUY","reason":"breakout"}`,
			ok:   true,
			check: func(t *testing.T, adv *EntryAdvice) {
				require.Equal(t, 85.0, adv.Score)
				require.Equal(t, "BUY", adv.Action)
				require.Equal(t, "breakout", adv.Reason)
				require.Nil(t, adv.TargetPct)
			},
		},
		{
			name: "wrapped in result",
			raw:  `{"result":{"score":70,"action":"BUY"}}`,
			ok:   true,
			check: func(t *testing.T, adv *EntryAdvice) {
				require.Equal(t, 70.0, adv.Score)
			},
		},
		{
			name: "numeric string score",
			raw:  `{"score":"77","action":"BUY"}`,
			ok:   true,
			check: func(t *testing.T, adv *EntryAdvice) {
				require.Equal(t, 77.0, adv.Score)
			},
		},
		{
			name: "strategy block with negative stop",
			raw:  `{"score":80,"action":"BUY","strategy":{"target_price":4.0,"stop_loss":-2.0}}`,
			ok:   true,
			check: func(t *testing.T, adv *EntryAdvice) {
				require.NotNil(t, adv.TargetPct)
				require.Equal(t, 4.0, *adv.TargetPct)
				require.NotNil(t, adv.StopPct)
				require.Equal(t, 2.0, *adv.StopPct, "stop sign is normalized")
			},
		},
		{name: "missing score", raw: `{"action":"BUY"}`, ok: false},
		{name: "missing action", raw: `{"score":90}`, ok: false},
		{name: "plain string", raw: `"BUY"`, ok: false},
		{name: "array", raw: `[{"score":90,"action":"BUY"}]`, ok: false},
		{name: "empty", raw: ``, ok: false},
		{name: "not json", raw: `score: 90`, ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adv, ok := ParseEntryAdvice(json.RawMessage(tc.raw))
			require.Equal(t, tc.ok, ok)
			if tc.ok && tc.check != nil {
				tc.check(t, adv)
			}
		})
	}
}

func TestParseRiskVerdict(t *testing.T) {
	v, ok := ParseRiskVerdict(json.RawMessage(`{"decision":"sell","reason":"weak"}`))
	require.True(t, ok)
	require.Equal(t, "SELL", v.Decision, "decision is upper-cased")
	require.Equal(t, "weak", v.Reason)

	v, ok = ParseRiskVerdict(json.RawMessage(`{"analysis":{"decision":"HOLD"}}`))
	require.True(t, ok)
	require.Equal(t, "HOLD", v.Decision)

	_, ok = ParseRiskVerdict(json.RawMessage(`{"decision":"PANIC"}`))
	require.False(t, ok, "unknown decisions are rejected")

	_, ok = ParseRiskVerdict(json.RawMessage(`{"decision":42}`))
	require.False(t, ok)
}

func TestParseBatchRiskVerdictsSkipsJunk(t *testing.T) {
	raw := json.RawMessage(`{
		"AAPL": {"decision":"SELL","reason":"trend broken"},
		"TSLA": "hold it",
		"NVDA": {"decision":"HOLD"},
		"AMD":  {"verdict":"SELL"}
	}`)

	verdicts := ParseBatchRiskVerdicts(raw)
	require.Len(t, verdicts, 2, "junk entries are skipped, not fatal")
	require.Equal(t, "SELL", verdicts["AAPL"].Decision)
	require.Equal(t, "HOLD", verdicts["NVDA"].Decision)
	_, ok := verdicts["TSLA"]
	require.False(t, ok)
}

func TestParseBatchRiskVerdictsNonObject(t *testing.T) {
	require.Empty(t, ParseBatchRiskVerdicts(json.RawMessage(`[1,2,3]`)))
	require.Empty(t, ParseBatchRiskVerdicts(json.RawMessage(`garbage`)))
}

func TestParseTuneResult(t *testing.T) {
	res, ok := ParseTuneResult(json.RawMessage(`{"target_profit_rate":4.5,"stop_loss_rate":-2.0,"reason":"volatile day"}`))
	require.True(t, ok)
	require.Equal(t, 4.5, res.TargetPct)
	require.Equal(t, 2.0, res.StopPct, "stop sign is normalized")
	require.Equal(t, "volatile day", res.Reason)

	_, ok = ParseTuneResult(json.RawMessage(`{"target_profit_rate":0,"stop_loss_rate":2}`))
	require.False(t, ok, "non-positive target is rejected")

	_, ok = ParseTuneResult(json.RawMessage(`{"target_profit_rate":4,"stop_loss_rate":0}`))
	require.False(t, ok, "zero stop is rejected")

	_, ok = ParseTuneResult(json.RawMessage(`{"data":{"target_profit_rate":"3.5","stop_loss_rate":"2"}}`))
	require.True(t, ok, "wrapped and stringly-typed payloads are accepted")
}
