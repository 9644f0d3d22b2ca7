package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DispatchSource says what closed the caller's utterance.
type DispatchSource string

const (
	DispatchFinal    DispatchSource = "final"
	DispatchSilence  DispatchSource = "silence"
	DispatchDirect   DispatchSource = "direct"
	DispatchGreeting DispatchSource = "greeting"
)

// TurnTiming is the timeline of one completed turn. Silence is how far the
// silence timer overshot before dispatching; Degraded marks a reply that
// came back without audio. The *MS fields are filled in when recorded.
type TurnTiming struct {
	CallID     string         `json:"call_id"`
	Turn       int            `json:"turn"`
	Source     DispatchSource `json:"source"`
	Silence    time.Duration  `json:"-"`
	Reply      time.Duration  `json:"-"`
	Playback   time.Duration  `json:"-"`
	Total      time.Duration  `json:"-"`
	Degraded   bool           `json:"degraded,omitempty"`
	At         time.Time      `json:"at"`
	SilenceMS  float64        `json:"silence_ms,omitempty"`
	ReplyMS    float64        `json:"reply_ms"`
	PlaybackMS float64        `json:"playback_ms"`
	TotalMS    float64        `json:"total_ms"`
}

// StageStats summarises one leg of the turn across the log.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	BudgetP95MS float64 `json:"budget_p95_ms,omitempty"`
	OverBudget  int     `json:"over_budget,omitempty"`
}

// SourceStats compares reply latency by how the utterance ended.
type SourceStats struct {
	Source     DispatchSource `json:"source"`
	Turns      int            `json:"turns"`
	ReplyP50MS float64        `json:"reply_p50_ms"`
	ReplyP95MS float64        `json:"reply_p95_ms"`
}

// LatencyReport is served by the latency endpoint.
type LatencyReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Capacity    int           `json:"capacity"`
	Turns       int           `json:"turns"`
	Calls       int           `json:"calls"`
	Degraded    int           `json:"degraded"`
	Stages      []StageStats  `json:"stages"`
	Sources     []SourceStats `json:"sources"`
	Recent      []TurnTiming  `json:"recent"`
}

type stageSpec struct {
	name   string
	budget float64
	value  func(TurnTiming) (float64, bool)
}

// Greeting samples only count towards greeting; the other legs describe
// answers to the caller.
var stageSpecs = []stageSpec{
	{"greeting", 2500, func(t TurnTiming) (float64, bool) {
		return t.TotalMS, t.Source == DispatchGreeting
	}},
	{"silence_overshoot", 150, func(t TurnTiming) (float64, bool) {
		return t.SilenceMS, t.Source == DispatchSilence
	}},
	{"reply", 1800, func(t TurnTiming) (float64, bool) {
		return t.ReplyMS, t.Source != DispatchGreeting
	}},
	{"playback", 6000, func(t TurnTiming) (float64, bool) {
		return t.PlaybackMS, t.Source != DispatchGreeting && !t.Degraded
	}},
	{"total", 8000, func(t TurnTiming) (float64, bool) {
		return t.TotalMS, t.Source != DispatchGreeting
	}},
}

const recentTurns = 10

// turnLog keeps the most recent turn timings of all calls.
type turnLog struct {
	mu       sync.Mutex
	capacity int
	turns    []TurnTiming
}

func newTurnLog(capacity int) *turnLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &turnLog{capacity: capacity}
}

func (l *turnLog) Add(t TurnTiming) {
	t.SilenceMS = millis(t.Silence)
	t.ReplyMS = millis(t.Reply)
	t.PlaybackMS = millis(t.Playback)
	t.TotalMS = millis(t.Total)
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.turns) == l.capacity {
		copy(l.turns, l.turns[1:])
		l.turns = l.turns[:len(l.turns)-1]
	}
	l.turns = append(l.turns, t)
}

func (l *turnLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
}

func (l *turnLog) Report() LatencyReport {
	l.mu.Lock()
	turns := append([]TurnTiming(nil), l.turns...)
	l.mu.Unlock()

	report := LatencyReport{
		GeneratedAt: time.Now().UTC(),
		Capacity:    l.capacity,
		Turns:       len(turns),
		Stages:      []StageStats{},
		Sources:     []SourceStats{},
		Recent:      []TurnTiming{},
	}

	calls := make(map[string]struct{})
	for _, t := range turns {
		calls[t.CallID] = struct{}{}
		if t.Degraded {
			report.Degraded++
		}
	}
	report.Calls = len(calls)

	for _, spec := range stageSpecs {
		var values []float64
		for _, t := range turns {
			if v, ok := spec.value(t); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		report.Stages = append(report.Stages, summarizeStage(spec, values))
	}

	bySource := make(map[DispatchSource][]float64)
	for _, t := range turns {
		if t.Source != DispatchGreeting {
			bySource[t.Source] = append(bySource[t.Source], t.ReplyMS)
		}
	}
	for _, src := range []DispatchSource{DispatchFinal, DispatchSilence, DispatchDirect} {
		values := bySource[src]
		if len(values) == 0 {
			continue
		}
		sort.Float64s(values)
		report.Sources = append(report.Sources, SourceStats{
			Source:     src,
			Turns:      len(values),
			ReplyP50MS: round2(quantile(values, 0.50)),
			ReplyP95MS: round2(quantile(values, 0.95)),
		})
	}

	for i := len(turns) - 1; i >= 0 && len(report.Recent) < recentTurns; i-- {
		report.Recent = append(report.Recent, turns[i])
	}
	return report
}

func summarizeStage(spec stageSpec, values []float64) StageStats {
	sort.Float64s(values)
	sum := 0.0
	over := 0
	for _, v := range values {
		sum += v
		if spec.budget > 0 && v > spec.budget {
			over++
		}
	}
	return StageStats{
		Stage:       spec.name,
		Samples:     len(values),
		AvgMS:       round2(sum / float64(len(values))),
		P50MS:       round2(quantile(values, 0.50)),
		P95MS:       round2(quantile(values, 0.95)),
		MaxMS:       round2(values[len(values)-1]),
		BudgetP95MS: spec.budget,
		OverBudget:  over,
	}
}

// quantile interpolates linearly over sorted.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func millis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return round2(float64(d.Microseconds()) / 1000)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
