package regime

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/pkg/models"
)

var (
	testRegimeCfg = config.RegimeConfig{
		SidewaysVolMax:   0.06,
		SidewaysR2Max:    0.35,
		TrendR2Min:       0.70,
		TrendSlopeAbsMin: 0.005,
		VolatileVolMin:   0.12,
		VolatileR2Max:    0.55,
	}
	testHeatCfg = config.HeatConfig{
		CoolThreshold:     40,
		HotThreshold:      70,
		ConfirmationsCool: 2,
		ConfirmationsMid:  3,
		ConfirmationsHot:  4,
	}
	t0    = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	dwell = 2 * time.Minute
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		s    models.Signals
		want models.Regime
	}{
		{"high vol no trend", models.Signals{VolNorm: 0.2, TrendR2: 0.3}, models.RegimeVolatile},
		{"volatile boundaries inclusive", models.Signals{VolNorm: 0.12, TrendR2: 0.55}, models.RegimeVolatile},
		{"clean trend", models.Signals{VolNorm: 0.05, TrendR2: 0.8, EmaSlopeAbs: 0.01}, models.RegimeTrending},
		{"volatile trend is trending", models.Signals{VolNorm: 0.2, TrendR2: 0.8, EmaSlopeAbs: 0.01}, models.RegimeTrending},
		{"flat slope is not a trend", models.Signals{VolNorm: 0.05, TrendR2: 0.8, EmaSlopeAbs: 0.001}, models.RegimeSideways},
		{"quiet range", models.Signals{VolNorm: 0.03, TrendR2: 0.1}, models.RegimeSideways},
		{"fallback volatile", models.Signals{VolNorm: 0.2, TrendR2: 0.6}, models.RegimeVolatile},
		{"fallback sideways", models.Signals{VolNorm: 0.08, TrendR2: 0.5}, models.RegimeSideways},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.s, testRegimeCfg); got != tt.want {
				t.Errorf("Detect(%+v) = %s, want %s", tt.s, got, tt.want)
			}
		})
	}
}

func TestRequiredConfirmations(t *testing.T) {
	cases := map[int]int{0: 2, 40: 2, 41: 3, 69: 3, 70: 4, 100: 4}
	for heat, want := range cases {
		if got := RequiredConfirmations(heat, testHeatCfg); got != want {
			t.Errorf("heat %d: got %d confirmations, want %d", heat, got, want)
		}
	}
}

func TestStepSeedsFirstObservation(t *testing.T) {
	m := NewMachine()

	tr := m.Step("pool", models.RegimeTrending, 50, t0, dwell, testHeatCfg)
	if tr.Switched || tr.Current != models.RegimeTrending {
		t.Fatalf("first observation should seed without switching, got %+v", tr)
	}

	st, ok := m.State("pool")
	if !ok || !st.LastChangeUTC.Equal(t0) || st.Candidate != "" {
		t.Errorf("unexpected seeded state %+v", st)
	}
}

func TestStepDwellDefersCandidate(t *testing.T) {
	m := NewMachine()
	m.Step("pool", models.RegimeSideways, 50, t0, dwell, testHeatCfg)

	// Inside the dwell window the candidate is recorded but not counted
	for i := 1; i <= 10; i++ {
		tr := m.Step("pool", models.RegimeVolatile, 50, t0.Add(time.Duration(i)*10*time.Second), dwell, testHeatCfg)
		if tr.Switched {
			t.Fatalf("switched inside dwell window at step %d", i)
		}
	}
	st, _ := m.State("pool")
	if st.Candidate != models.RegimeVolatile || st.CandidateCount != 0 {
		t.Fatalf("expected uncounted volatile candidate, got %+v", st)
	}

	// After dwell, three consecutive mid-heat confirmations commit
	at := t0.Add(dwell)
	for i := 0; i < 2; i++ {
		if tr := m.Step("pool", models.RegimeVolatile, 50, at, dwell, testHeatCfg); tr.Switched {
			t.Fatalf("switched after %d confirmations", i+1)
		}
		at = at.Add(10 * time.Second)
	}

	tr := m.Step("pool", models.RegimeVolatile, 50, at, dwell, testHeatCfg)
	if !tr.Switched || tr.Previous != models.RegimeSideways || tr.Current != models.RegimeVolatile {
		t.Fatalf("expected switch to volatile, got %+v", tr)
	}
	if tr.Confirmations != 3 || tr.Required != 3 {
		t.Errorf("unexpected confirmation counts %+v", tr)
	}

	st, _ = m.State("pool")
	if !st.LastChangeUTC.Equal(at) || st.Candidate != "" || st.CandidateCount != 0 {
		t.Errorf("commit should reset candidate and stamp change time, got %+v", st)
	}
}

func TestStepConfirmationsScaleWithHeat(t *testing.T) {
	tests := []struct {
		heat int
		want int
	}{
		{heat: 30, want: 2},
		{heat: 55, want: 3},
		{heat: 85, want: 4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("heat %d", tt.heat), func(t *testing.T) {
			m := NewMachine()
			m.Step("pool", models.RegimeSideways, tt.heat, t0, dwell, testHeatCfg)

			at := t0.Add(dwell)
			for i := 1; i <= tt.want; i++ {
				tr := m.Step("pool", models.RegimeTrending, tt.heat, at, dwell, testHeatCfg)
				if tr.Switched != (i == tt.want) {
					t.Fatalf("confirmation %d: switched=%v, want switch only at %d", i, tr.Switched, tt.want)
				}
				at = at.Add(10 * time.Second)
			}
		})
	}
}

func TestStepFlickerNeverSwitches(t *testing.T) {
	m := NewMachine()
	m.Step("pool", models.RegimeSideways, 20, t0, dwell, testHeatCfg)

	at := t0.Add(time.Hour)
	for i := 0; i < 50; i++ {
		detected := models.RegimeVolatile
		if i%2 == 1 {
			detected = models.RegimeSideways
		}
		if tr := m.Step("pool", detected, 20, at, dwell, testHeatCfg); tr.Switched {
			t.Fatalf("single flickering detection switched the regime at step %d", i)
		}
		at = at.Add(10 * time.Second)
	}
}

func TestStepCandidateChangeRestartsCount(t *testing.T) {
	m := NewMachine()
	m.Step("pool", models.RegimeSideways, 50, t0, dwell, testHeatCfg)

	at := t0.Add(dwell)
	m.Step("pool", models.RegimeVolatile, 50, at, dwell, testHeatCfg)
	m.Step("pool", models.RegimeVolatile, 50, at.Add(10*time.Second), dwell, testHeatCfg)
	m.Step("pool", models.RegimeTrending, 50, at.Add(20*time.Second), dwell, testHeatCfg)

	st, _ := m.State("pool")
	if st.Candidate != models.RegimeTrending || st.CandidateCount != 1 {
		t.Errorf("new candidate should restart at 1, got %+v", st)
	}
}

// Property: every committed switch happens at least minDwell after the
// previous commit and is preceded by the required run of identical
// post-dwell detections.
func TestStepSwitchProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	regimes := []models.Regime{models.RegimeSideways, models.RegimeTrending, models.RegimeVolatile}

	for run := 0; run < 50; run++ {
		m := NewMachine()
		at := t0
		lastCommit := t0

		type obs struct {
			regime models.Regime
			at     time.Time
		}
		var history []obs

		for i := 0; i < 400; i++ {
			// Sticky random sequence so runs of the same regime happen
			detected := regimes[0]
			if len(history) > 0 {
				detected = history[len(history)-1].regime
			}
			if rng.Float64() < 0.3 {
				detected = regimes[rng.Intn(len(regimes))]
			}
			heat := rng.Intn(101)

			tr := m.Step("pool", detected, heat, at, dwell, testHeatCfg)
			history = append(history, obs{detected, at})

			if tr.Switched {
				if at.Sub(lastCommit) < dwell {
					t.Fatalf("run %d step %d: switch %s after %s, inside dwell", run, i, tr.Current, at.Sub(lastCommit))
				}
				if len(history) < tr.Required {
					t.Fatalf("run %d step %d: switch with short history", run, i)
				}
				for _, o := range history[len(history)-tr.Required:] {
					if o.regime != tr.Current {
						t.Fatalf("run %d step %d: non-consecutive confirmations before switch", run, i)
					}
					if o.at.Sub(lastCommit) < dwell {
						t.Fatalf("run %d step %d: counted a confirmation inside dwell", run, i)
					}
				}
				lastCommit = at
			}

			at = at.Add(10 * time.Second)
		}
	}
}

func TestMachineConcurrentPools(t *testing.T) {
	m := NewMachine()

	var wg sync.WaitGroup
	for p := 0; p < 16; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool := fmt.Sprintf("pool-%d", p)
			at := t0
			for i := 0; i < 100; i++ {
				m.Step(pool, models.RegimeSideways, 50, at, dwell, testHeatCfg)
				at = at.Add(time.Second)
			}
		}()
	}
	wg.Wait()

	if m.Len() != 16 {
		t.Errorf("expected 16 pool states, got %d", m.Len())
	}
}
