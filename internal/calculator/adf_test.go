package calculator

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func whiteNoise(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + rng.NormFloat64()
	}
	return out
}

func driftingWalk(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	out[0] = 100
	for i := 1; i < n; i++ {
		out[i] = out[i-1] + 1 + 0.5*rng.NormFloat64()
	}
	return out
}

func TestADFMaxLag(t *testing.T) {
	tests := []struct{ n, want int }{
		{4, 0},
		{7, 1},
		{27, 9},
		{100, 12},
	}
	for _, tt := range tests {
		if got := ADFMaxLag(tt.n); got != tt.want {
			t.Errorf("ADFMaxLag(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestADFWhiteNoiseIsStationary(t *testing.T) {
	res, err := ADF(whiteNoise(200, 7))
	if err != nil {
		t.Fatalf("ADF returned error: %v", err)
	}
	if res.PValue > 0.05 {
		t.Errorf("expected p <= 0.05 for white noise, got %.4f (stat %.3f)", res.PValue, res.Stat)
	}
	for level, cv := range res.Critical {
		if res.Stat >= cv {
			t.Errorf("stat %.3f not below %s critical value %.3f", res.Stat, level, cv)
		}
	}
}

func TestADFDriftingWalkIsNotStationary(t *testing.T) {
	res, err := ADF(driftingWalk(100, 11))
	if err != nil {
		t.Fatalf("ADF returned error: %v", err)
	}
	if res.Stat < res.Critical["1%"] {
		t.Errorf("drifting walk rejected the unit root: stat %.3f, p %.4f", res.Stat, res.PValue)
	}
}

func TestADFDeterministic(t *testing.T) {
	series := whiteNoise(60, 3)
	a, errA := ADF(series)
	b, errB := ADF(series)
	if errA != nil || errB != nil {
		t.Fatalf("unexpected errors: %v, %v", errA, errB)
	}
	if a.Stat != b.Stat || a.PValue != b.PValue || a.UsedLag != b.UsedLag || a.NObs != b.NObs {
		t.Fatalf("results differ: %+v vs %+v", a, b)
	}
	for k, v := range a.Critical {
		if b.Critical[k] != v {
			t.Fatalf("critical %s differs: %.6f vs %.6f", k, v, b.Critical[k])
		}
	}
}

func TestADFShortAndConstant(t *testing.T) {
	if _, err := ADF([]float64{1, 2, 3}); !errors.Is(err, ErrSeriesTooShort) {
		t.Errorf("expected ErrSeriesTooShort, got %v", err)
	}
	if _, err := ADF([]float64{10, 10, 10, 10, 10, 10, 10}); !errors.Is(err, ErrConstantSeries) {
		t.Errorf("expected ErrConstantSeries, got %v", err)
	}
}

func TestMacKinnonP(t *testing.T) {
	if p := MacKinnonP(-2.86154); math.Abs(p-0.05) > 0.005 {
		t.Errorf("p at asymptotic 5%% critical value = %.4f, want ~0.05", p)
	}
	if p := MacKinnonP(3); p != 1 {
		t.Errorf("p above tau max = %.4f, want 1", p)
	}
	if p := MacKinnonP(-20); p != 0 {
		t.Errorf("p below tau min = %.4f, want 0", p)
	}
	if MacKinnonP(-3) >= MacKinnonP(-1) {
		t.Errorf("p-value must increase with the statistic")
	}
}

func TestMacKinnonCritical(t *testing.T) {
	cv := MacKinnonCritical(100)
	want := map[string]float64{
		"1%":  -3.43035 - 6.5393/100 - 16.786/1e4 - 79.433/1e6,
		"5%":  -2.86154 - 2.8903/100 - 4.234/1e4 - 40.040/1e6,
		"10%": -2.56677 - 1.5384/100 - 2.809/1e4,
	}
	for k, v := range want {
		if math.Abs(cv[k]-v) > 1e-9 {
			t.Errorf("%s: got %.6f, want %.6f", k, cv[k], v)
		}
	}
	if !(cv["1%"] < cv["5%"] && cv["5%"] < cv["10%"]) {
		t.Errorf("critical values out of order: %v", cv)
	}
}

// Reference values follow adfuller(x, regression="c", autolag="AIC").
func TestADFReferenceValues(t *testing.T) {
	tests := []struct {
		name    string
		x       []float64
		stat    float64
		pvalue  float64
		usedLag int
		nobs    int
		icbest  float64
	}{
		{
			name: "interior lag 2",
			x: []float64{103, 103, 102, 102, 99, 100, 103, 98, 98, 104, 96, 103, 104, 96, 102,
				104, 101, 98, 100, 104, 99, 101, 101, 100, 102, 96, 96, 99, 99, 98},
			stat: -2.2538896287827748, pvalue: 0.18727077731250974, usedLag: 2, nobs: 27, icbest: 99.62984752153282,
		},
		{
			name: "interior lag 4",
			x: []float64{101, 100, 100, 102, 102, 99, 97, 104, 102, 104, 104, 100, 101, 99, 99,
				96, 104, 99, 101, 101, 101, 100, 103, 100, 99, 100, 99, 96, 103, 104},
			stat: -3.536090768857148, pvalue: 0.007107166027276982, usedLag: 4, nobs: 25, icbest: 91.38645159756935,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ADF(tt.x)
			if err != nil {
				t.Fatalf("ADF returned error: %v", err)
			}
			if res.UsedLag != tt.usedLag || res.NObs != tt.nobs {
				t.Fatalf("lag/nobs = %d/%d, want %d/%d", res.UsedLag, res.NObs, tt.usedLag, tt.nobs)
			}
			if math.Abs(res.Stat-tt.stat) > 1e-6 {
				t.Errorf("stat = %.10f, want %.10f", res.Stat, tt.stat)
			}
			if math.Abs(res.PValue-tt.pvalue) > 1e-6 {
				t.Errorf("p = %.10f, want %.10f", res.PValue, tt.pvalue)
			}
			if math.Abs(res.ICBest-tt.icbest) > 1e-6 {
				t.Errorf("icbest = %.10f, want %.10f", res.ICBest, tt.icbest)
			}
		})
	}
}
