package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"symptomdx/ml"
)

type fakeClassifier struct {
	label    int
	dist     []float64
	classes  []int
	features int

	labelErr error
	probaErr error

	calls    atomic.Int32
	lastSeen []float64
}

func (f *fakeClassifier) PredictLabel(features []float64) (int, error) {
	f.calls.Add(1)
	f.lastSeen = append([]float64(nil), features...)
	return f.label, f.labelErr
}

func (f *fakeClassifier) PredictProba(features []float64) ([]float64, error) {
	f.calls.Add(1)
	return append([]float64(nil), f.dist...), f.probaErr
}

func (f *fakeClassifier) Classes() []int   { return f.classes }
func (f *fakeClassifier) NumFeatures() int { return f.features }
func (f *fakeClassifier) Close() error     { return nil }

var testSchema = []string{"fever", "cough", "fatigue"}

func newFluModel() *fakeClassifier {
	return &fakeClassifier{
		label:    2,
		dist:     []float64{0.1, 0.2, 0.7},
		classes:  []int{0, 1, 2},
		features: 3,
	}
}

func newTestService(t *testing.T, clf ml.Classifier, opts Options) *Service {
	t.Helper()
	enc, err := ml.NewLabelEncoder([]string{"allergy", "cold", "flu"})
	require.NoError(t, err)
	a, err := ml.NewArtifacts(testSchema, clf, enc)
	require.NoError(t, err)
	svc, err := NewService(a, opts, nil)
	require.NoError(t, err)
	return svc
}

func TestPredictExample(t *testing.T) {
	clf := newFluModel()
	svc := newTestService(t, clf, Options{})

	res, err := svc.Predict(context.Background(), []string{"fever", "cough"})
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 1, 0}, clf.lastSeen)
	assert.Equal(t, "flu", res.PredictedDisease)
	assert.Equal(t, Percent(70.0), res.ConfidencePercent)
	assert.Equal(t, []string{"flu", "cold", "allergy"}, res.TopDiseases)
	assert.Equal(t, "This is not a medical diagnosis", res.Disclaimer)
}

func TestPredictEmptySymptoms(t *testing.T) {
	clf := newFluModel()
	svc := newTestService(t, clf, Options{})

	res, err := svc.Predict(context.Background(), []string{})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, clf.lastSeen)
	assert.NotEmpty(t, res.PredictedDisease)
}

func TestPredictUnknownSymptomsIgnored(t *testing.T) {
	clf := newFluModel()
	svc := newTestService(t, clf, Options{})

	_, err := svc.Predict(context.Background(), []string{"cough", "purple spots"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0}, clf.lastSeen)
}

func TestPredictMissingInput(t *testing.T) {
	svc := newTestService(t, newFluModel(), Options{})

	_, err := svc.Predict(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.Equal(t, MissingInput, KindOf(err))
}

func TestPredictFewerThanThreeLabels(t *testing.T) {
	enc, err := ml.NewLabelEncoder([]string{"cold", "flu"})
	require.NoError(t, err)
	clf := &fakeClassifier{label: 0, dist: []float64{0.55, 0.45}, classes: []int{0, 1}, features: 1}
	a, err := ml.NewArtifacts([]string{"fever"}, clf, enc)
	require.NoError(t, err)
	svc, err := NewService(a, Options{}, nil)
	require.NoError(t, err)

	res, err := svc.Predict(context.Background(), []string{"fever"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cold", "flu"}, res.TopDiseases)
	assert.Equal(t, Percent(55.0), res.ConfidencePercent)
}

func TestPredictTopDiseasesFollowModelClassOrder(t *testing.T) {
	clf := &fakeClassifier{label: 0, dist: []float64{0.6, 0.3, 0.1}, classes: []int{2, 0, 1}, features: 3}
	svc := newTestService(t, clf, Options{})

	res, err := svc.Predict(context.Background(), []string{"fever"})
	require.NoError(t, err)
	assert.Equal(t, "allergy", res.PredictedDisease)
	assert.Equal(t, []string{"flu", "allergy", "cold"}, res.TopDiseases)
}

func TestPredictTieBreakIsDeterministic(t *testing.T) {
	clf := &fakeClassifier{label: 2, dist: []float64{0.25, 0.25, 0.5}, classes: []int{0, 1, 2}, features: 3}
	svc := newTestService(t, clf, Options{})

	for i := 0; i < 5; i++ {
		res, err := svc.Predict(context.Background(), []string{"fatigue"})
		require.NoError(t, err)
		assert.Equal(t, []string{"flu", "allergy", "cold"}, res.TopDiseases)
	}
}

func TestPredictInferenceFailures(t *testing.T) {
	boom := errors.New("boom")
	cases := map[string]*fakeClassifier{
		"label error":    {labelErr: boom, dist: []float64{1, 0, 0}},
		"proba error":    {probaErr: boom},
		"short dist":     {dist: []float64{1, 0}},
		"nan":            {dist: []float64{math.NaN(), 0, 0}},
		"unknown label":  {label: 7, dist: []float64{1, 0, 0}},
		"empty dist":     {dist: []float64{}},
		"infinite value": {dist: []float64{math.Inf(1), 0, 0}},
	}
	for name, clf := range cases {
		t.Run(name, func(t *testing.T) {
			clf.classes = []int{0, 1, 2}
			clf.features = 3
			svc := newTestService(t, clf, Options{})

			_, err := svc.Predict(context.Background(), []string{"fever"})
			require.Error(t, err)
			assert.Equal(t, ModelInferenceFailure, KindOf(err))
		})
	}
}

func TestPredictIdempotentAndCached(t *testing.T) {
	clf := newFluModel()
	svc := newTestService(t, clf, Options{CacheSize: 8})

	first, err := svc.Predict(context.Background(), []string{"cough", "fever"})
	require.NoError(t, err)
	first.TopDiseases[0] = "mutated"

	second, err := svc.Predict(context.Background(), []string{"fever", "cough", "fever"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), clf.calls.Load(), "second call should be served from cache")
	assert.Equal(t, []string{"flu", "cold", "allergy"}, second.TopDiseases)

	uncached := newTestService(t, newFluModel(), Options{})
	a, err := uncached.Predict(context.Background(), []string{"cough"})
	require.NoError(t, err)
	b, err := uncached.Predict(context.Background(), []string{"cough"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReloadSwapsArtifacts(t *testing.T) {
	enc, err := ml.NewLabelEncoder([]string{"allergy", "cold", "flu"})
	require.NoError(t, err)
	next := &fakeClassifier{label: 1, dist: []float64{0.2, 0.8, 0}, classes: []int{0, 1, 2}, features: 3}

	fail := true
	opts := Options{
		CacheSize: 4,
		Loader: func() (*ml.Artifacts, error) {
			if fail {
				return nil, errors.New("half written file")
			}
			a, err := ml.NewArtifacts(testSchema, next, enc)
			if a != nil {
				a.Version = "v2"
			}
			return a, err
		},
	}
	svc := newTestService(t, newFluModel(), opts)

	res, err := svc.Predict(context.Background(), []string{"fever"})
	require.NoError(t, err)
	assert.Equal(t, "flu", res.PredictedDisease)

	require.Error(t, svc.Reload())
	res, err = svc.Predict(context.Background(), []string{"fever"})
	require.NoError(t, err)
	assert.Equal(t, "flu", res.PredictedDisease)

	fail = false
	require.NoError(t, svc.Reload())
	assert.Equal(t, "v2", svc.Info().Version)

	res, err = svc.Predict(context.Background(), []string{"fever"})
	require.NoError(t, err)
	assert.Equal(t, "cold", res.PredictedDisease)
	assert.Equal(t, Percent(80.0), res.ConfidencePercent)
}

// trackedClassifier is safe for concurrent use and records whether it was
// asked to predict after Close.
type trackedClassifier struct {
	label int
	dist  []float64

	entered chan struct{}
	gate    chan struct{}

	closed         atomic.Bool
	usedAfterClose atomic.Bool
}

func (c *trackedClassifier) PredictLabel(features []float64) (int, error) {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}
	if c.closed.Load() {
		c.usedAfterClose.Store(true)
	}
	return c.label, nil
}

func (c *trackedClassifier) PredictProba(features []float64) ([]float64, error) {
	if c.closed.Load() {
		c.usedAfterClose.Store(true)
	}
	return append([]float64(nil), c.dist...), nil
}

func (c *trackedClassifier) Classes() []int   { return []int{0, 1, 2} }
func (c *trackedClassifier) NumFeatures() int { return 3 }
func (c *trackedClassifier) Close() error {
	c.closed.Store(true)
	return nil
}

func trackedLoader(t *testing.T, models chan *trackedClassifier) func() (*ml.Artifacts, error) {
	enc, err := ml.NewLabelEncoder([]string{"allergy", "cold", "flu"})
	require.NoError(t, err)
	return func() (*ml.Artifacts, error) {
		return ml.NewArtifacts(testSchema, <-models, enc)
	}
}

func TestReloadKeepsRetiredModelOpenForInflightRequests(t *testing.T) {
	first := &trackedClassifier{
		label:   2,
		dist:    []float64{0.1, 0.2, 0.7},
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	second := &trackedClassifier{label: 1, dist: []float64{0.2, 0.8, 0}}
	models := make(chan *trackedClassifier, 1)
	models <- second

	svc := newTestService(t, first, Options{Loader: trackedLoader(t, models)})

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := svc.Predict(context.Background(), []string{"fever"})
		done <- outcome{res, err}
	}()
	<-first.entered

	require.NoError(t, svc.Reload())
	assert.False(t, first.closed.Load(), "retired model closed while a request was using it")

	close(first.gate)
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, "flu", out.res.PredictedDisease)

	assert.True(t, first.closed.Load())
	assert.False(t, first.usedAfterClose.Load())
	assert.False(t, second.closed.Load())

	require.NoError(t, svc.Close())
	assert.True(t, second.closed.Load())
}

func TestConcurrentPredictDuringReload(t *testing.T) {
	const reloads = 20
	models := make(chan *trackedClassifier, reloads)
	var all []*trackedClassifier
	for i := 0; i < reloads; i++ {
		m := &trackedClassifier{label: 2, dist: []float64{0.1, 0.2, 0.7}}
		if i%2 == 0 {
			m = &trackedClassifier{label: 1, dist: []float64{0.2, 0.8, 0}}
		}
		all = append(all, m)
		models <- m
	}
	initial := &trackedClassifier{label: 2, dist: []float64{0.1, 0.2, 0.7}}
	svc := newTestService(t, initial, Options{CacheSize: 4, Loader: trackedLoader(t, models)})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			inputs := [][]string{{"fever"}, {"cough"}, {"fever", "fatigue"}, {}}
			for i := 0; i < 200; i++ {
				res, err := svc.Predict(context.Background(), inputs[(g+i)%len(inputs)])
				if err != nil {
					errs <- err
					return
				}
				if res.PredictedDisease != "flu" && res.PredictedDisease != "cold" {
					errs <- fmt.Errorf("unexpected prediction %q", res.PredictedDisease)
					return
				}
			}
		}(g)
	}
	for i := 0; i < reloads; i++ {
		require.NoError(t, svc.Reload())
		time.Sleep(time.Millisecond)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.True(t, initial.closed.Load())
	assert.False(t, initial.usedAfterClose.Load())
	for i, m := range all[:reloads-1] {
		assert.True(t, m.closed.Load(), "model %d not closed after retirement", i)
		assert.False(t, m.usedAfterClose.Load(), "model %d used after close", i)
	}
	assert.False(t, all[reloads-1].closed.Load())
}

func TestPredictCanceledContext(t *testing.T) {
	svc := newTestService(t, newFluModel(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Predict(ctx, []string{"fever"})
	require.Error(t, err)
	assert.Equal(t, Canceled, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServiceClosed(t *testing.T) {
	clf := &trackedClassifier{label: 2, dist: []float64{0.1, 0.2, 0.7}}
	svc := newTestService(t, clf, Options{Loader: func() (*ml.Artifacts, error) {
		return nil, errors.New("unused")
	}})

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	assert.True(t, clf.closed.Load())

	_, err := svc.Predict(context.Background(), []string{"fever"})
	assert.ErrorIs(t, err, ErrServiceClosed)
	assert.ErrorIs(t, svc.Reload(), ErrServiceClosed)
}

func TestReloadWithoutLoader(t *testing.T) {
	svc := newTestService(t, newFluModel(), Options{})
	assert.Error(t, svc.Reload())
}

func TestInfo(t *testing.T) {
	svc := newTestService(t, newFluModel(), Options{})
	info := svc.Info()
	assert.Equal(t, 3, info.Features)
	assert.Equal(t, 3, info.Classes)
	assert.Equal(t, testSchema, svc.Schema())
}

func TestRankAndRounding(t *testing.T) {
	assert.Equal(t, []int{2, 0, 3, 1}, Rank([]float64{0.3, 0.1, 0.4, 0.2}))
	assert.Equal(t, []int{1, 0, 2}, Rank([]float64{0.2, 0.6, 0.2}))

	assert.Equal(t, Percent(70.0), RoundPercent(0.7))
	assert.Equal(t, Percent(33.33), RoundPercent(1.0/3))
	assert.Equal(t, Percent(100.0), RoundPercent(1))
	assert.Equal(t, Percent(0.0), RoundPercent(0))

	halves := map[float64]Percent{
		0.03125: 3.12,
		0.78125: 78.12,
		0.90625: 90.62,
		0.09375: 9.38,
		0.28125: 28.12,
		0.59375: 59.38,
	}
	for p, want := range halves {
		assert.Equal(t, want, RoundPercent(p), "p=%v", p)
	}
}

func TestPercentMarshalJSON(t *testing.T) {
	cases := map[Percent]string{
		70:    "70.0",
		33.33: "33.33",
		100:   "100.0",
		0:     "0.0",
		12.5:  "12.5",
		0.01:  "0.01",
	}
	for in, want := range cases {
		out, err := json.Marshal(in)
		require.NoError(t, err)
		assert.Equal(t, want, string(out))
	}
}
