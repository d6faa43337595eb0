// Package prediction turns a symptom list into a ranked disease prediction
// using the loaded model artifacts.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"symptomdx/ml"
	"symptomdx/monitoring"
)

// Options 服务配置
type Options struct {
	// CacheSize 结果缓存条目数，0 表示关闭缓存
	CacheSize int
	// ReloadGrace 热加载后旧模型延迟释放的时间
	ReloadGrace time.Duration
	// Loader 热加载时读取新模型，为空时不支持 Reload
	Loader func() (*ml.Artifacts, error)
}

// Info 当前模型信息
type Info struct {
	ModelType string    `json:"model_type"`
	Version   string    `json:"version"`
	Features  int       `json:"features"`
	Classes   int       `json:"classes"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// snapshot pairs one artifact bundle with the cache of results computed
// from it, so a reload can never serve stale cached answers.
type snapshot struct {
	artifacts *ml.Artifacts
	cache     *lru.Cache[string, *Result]
	// refs is the owner reference held while the snapshot is current, plus
	// one per in-flight prediction. The artifacts close when it reaches 0.
	refs atomic.Int64
}

func (sn *snapshot) tryAcquire() bool {
	for {
		n := sn.refs.Load()
		if n <= 0 {
			return false
		}
		if sn.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Service 预测服务
type Service struct {
	opts     Options
	logger   *zap.Logger
	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
	closed   atomic.Bool
}

// NewService 创建预测服务，artifacts 必须已完整加载
func NewService(artifacts *ml.Artifacts, opts Options, logger *zap.Logger) (*Service, error) {
	if artifacts == nil {
		return nil, errors.New("artifacts are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{opts: opts, logger: logger}
	snap, err := s.newSnapshot(artifacts)
	if err != nil {
		return nil, err
	}
	s.current.Store(snap)
	monitoring.SetModelInfo(artifacts.ModelType, artifacts.Version)
	return s, nil
}

// Predict 根据症状列表预测疾病。symptoms 为 nil 表示请求中没有该字段
func (s *Service) Predict(ctx context.Context, symptoms []string) (*Result, error) {
	start := time.Now()
	result, err := s.predict(ctx, symptoms)
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	monitoring.ObservePrediction(outcome, time.Since(start))
	return result, err
}

func (s *Service) predict(ctx context.Context, symptoms []string) (*Result, error) {
	if symptoms == nil {
		return nil, ErrMissingInput
	}
	if err := ctx.Err(); err != nil {
		return nil, canceledError(err)
	}

	snap := s.acquire()
	if snap == nil {
		return nil, inferenceError("predict", ErrServiceClosed)
	}
	defer s.release(snap)

	vector := snap.artifacts.Schema.Encode(symptoms)

	var key string
	if snap.cache != nil {
		key = vectorKey(vector)
		if cached, ok := snap.cache.Get(key); ok {
			monitoring.RecordCacheLookup(true)
			return cached.clone(), nil
		}
		monitoring.RecordCacheLookup(false)
	}

	result, err := infer(snap.artifacts, vector)
	if err != nil {
		s.logger.Warn("prediction failed",
			zap.String("model_version", snap.artifacts.Version),
			zap.Int("symptoms", len(symptoms)),
			zap.Error(err))
		return nil, err
	}
	if snap.cache != nil {
		snap.cache.Add(key, result.clone())
	}
	return result, nil
}

func infer(a *ml.Artifacts, vector []float64) (*Result, error) {
	labelID, err := a.Classifier.PredictLabel(vector)
	if err != nil {
		return nil, inferenceError("predict label", err)
	}
	dist, err := a.Classifier.PredictProba(vector)
	if err != nil {
		return nil, inferenceError("predict proba", err)
	}
	classes := a.Classifier.Classes()
	if len(dist) == 0 || len(dist) != len(classes) {
		return nil, inferenceError("predict proba", fmt.Errorf("distribution has %d entries for %d classes", len(dist), len(classes)))
	}
	for i, p := range dist {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, inferenceError("predict proba", fmt.Errorf("probability %d is %v", i, p))
		}
	}

	predicted, err := a.Encoder.InverseTransform(labelID)
	if err != nil {
		return nil, inferenceError("decode label", err)
	}

	ranked := Rank(dist)
	n := TopN
	if len(ranked) < n {
		n = len(ranked)
	}
	topIDs := make([]int, n)
	for i := 0; i < n; i++ {
		topIDs[i] = classes[ranked[i]]
	}
	top, err := a.Encoder.InverseTransform(topIDs...)
	if err != nil {
		return nil, inferenceError("decode top labels", err)
	}

	return &Result{
		ConfidencePercent: RoundPercent(dist[ranked[0]]),
		Disclaimer:        Disclaimer,
		PredictedDisease:  predicted[0],
		TopDiseases:       top,
	}, nil
}

// Reload 重新加载模型文件并原子替换，失败时继续使用旧模型
func (s *Service) Reload() error {
	if s.opts.Loader == nil {
		return errors.New("reload not configured")
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	if s.closed.Load() {
		return ErrServiceClosed
	}

	artifacts, err := s.opts.Loader()
	if err != nil {
		monitoring.RecordModelReload(false)
		s.logger.Error("model reload failed, keeping current model", zap.Error(err))
		return err
	}
	snap, err := s.newSnapshot(artifacts)
	if err != nil {
		monitoring.RecordModelReload(false)
		_ = artifacts.Close()
		return err
	}

	old := s.current.Swap(snap)
	monitoring.RecordModelReload(true)
	monitoring.SetModelInfo(artifacts.ModelType, artifacts.Version)
	s.logger.Info("model reloaded",
		zap.String("model_type", artifacts.ModelType),
		zap.String("previous_version", old.artifacts.Version),
		zap.String("version", artifacts.Version))

	s.retire(old)
	return nil
}

// acquire pins the current snapshot for one prediction. It returns nil once
// the service is closed.
func (s *Service) acquire() *snapshot {
	for {
		snap := s.current.Load()
		if snap.tryAcquire() {
			return snap
		}
		if s.current.Load() == snap {
			return nil
		}
	}
}

// release drops one reference and closes the artifacts with the last one.
func (s *Service) release(snap *snapshot) error {
	if snap.refs.Add(-1) != 0 {
		return nil
	}
	err := snap.artifacts.Close()
	if err != nil {
		s.logger.Warn("close retired model",
			zap.String("version", snap.artifacts.Version),
			zap.Error(err))
	}
	return err
}

// retire drops the owner reference of a replaced snapshot. Requests still
// running on it keep it open until they finish.
func (s *Service) retire(old *snapshot) {
	if s.opts.ReloadGrace <= 0 {
		s.release(old)
		return
	}
	time.AfterFunc(s.opts.ReloadGrace, func() { s.release(old) })
}

// Info 返回当前模型信息
func (s *Service) Info() Info {
	a := s.current.Load().artifacts
	return Info{
		ModelType: a.ModelType,
		Version:   a.Version,
		Features:  a.Schema.Len(),
		Classes:   len(a.Classifier.Classes()),
		LoadedAt:  a.LoadedAt,
	}
}

// Schema 返回当前特征顺序
func (s *Service) Schema() []string {
	return s.current.Load().artifacts.Schema.Names()
}

// Close 释放当前模型，正在执行的预测结束后才真正关闭
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	return s.release(s.current.Load())
}

func (s *Service) newSnapshot(artifacts *ml.Artifacts) (*snapshot, error) {
	snap := &snapshot{artifacts: artifacts}
	snap.refs.Store(1)
	if s.opts.CacheSize > 0 {
		cache, err := lru.New[string, *Result](s.opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create result cache: %w", err)
		}
		snap.cache = cache
	}
	return snap, nil
}

func vectorKey(vector []float64) string {
	key := make([]byte, len(vector))
	for i, v := range vector {
		if v != 0 {
			key[i] = '1'
		} else {
			key[i] = '0'
		}
	}
	return string(key)
}
