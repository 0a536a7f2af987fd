package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonlift/core/adapter"
	"lessonlift/models"
)

type fakeGenerator struct {
	model string
	text  string
	err   error
	calls int
}

func (g *fakeGenerator) Model() string { return g.model }

func (g *fakeGenerator) Generate(ctx context.Context, req adapter.GenerateRequest) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if g.text != "" {
		return g.text, nil
	}
	return "ok", nil
}

// fakeProber 按 "secret|model" 决定探测结果，默认拒绝 (not_entitled)
type fakeProber struct {
	mu        sync.Mutex
	working   map[string]bool
	kinds     map[string]adapter.FailureKind
	badFormat map[string]bool
	calls     []string
	newGen    func(cred Credential, model string) adapter.Generator
}

func newFakeProber(working ...string) *fakeProber {
	p := &fakeProber{
		working:   make(map[string]bool),
		kinds:     make(map[string]adapter.FailureKind),
		badFormat: make(map[string]bool),
	}
	for _, w := range working {
		p.working[w] = true
	}
	return p
}

func (p *fakeProber) Probe(ctx context.Context, cred Credential, cand ModelCandidate) ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cred.Secret() + "|" + cand.Name
	p.calls = append(p.calls, key)

	if p.badFormat[cred.Secret()] {
		return ProbeResult{Stage: ProbeConstructionFailed, Err: adapter.ErrMalformedKey}
	}
	if p.working[key] {
		var gen adapter.Generator = &fakeGenerator{model: cand.Name}
		if p.newGen != nil {
			gen = p.newGen(cred, cand.Name)
		}
		return ProbeResult{Stage: ProbeOK, Handle: NewProviderHandle(cred, gen)}
	}
	kind, ok := p.kinds[key]
	if !ok {
		kind = adapter.KindNotEntitled
	}
	return ProbeResult{
		Stage: ProbeRejected,
		Kind:  kind,
		Err:   &adapter.ProviderError{Provider: "fake", Model: cand.Name, Kind: kind, Message: "rejected"},
	}
}

func (p *fakeProber) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProber) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []*models.ProviderAttempt
}

func (r *memRecorder) Record(a *models.ProviderAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestSelector(pool *CredentialPool, models []string, prober Prober, km *KeyStateManager, opts SelectorOptions) *ProviderSelector {
	if km == nil {
		km = NewKeyStateManager()
	}
	return NewProviderSelector(pool, Candidates(models...), prober, km, quietLogger(), opts)
}

func TestSelectShortCircuitsOnFirstSuccess(t *testing.T) {
	prober := newFakeProber("k1|x", "k1|y", "k2|x")
	sel := newTestSelector(NewCredentialPool("k1", "k2"), []string{"x", "y"}, prober, nil, SelectorOptions{})

	h, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"k1|x"}, prober.Calls())
	assert.Equal(t, 0, h.CredentialIndex())
	assert.Equal(t, "x", h.Model())

	// 已有 active handle 时不再探测
	again, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Same(t, h, again)
	assert.Len(t, prober.Calls(), 1)
}

func TestSelectMovesToNextCredentialOnlyAfterAllModelsFail(t *testing.T) {
	// badKey 两个模型都失败；goodKey 在 modelX 失败、modelY 成功
	prober := newFakeProber("goodKey|modelY")
	sel := newTestSelector(NewCredentialPool("badKey", "goodKey"), []string{"modelX", "modelY"}, prober, nil, SelectorOptions{})

	h, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"badKey|modelX",
		"badKey|modelY",
		"goodKey|modelX",
		"goodKey|modelY",
	}, prober.Calls())
	assert.Equal(t, 1, h.CredentialIndex())
	assert.Equal(t, "goodKey", h.Credential().Secret())
	assert.Equal(t, "modelY", h.Model())
	assert.Same(t, h, sel.Active())
}

func TestSelectEmptyPoolOrCandidates(t *testing.T) {
	prober := newFakeProber()

	sel := newTestSelector(NewCredentialPool(), []string{"modelX"}, prober, nil, SelectorOptions{})
	h, err := sel.Select(context.Background())
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrNoProviderAvailable)

	sel = newTestSelector(NewCredentialPool("k1"), nil, prober, nil, SelectorOptions{})
	h, err = sel.Select(context.Background())
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrNoProviderAvailable)

	assert.Empty(t, prober.Calls())
}

func TestSelectProbeCountIsBounded(t *testing.T) {
	for n := 0; n <= 3; n++ {
		for m := 0; m <= 3; m++ {
			t.Run(fmt.Sprintf("N=%d,M=%d", n, m), func(t *testing.T) {
				secrets := make([]string, 0, n)
				for i := 0; i < n; i++ {
					secrets = append(secrets, fmt.Sprintf("k%d", i))
				}
				names := make([]string, 0, m)
				for j := 0; j < m; j++ {
					names = append(names, fmt.Sprintf("m%d", j))
				}

				prober := newFakeProber()
				sel := newTestSelector(NewCredentialPool(secrets...), names, prober, nil, SelectorOptions{})
				h, err := sel.Select(context.Background())

				assert.Nil(t, h)
				assert.Nil(t, sel.Active())
				assert.ErrorIs(t, err, ErrNoProviderAvailable)
				assert.Len(t, prober.Calls(), n*m)

				var npe *NoProviderAvailableError
				require.ErrorAs(t, err, &npe)
				assert.Len(t, npe.Attempts, n*m)
			})
		}
	}
}

func TestSelectAfterExhaustionStartsOver(t *testing.T) {
	prober := newFakeProber()
	sel := newTestSelector(NewCredentialPool("k1", "k2"), []string{"x"}, prober, nil, SelectorOptions{})

	_, err := sel.Select(context.Background())
	assert.ErrorIs(t, err, ErrNoProviderAvailable)

	// 新的用户请求会重新完整搜索
	prober.Reset()
	prober.working["k1|x"] = true
	h, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, h.CredentialIndex())
	assert.Equal(t, []string{"k1|x"}, prober.Calls())
}

func TestInvalidateResumesAtNextCredential(t *testing.T) {
	prober := newFakeProber("k1|x", "k1|y", "k2|x")
	sel := newTestSelector(NewCredentialPool("k1", "k2"), []string{"x", "y"}, prober, nil, SelectorOptions{})

	h, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, h.CredentialIndex())

	cause := &adapter.ProviderError{Kind: adapter.KindQuotaExceeded, Message: "quota"}
	err = sel.Invalidate(h, cause)
	var pie *ProviderInvalidatedError
	require.ErrorAs(t, err, &pie)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, sel.Active())

	prober.Reset()
	next, err := sel.Select(context.Background())
	require.NoError(t, err)
	calls := prober.Calls()
	require.NotEmpty(t, calls)
	assert.NotEqual(t, "k1|x", calls[0], "must not re-probe the invalidated pair first")
	assert.Equal(t, "k2|x", calls[0])
	assert.Equal(t, 1, next.CredentialIndex())
}

func TestInvalidateSingleCredentialTriesOtherModels(t *testing.T) {
	prober := newFakeProber("k1|x", "k1|y")
	sel := newTestSelector(NewCredentialPool("k1"), []string{"x", "y"}, prober, nil, SelectorOptions{})

	h, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", h.Model())

	sel.Invalidate(h, errors.New("boom"))
	prober.Reset()

	h, err = sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"k1|y"}, prober.Calls())
	assert.Equal(t, "y", h.Model())

	// 再次失效后排除的是 y，x 重新可选
	sel.Invalidate(h, errors.New("boom"))
	prober.Reset()

	h, err = sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"k1|x"}, prober.Calls())
	assert.Equal(t, "x", h.Model())
}

func TestInvalidateOnlyPairFailsThenRecovers(t *testing.T) {
	prober := newFakeProber("k1|x")
	sel := newTestSelector(NewCredentialPool("k1"), []string{"x"}, prober, nil, SelectorOptions{})

	h, err := sel.Select(context.Background())
	require.NoError(t, err)
	sel.Invalidate(h, errors.New("transient"))

	// 唯一组合在本轮被排除
	prober.Reset()
	_, err = sel.Select(context.Background())
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
	assert.Empty(t, prober.Calls())

	// 下一次请求恢复完整搜索
	h, err = sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", h.Model())
}

func TestInvalidateStaleHandleIsNoop(t *testing.T) {
	prober := newFakeProber("k1|x", "k2|x")
	sel := newTestSelector(NewCredentialPool("k1", "k2"), []string{"x"}, prober, nil, SelectorOptions{})

	first, err := sel.Select(context.Background())
	require.NoError(t, err)
	sel.Invalidate(first, errors.New("boom"))

	second, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	// 另一个请求迟到的失效通知
	err = sel.Invalidate(first, errors.New("late"))
	assert.Error(t, err)
	assert.Same(t, second, sel.Active())

	assert.Nil(t, sel.Invalidate(nil, errors.New("nothing")))
}

func TestConstructionFailureSkipsCredential(t *testing.T) {
	prober := newFakeProber("good|x")
	prober.badFormat["bad"] = true
	km := NewKeyStateManager()
	pool := NewCredentialPool("bad", "good")
	sel := newTestSelector(pool, []string{"x", "y"}, prober, km, SelectorOptions{})

	h, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bad|x", "good|x"}, prober.Calls())
	assert.False(t, km.IsAvailable(pool.Get(0).Fingerprint()))

	// 失败的 key 在进程生命周期内不再探测
	sel.Invalidate(h, errors.New("boom"))
	prober.Reset()
	prober.working["good|y"] = true
	h, err = sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"good|y"}, prober.Calls())
	assert.Equal(t, "y", h.Model())
}

func TestInvalidCredentialRejectionMarksDead(t *testing.T) {
	prober := newFakeProber("k2|x")
	prober.kinds["k1|x"] = adapter.KindInvalidCredential
	km := NewKeyStateManager()
	pool := NewCredentialPool("k1", "k2")
	sel := newTestSelector(pool, []string{"x", "y", "z"}, prober, km, SelectorOptions{})

	_, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"k1|x", "k2|x"}, prober.Calls())
	assert.False(t, km.IsAvailable(pool.Get(0).Fingerprint()))
	assert.True(t, km.IsAvailable(pool.Get(1).Fingerprint()))
}

func TestQuotaOnEveryModelCoolsCredentialDown(t *testing.T) {
	prober := newFakeProber("k2|x")
	prober.kinds["k1|x"] = adapter.KindQuotaExceeded
	prober.kinds["k1|y"] = adapter.KindQuotaExceeded

	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	km := NewKeyStateManager()
	km.now = func() time.Time { return now }

	pool := NewCredentialPool("k1", "k2")
	sel := newTestSelector(pool, []string{"x", "y"}, prober, km, SelectorOptions{KeyCooldown: 10 * time.Minute})

	_, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.False(t, km.IsAvailable(pool.Get(0).Fingerprint()))

	now = now.Add(11 * time.Minute)
	assert.True(t, km.IsAvailable(pool.Get(0).Fingerprint()))
}

func TestSelectStopsOnCallerCancellation(t *testing.T) {
	prober := newFakeProber("k1|x")
	sel := newTestSelector(NewCredentialPool("k1"), []string{"x"}, prober, nil, SelectorOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h, err := sel.Select(ctx)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNoProviderAvailable)
	assert.Empty(t, prober.Calls())
}

func TestConcurrentSelectProbesOnce(t *testing.T) {
	prober := newFakeProber("k1|x")
	sel := newTestSelector(NewCredentialPool("k1", "k2"), []string{"x"}, prober, nil, SelectorOptions{})

	var wg sync.WaitGroup
	handles := make([]*ProviderHandle, 16)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := sel.Select(context.Background())
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Len(t, prober.Calls(), 1)
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestSelectorRecordsAttemptsAndSnapshot(t *testing.T) {
	rec := &memRecorder{}
	prober := newFakeProber("k1|y")
	sel := newTestSelector(NewCredentialPool("k1", "k2"), []string{"x", "y"}, prober, nil, SelectorOptions{Recorder: rec})

	h, err := sel.Select(context.Background())
	require.NoError(t, err)
	sel.RecordGeneration(h, nil, 15*time.Millisecond)

	require.Len(t, rec.attempts, 3)
	assert.Equal(t, "probe", rec.attempts[0].Stage)
	assert.False(t, rec.attempts[0].Success)
	assert.Equal(t, string(adapter.KindNotEntitled), rec.attempts[0].FailureKind)
	assert.True(t, rec.attempts[1].Success)
	assert.Equal(t, "generate", rec.attempts[2].Stage)
	assert.Equal(t, int64(15), rec.attempts[2].Duration)

	snap := sel.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, "y", snap.Model)
	assert.Equal(t, 2, snap.Credentials)
	assert.Equal(t, []string{"x", "y"}, snap.Candidates)
	assert.Equal(t, uint64(2), snap.Probes)
	assert.Equal(t, uint64(1), snap.Selections)
}
