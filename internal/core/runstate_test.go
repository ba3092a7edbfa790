package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ngescape/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStateTransitions(t *testing.T) {
	r := NewRunState()
	assert.Equal(t, StateIdle, r.State())
	assert.False(t, r.Stopping())

	r.Start()
	assert.Equal(t, StateRunning, r.State())

	r.Stop()
	r.Stop()
	assert.Equal(t, StateStopping, r.State())
	assert.True(t, r.Stopping())

	// Start never leaves Stopping.
	r.Start()
	assert.Equal(t, StateStopping, r.State())

	r.Finish()
	assert.Equal(t, StateFinished, r.State())
	assert.True(t, r.Stopping())
	assert.Equal(t, "finished", r.State().String())
}

func TestRunStateConcurrentAppend(t *testing.T) {
	r := NewRunState()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Append(models.VulnerableResult{Action: "query"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, r.Len())
	results := r.Results()
	require.Len(t, results, 100)

	results[0].Action = "changed"
	assert.Equal(t, "query", r.Results()[0].Action, "Results returns a copy")
}

type fakeEvaluator struct {
	version string
	err     error
}

func (f fakeEvaluator) Evaluate(context.Context, string, string) (string, error) {
	return f.version, f.err
}

func TestVersionResolver(t *testing.T) {
	start := models.Request{Method: "GET", URL: "http://x.test/"}
	page := executorFunc(func(context.Context, models.Request) (*models.Response, error) {
		return &models.Response{Body: []byte(`<script src="/js/angular-1.4.12.min.js"></script>`)}, nil
	})
	blank := executorFunc(func(context.Context, models.Request) (*models.Response, error) {
		return &models.Response{Body: []byte(`<p>nothing</p>`)}, nil
	})

	tests := []struct {
		name     string
		resolver VersionResolver
		want     string
		wantErr  error
	}{
		{"override", VersionResolver{Override: "1.5.8", Evaluator: fakeEvaluator{version: "1.2.0"}}, "1.5.8", nil},
		{"browser", VersionResolver{Evaluator: fakeEvaluator{version: "1.2.0"}, Executor: page}, "1.2.0", nil},
		{"browser throws, markup fallback", VersionResolver{Evaluator: fakeEvaluator{}, Executor: page}, "1.4.12", nil},
		{"browser error, markup fallback", VersionResolver{Evaluator: fakeEvaluator{err: errors.New("no chrome")}, Executor: page}, "1.4.12", nil},
		{"garbage from browser", VersionResolver{Evaluator: fakeEvaluator{version: "1.2.0-rc.1"}, Executor: page}, "1.4.12", nil},
		{"nothing found", VersionResolver{Executor: blank}, "", ErrVersionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.resolver.Resolve(context.Background(), start)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionResolverRejectsBadOverride(t *testing.T) {
	_, err := (&VersionResolver{Override: "1.x"}).Resolve(context.Background(), models.Request{})
	assert.Error(t, err)
}
