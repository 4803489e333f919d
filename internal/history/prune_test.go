package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRuns(t *testing.T, s *Store, base time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		at := base.Add(-time.Duration(i) * 24 * time.Hour)
		s.now = func() time.Time { return at }
		diag := model.Diagnostics{RunID: fmt.Sprintf("run-%02d", i), DocumentName: "plans.pdf", Outcome: "ok", Errors: []string{"x"}}
		if err := s.RecordRun(context.Background(), diag, &model.ReportData{}); err != nil {
			t.Fatalf("seed run %d: %v", i, err)
		}
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		policy      RetentionPolicy
		dryRun      bool
		wantKept    int
		wantDeleted int
		wantLeft    int
	}{
		{name: "zero policy keeps all", policy: RetentionPolicy{}, wantKept: 0, wantDeleted: 0, wantLeft: 6},
		{name: "keep last", policy: RetentionPolicy{KeepLast: 2}, wantKept: 2, wantDeleted: 4, wantLeft: 2},
		{name: "keep days", policy: RetentionPolicy{KeepDays: 3}, wantKept: 3, wantDeleted: 3, wantLeft: 3},
		{name: "union of both", policy: RetentionPolicy{KeepLast: 4, KeepDays: 1}, wantKept: 4, wantDeleted: 2, wantLeft: 4},
		{name: "dry run", policy: RetentionPolicy{KeepLast: 1}, dryRun: true, wantKept: 1, wantDeleted: 5, wantLeft: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s := newTestStore(t)
			seedRuns(t, s, now, 6)
			s.now = func() time.Time { return now.Add(time.Hour) }

			res, err := s.Prune(ctx, tt.policy, tt.dryRun)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKept, res.Kept)
			assert.Equal(t, tt.wantDeleted, res.Deleted)

			runs, err := s.List(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, runs, tt.wantLeft)
		})
	}
}

func TestPruneCascadesEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	now := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	seedRuns(t, s, now, 2)

	_, err := s.Prune(ctx, RetentionPolicy{KeepLast: 1}, false)
	require.NoError(t, err)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_events WHERE run_id='run-01'`).Scan(&n))
	assert.Zero(t, n)
}
