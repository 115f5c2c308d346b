package scholar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	mu     sync.Mutex
	calls  []PageRequest
	script func(call int, req PageRequest) ([]Record, error)
}

func (f *scriptedFetcher) FetchPage(_ context.Context, req PageRequest) ([]Record, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.script(call, req)
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func makeRecords(prefix string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{Title: fmt.Sprintf("%s record %d", prefix, i)}
	}
	return out
}

func instantSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTestPaginator(f PageFetcher, pol Policy) *Paginator {
	return &Paginator{
		Name:    "test",
		Fetcher: f,
		Policy:  pol,
		Sleep:   instantSleep,
	}
}

func TestPaginator_Run_CollectsAcrossYearsAndStopsAtCap(t *testing.T) {
	t.Parallel()

	spec := SearchSpec{IncludeTerms: []string{"ml"}, StartYear: 2021, EndYear: 2022, MaxResults: 15}
	fetcher := &scriptedFetcher{script: func(_ int, req PageRequest) ([]Record, error) {
		switch {
		case req.Year == 2021 && req.Offset == 0:
			return makeRecords("a", 10), nil
		case req.Year == 2021:
			return nil, nil
		case req.Year == 2022 && req.Offset == 0:
			return makeRecords("b", 10), nil
		default:
			t.Fatalf("unexpected page request: %+v", req)
			return nil, nil
		}
	}}

	var (
		emitted  []Record
		lastCP   Checkpoint
		statuses []string
	)
	cb := Callbacks{
		Records:    func(batch []Record) { emitted = append(emitted, batch...) },
		Checkpoint: func(cp Checkpoint) { lastCP = cp },
		Status:     func(msg string) { statuses = append(statuses, msg) },
	}

	out, err := newTestPaginator(fetcher, Policy{}).Run(context.Background(), spec, Checkpoint{}, cb)
	require.NoError(t, err)
	require.Len(t, out, 15)
	require.Len(t, emitted, 15)
	// Year 2021: one full page plus two empty pages; year 2022: the capped page.
	require.Equal(t, 4, fetcher.callCount())
	require.Equal(t, 2022, lastCP.Year)
	require.Equal(t, 10, lastCP.Offset)
	require.Equal(t, 15, lastCP.Count)
	require.Len(t, lastCP.Seen, 15)
	require.NotEmpty(t, statuses)
}

func TestPaginator_Run_CapStopsMidPageWithoutExtraFetch(t *testing.T) {
	t.Parallel()

	spec := SearchSpec{IncludeTerms: []string{"ml"}, MaxResults: 5}
	fetcher := &scriptedFetcher{script: func(_ int, _ PageRequest) ([]Record, error) {
		return makeRecords("a", 10), nil
	}}

	out, err := newTestPaginator(fetcher, Policy{}).Run(context.Background(), spec, Checkpoint{}, Callbacks{})
	require.NoError(t, err)
	require.Len(t, out, 5)
	require.Equal(t, 1, fetcher.callCount())
}

func TestPaginator_Run_DeduplicatesAcrossYears(t *testing.T) {
	t.Parallel()

	// Both years return the same ten records; the second year's page yields
	// nothing new and counts as empty.
	spec := SearchSpec{IncludeTerms: []string{"ml"}, StartYear: 2021, EndYear: 2022}
	fetcher := &scriptedFetcher{script: func(_ int, req PageRequest) ([]Record, error) {
		if req.Offset == 0 {
			return makeRecords("same", 10), nil
		}
		return nil, nil
	}}

	var emitted []Record
	cb := Callbacks{Records: func(batch []Record) { emitted = append(emitted, batch...) }}

	out, err := newTestPaginator(fetcher, Policy{EmptyPageLimit: 1}).Run(context.Background(), spec, Checkpoint{}, cb)
	require.NoError(t, err)
	require.Len(t, out, 10)
	require.Len(t, emitted, 10)
	// Year 2021: full page then one empty page. Year 2022: the duplicate-only
	// page trips the empty limit immediately.
	require.Equal(t, 3, fetcher.callCount())
}

func TestPaginator_Run_ResumeSkipsProcessedPages(t *testing.T) {
	t.Parallel()

	prior := makeRecords("a", 10)
	seen := make([]string, 0, len(prior))
	for _, rec := range prior {
		seen = append(seen, rec.Fingerprint())
	}
	cp := Checkpoint{Year: 2021, Offset: 10, Count: 10, Seen: seen}
	spec := SearchSpec{IncludeTerms: []string{"ml"}, StartYear: 2021, EndYear: 2021, MaxResults: 15}

	fetcher := &scriptedFetcher{script: func(call int, req PageRequest) ([]Record, error) {
		if call == 0 {
			require.Equal(t, 2021, req.Year)
			require.Equal(t, 10, req.Offset)
			// Overlapping page: five already-seen records, five fresh ones.
			page := append(makeRecords("a", 10)[5:], makeRecords("fresh", 5)...)
			return page, nil
		}
		return nil, nil
	}}

	var emitted []Record
	cb := Callbacks{Records: func(batch []Record) { emitted = append(emitted, batch...) }}

	out, err := newTestPaginator(fetcher, Policy{}).Run(context.Background(), spec, cp, cb)
	require.NoError(t, err)
	require.Len(t, out, 5)
	require.Len(t, emitted, 5)
	for _, rec := range emitted {
		require.Contains(t, rec.Title, "fresh")
	}
}

func TestPaginator_Run_ConsecutiveErrorCounterResetsOnSuccess(t *testing.T) {
	t.Parallel()

	spec := SearchSpec{IncludeTerms: []string{"ml"}}
	fail := errors.New("transient fetch failure")
	// Four failures, one success, four failures, one success, then five
	// failures in a row. Only the final streak may trip the limit.
	fetcher := &scriptedFetcher{script: func(call int, _ PageRequest) ([]Record, error) {
		switch {
		case call == 4:
			return makeRecords("x", 1), nil
		case call == 9:
			return makeRecords("y", 1), nil
		default:
			return nil, fail
		}
	}}

	_, err := newTestPaginator(fetcher, Policy{ConsecutiveErrorLimit: 5}).
		Run(context.Background(), spec, Checkpoint{}, Callbacks{})
	require.Error(t, err)
	require.Equal(t, KindExhausted, KindOf(err))
	require.ErrorIs(t, err, fail)
	require.Equal(t, 15, fetcher.callCount())
}

func TestPaginator_Run_BlockedErrorPropagatesImmediately(t *testing.T) {
	t.Parallel()

	spec := SearchSpec{IncludeTerms: []string{"ml"}}
	blocked := Blocked("test", errors.New("challenge page"))
	fetcher := &scriptedFetcher{script: func(_ int, _ PageRequest) ([]Record, error) {
		return nil, blocked
	}}

	_, err := newTestPaginator(fetcher, Policy{}).Run(context.Background(), spec, Checkpoint{}, Callbacks{})
	require.Equal(t, KindBlocked, KindOf(err))
	require.Equal(t, 1, fetcher.callCount())
}

func TestPaginator_Run_PauseLandsOnPageBoundary(t *testing.T) {
	t.Parallel()

	spec := SearchSpec{IncludeTerms: []string{"ml"}, StartYear: 2021, EndYear: 2023}
	fetcher := &scriptedFetcher{script: func(_ int, _ PageRequest) ([]Record, error) {
		return makeRecords("a", 10), nil
	}}

	var (
		pages  int
		lastCP Checkpoint
	)
	cb := Callbacks{
		Checkpoint: func(cp Checkpoint) { lastCP = cp; pages++ },
		Interrupt: func() Interrupt {
			if pages >= 1 {
				return InterruptPause
			}
			return InterruptNone
		},
	}

	out, err := newTestPaginator(fetcher, Policy{}).Run(context.Background(), spec, Checkpoint{}, cb)
	require.ErrorIs(t, err, ErrPaused)
	require.Len(t, out, 10)
	require.Equal(t, 1, fetcher.callCount())
	require.Equal(t, Checkpoint{Year: 2021, Offset: 10, Count: 10, Seen: lastCP.Seen}, lastCP)
}

func TestPaginator_Run_CancelWinsOverPause(t *testing.T) {
	t.Parallel()

	spec := SearchSpec{IncludeTerms: []string{"ml"}}
	fetcher := &scriptedFetcher{script: func(_ int, _ PageRequest) ([]Record, error) {
		return makeRecords("a", 10), nil
	}}
	cb := Callbacks{Interrupt: func() Interrupt { return InterruptCancel }}

	out, err := newTestPaginator(fetcher, Policy{}).Run(context.Background(), spec, Checkpoint{}, cb)
	require.ErrorIs(t, err, ErrCanceled)
	require.Empty(t, out)
	require.Zero(t, fetcher.callCount())
}

func TestPaginator_Run_CheckpointWrittenBeforeNextFetch(t *testing.T) {
	t.Parallel()

	spec := SearchSpec{IncludeTerms: []string{"ml"}, StartYear: 2021, EndYear: 2021}
	var events []string
	fetcher := &scriptedFetcher{}
	fetcher.script = func(call int, req PageRequest) ([]Record, error) {
		events = append(events, fmt.Sprintf("fetch:%d", req.Offset))
		if call == 0 {
			return makeRecords("a", 10), nil
		}
		return nil, nil
	}
	cb := Callbacks{Checkpoint: func(cp Checkpoint) {
		events = append(events, fmt.Sprintf("checkpoint:%d", cp.Offset))
	}}

	_, err := newTestPaginator(fetcher, Policy{EmptyPageLimit: 1}).
		Run(context.Background(), spec, Checkpoint{}, cb)
	require.NoError(t, err)
	require.Equal(t, []string{"fetch:0", "checkpoint:10", "fetch:10", "checkpoint:20"}, events)
}

func TestPaginator_Run_StopsAtOffsetCeiling(t *testing.T) {
	t.Parallel()

	spec := SearchSpec{IncludeTerms: []string{"ml"}}
	fetcher := &scriptedFetcher{}
	page := 0
	fetcher.script = func(_ int, _ PageRequest) ([]Record, error) {
		page++
		return makeRecords(fmt.Sprintf("p%d", page), 10), nil
	}

	out, err := newTestPaginator(fetcher, Policy{MaxPageOffset: 20}).
		Run(context.Background(), spec, Checkpoint{}, Callbacks{})
	require.NoError(t, err)
	// Offsets 0, 10, and 20 are fetched; the ceiling ends the sub-query after
	// the page at the ceiling is processed.
	require.Equal(t, 3, fetcher.callCount())
	require.Len(t, out, 30)
}

func TestPaginator_Run_ContextCancellationStopsRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	spec := SearchSpec{IncludeTerms: []string{"ml"}}
	fetcher := &scriptedFetcher{script: func(call int, _ PageRequest) ([]Record, error) {
		if call == 0 {
			cancel()
			return makeRecords("a", 10), nil
		}
		t.Fatal("fetch after cancellation")
		return nil, nil
	}}

	out, err := newTestPaginator(fetcher, Policy{}).Run(ctx, spec, Checkpoint{}, Callbacks{})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, out, 10)
}

func TestResumeCursor(t *testing.T) {
	t.Parallel()

	years := []int{2020, 2021, 2022}
	tests := []struct {
		name       string
		cp         Checkpoint
		wantIdx    int
		wantOffset int
	}{
		{"fresh run", Checkpoint{}, 0, 0},
		{"mid year", Checkpoint{Year: 2021, Offset: 30}, 1, 30},
		{"unknown year restarts", Checkpoint{Year: 1990, Offset: 50}, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			idx, offset := resumeCursor(years, tc.cp)
			require.Equal(t, tc.wantIdx, idx)
			require.Equal(t, tc.wantOffset, offset)
		})
	}
}

func TestResumeCursor_NoYearSplitKeepsOffset(t *testing.T) {
	t.Parallel()

	idx, offset := resumeCursor([]int{0}, Checkpoint{Year: 0, Offset: 40})
	require.Equal(t, 0, idx)
	require.Equal(t, 40, offset)
}
