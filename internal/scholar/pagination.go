package scholar

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// PageRequest identifies one physical result page within the decomposition.
type PageRequest struct {
	// Query is the rendered search query string.
	Query string
	// Offset is the record offset of the requested page.
	Offset int
	// Year is the sub-query year this page belongs to; zero when the run is
	// not split by year.
	Year int
	// YearLow/YearHigh are the year filter bounds for the request URL.
	YearLow  int
	YearHigh int
}

// PageFetcher retrieves one result page. Implementations own pacing, block
// detection, and rotation; blocking that survives every rotation attempt is
// returned as a KindBlocked StrategyError, transport problems as plain errors.
type PageFetcher interface {
	FetchPage(ctx context.Context, req PageRequest) ([]Record, error)
}

// Paginator drives the shared decomposition algorithm: per-year sub-queries
// in ascending order, page-by-page retrieval, deduplication by title digest,
// and checkpoint-before-advance persistence.
type Paginator struct {
	// Name labels errors and logs with the owning strategy.
	Name    string
	Fetcher PageFetcher
	Policy  Policy
	Logger  *zap.Logger
	// Sleep is swappable in tests; defaults to SleepCtx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run executes the decomposition from cp and returns the records that were
// newly collected during this run. The cumulative count (including records
// emitted before cp was taken) is carried in the checkpoints.
func (p *Paginator) Run(ctx context.Context, spec SearchSpec, cp Checkpoint, cb Callbacks) ([]Record, error) {
	pol := p.Policy.WithDefaults()
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepCtx
	}

	query := BuildQuery(spec)
	years := spec.Years()
	seen := cp.SeenSet()
	collected := cp.Count
	consecutiveErrors := 0
	var out []Record

	startIdx, startOffset := resumeCursor(years, cp)

	for i := startIdx; i < len(years); i++ {
		year := years[i]
		yearLow, yearHigh := year, year
		if year == 0 {
			yearLow, yearHigh = spec.StartYear, spec.EndYear
		}
		offset := 0
		if i == startIdx {
			offset = startOffset
		}
		emptyRun := 0
		cb.EmitStatus(fmt.Sprintf("searching %s", yearLabel(year)))

		for {
			if spec.MaxResults > 0 && collected >= spec.MaxResults {
				return out, nil
			}
			switch cb.CheckInterrupt() {
			case InterruptCancel:
				return out, ErrCanceled
			case InterruptPause:
				return out, ErrPaused
			default:
			}
			if err := ctx.Err(); err != nil {
				return out, fmt.Errorf("decomposition canceled: %w", err)
			}

			records, err := p.Fetcher.FetchPage(ctx, PageRequest{
				Query:    query,
				Offset:   offset,
				Year:     year,
				YearLow:  yearLow,
				YearHigh: yearHigh,
			})
			if err != nil {
				switch KindOf(err) {
				case KindBlocked, KindFatal:
					return out, err
				}
				if ctx.Err() != nil {
					return out, fmt.Errorf("decomposition canceled: %w", ctx.Err())
				}
				consecutiveErrors++
				logger.Warn("page fetch failed",
					zap.String("strategy", p.Name),
					zap.Int("year", year),
					zap.Int("offset", offset),
					zap.Int("consecutive_errors", consecutiveErrors),
					zap.Error(err),
				)
				if consecutiveErrors >= pol.ConsecutiveErrorLimit {
					return out, &StrategyError{Kind: KindExhausted, Strategy: p.Name, Err: err}
				}
				if serr := sleep(ctx, pol.ErrorRetryWait); serr != nil {
					return out, serr
				}
				offset += pol.PageSize
				continue
			}
			consecutiveErrors = 0

			fresh := make([]Record, 0, len(records))
			for _, rec := range records {
				fp := rec.Fingerprint()
				if fp == "" {
					continue
				}
				if _, dup := seen[fp]; dup {
					continue
				}
				seen[fp] = struct{}{}
				fresh = append(fresh, rec)
				collected++
				if spec.MaxResults > 0 && collected >= spec.MaxResults {
					break
				}
			}
			// A duplicate-only page counts as empty: it yielded nothing new.
			if len(fresh) == 0 {
				emptyRun++
			} else {
				emptyRun = 0
			}
			cb.EmitRecords(fresh)
			out = append(out, fresh...)
			cb.EmitProgress(collected, estimateTotal(spec, collected))

			cp = Checkpoint{Year: year, Offset: offset + pol.PageSize, Count: collected, Seen: seenSlice(seen)}
			cb.EmitCheckpoint(cp)

			// Stop conditions, in priority order.
			if spec.MaxResults > 0 && collected >= spec.MaxResults {
				return out, nil
			}
			if emptyRun >= pol.EmptyPageLimit {
				logger.Debug("end of results for sub-query",
					zap.String("strategy", p.Name), zap.Int("year", year), zap.Int("offset", offset))
				break
			}
			if offset >= pol.MaxPageOffset {
				logger.Info("pagination ceiling reached",
					zap.String("strategy", p.Name), zap.Int("year", year), zap.Int("offset", offset))
				break
			}
			offset += pol.PageSize
		}

		if i+1 < len(years) {
			cp = Checkpoint{Year: years[i+1], Offset: 0, Count: collected, Seen: seenSlice(seen)}
			cb.EmitCheckpoint(cp)
			cb.EmitStatus(fmt.Sprintf("finished %s, %d records so far", yearLabel(year), collected))
			if err := sleep(ctx, pol.YearPause); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// resumeCursor locates the year index and page offset the checkpoint points
// at. A checkpoint year outside the spec's range restarts from the beginning.
func resumeCursor(years []int, cp Checkpoint) (int, int) {
	if cp.Year == 0 {
		if len(years) == 1 && years[0] == 0 {
			return 0, cp.Offset
		}
		return 0, 0
	}
	for i, y := range years {
		if y == cp.Year {
			return i, cp.Offset
		}
	}
	return 0, 0
}

func estimateTotal(spec SearchSpec, collected int) int {
	if spec.MaxResults > 0 {
		return spec.MaxResults
	}
	return collected * 2
}

func yearLabel(year int) string {
	if year == 0 {
		return "all years"
	}
	return "year " + strconv.Itoa(year)
}
