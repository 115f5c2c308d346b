package browser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/papertrawl/papertrawl/internal/scholar"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, nil)
	require.Equal(t, "browser", s.Name())
	require.Equal(t, scholar.DefaultBaseURL, s.cfg.BaseURL)
	require.Equal(t, 45*time.Second, s.cfg.NavTimeout)
	require.Equal(t, 10*time.Second, s.cfg.ResultsWait)
	require.NotNil(t, s.limiter)
}

func TestNew_ZeroDelayDisablesLimiter(t *testing.T) {
	t.Parallel()

	s := New(Config{Policy: scholar.Policy{MinRequestDelay: 0}}, nil, nil)
	require.Nil(t, s.limiter)
}

func TestPageNumber(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, pageNumber(0, 10))
	require.Equal(t, 2, pageNumber(10, 10))
	require.Equal(t, 100, pageNumber(990, 10))
	require.Equal(t, 1, pageNumber(40, 0))
}

func TestScreenshotName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "job_abc_y2021_p3_a0.png", screenshotName("abc", 2021, 3, 0))
	require.Equal(t, "job_adhoc_y0_p1_a2.png", screenshotName("", 0, 1, 2))
}

func TestStrategy_CaptureBlock_KeepsOnlyLatest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := New(Config{ScreenshotDir: dir, JobID: "j1"}, nil, nil)

	s.captureBlock(scholar.PageRequest{Year: 2020, Offset: 0}, 0, []byte("png-a"))
	s.captureBlock(scholar.PageRequest{Year: 2020, Offset: 10}, 1, []byte("png-b"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "job_j1_y2020_p2_a1.png", entries[0].Name())

	body, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, []byte("png-b"), body)
}

func TestStrategy_CaptureBlock_NoDirIsNoOp(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, nil)
	s.captureBlock(scholar.PageRequest{}, 0, []byte("png"))
	require.Empty(t, s.lastShot)
}
