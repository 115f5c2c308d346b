package scholar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const resultPage = `
<html><body><div id="gs_res_ccl_mid">
  <div class="gs_r gs_or gs_scl">
    <h3 class="gs_rt"><a href="https://example.org/paper1">Attention is all you need</a></h3>
    <div class="gs_a">A Vaswani, N Shazeer - Advances in neural information processing systems, 2017 - proceedings.neurips.cc</div>
    <div class="gs_rs">The dominant sequence transduction models are based on complex recurrent...</div>
    <div class="gs_fl"><a href="#">Save</a> <a href="#">Cited by 98452</a> <a href="#">Related articles</a></div>
  </div>
  <div class="gs_r gs_or gs_scl">
    <h3 class="gs_rt">Untitled working paper without link</h3>
    <div class="gs_a">J Doe - 2019</div>
  </div>
  <div class="gs_r gs_or gs_scl">
    <h3 class="gs_rt"><a href="https://example.org/paper3"></a></h3>
  </div>
</div></body></html>`

func TestParseResults(t *testing.T) {
	t.Parallel()

	records, err := ParseResults([]byte(resultPage))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	require.Equal(t, "Attention is all you need", first.Title)
	require.Equal(t, "https://example.org/paper1", first.URL)
	require.Equal(t, "A Vaswani, N Shazeer", first.Authors)
	require.Equal(t, 2017, first.Year)
	require.Equal(t, "Advances in neural information processing systems, 2017", first.Source)
	require.Equal(t, "proceedings.neurips.cc", first.Publisher)
	require.Equal(t, 98452, first.Citations)
	require.Contains(t, first.Abstract, "sequence transduction")

	second := records[1]
	require.Equal(t, "Untitled working paper without link", second.Title)
	require.Empty(t, second.URL)
	require.Equal(t, 2019, second.Year)
	require.Zero(t, second.Citations)
}

func TestParseResults_EmptyPage(t *testing.T) {
	t.Parallel()

	records, err := ParseResults([]byte(`<html><body><div id="gs_res_ccl_mid"></div></body></html>`))
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestApplyByline_PublisherYearFallback(t *testing.T) {
	t.Parallel()

	var rec Record
	applyByline(&rec, "K Smith - Some venue - Springer 2020")
	require.Equal(t, "K Smith", rec.Authors)
	require.Equal(t, "Some venue", rec.Source)
	require.Equal(t, "Springer 2020", rec.Publisher)
	require.Equal(t, 2020, rec.Year)
}
