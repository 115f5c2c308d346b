package scholar

import (
	"net/url"
	"strconv"
	"strings"
)

// DefaultBaseURL is the upstream search endpoint.
const DefaultBaseURL = "https://scholar.google.com/scholar"

// BuildQuery renders the include/exclude terms as an upstream query string.
// Multi-word terms are quoted; exclusions are prefixed with a minus.
func BuildQuery(spec SearchSpec) string {
	var b strings.Builder
	for _, term := range spec.IncludeTerms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(quoteTerm(term))
	}
	for _, term := range spec.ExcludeTerms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('-')
		b.WriteString(quoteTerm(term))
	}
	return b.String()
}

func quoteTerm(term string) string {
	if strings.ContainsRune(term, ' ') {
		return `"` + term + `"`
	}
	return term
}

// SearchURL builds the request URL for one result page. Offset is the record
// offset (pages advance in PageSize steps). Year bounds of zero are omitted.
func SearchURL(base, query string, offset, yearLow, yearHigh int) string {
	if base == "" {
		base = DefaultBaseURL
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("hl", "en")
	if offset > 0 {
		params.Set("start", strconv.Itoa(offset))
	}
	if yearLow > 0 {
		params.Set("as_ylo", strconv.Itoa(yearLow))
	}
	if yearHigh > 0 {
		params.Set("as_yhi", strconv.Itoa(yearHigh))
	}
	return base + "?" + params.Encode()
}
