package robots

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

func TestFromStatusCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status    int
		allowAll  bool
		allowNone bool
		deferred  bool
	}{
		{301, false, true, true},
		{310, false, true, true},
		{401, false, true, false},
		{403, false, true, false},
		{404, true, false, false},
		{410, false, true, true},
		{429, false, true, true},
		{500, false, true, true},
		{503, false, true, true},
	}
	for _, tc := range cases {
		rs, err := FromStatusCode(tc.status)
		require.NoError(t, err)
		require.Equal(t, tc.allowAll, rs.AllowAll(), "status %d", tc.status)
		require.Equal(t, tc.allowNone, rs.AllowNone(), "status %d", tc.status)
		require.Equal(t, tc.deferred, rs.DeferVisits(), "status %d", tc.status)
		require.Equal(t, DefaultCrawlDelay, rs.CrawlDelay())
	}
}

func TestFromStatusCodeRejectsSuccess(t *testing.T) {
	t.Parallel()

	for _, status := range []int{200, 204, 299} {
		rs, err := FromStatusCode(status)
		require.ErrorIs(t, err, ErrSuccessStatus)
		require.Nil(t, rs)
	}
}

func TestIsAllowedMalformedURL(t *testing.T) {
	t.Parallel()

	rs := Parse(agent, []byte("User-agent: *\nDisallow: /x\nDisallow: /y"))
	for _, raw := range []string{"/relative/path", "http://%zz/", "::::"} {
		_, err := rs.IsAllowed(raw)
		require.ErrorIs(t, err, crawler.ErrInvalidURL, raw)
	}
}

func TestIsAllowedEmptyPathIsRoot(t *testing.T) {
	t.Parallel()

	rs := Parse(agent, []byte("User-agent: *\nDisallow: /\nAllow: /x"))
	ok, err := rs.IsAllowed("http://example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSingleAllowRuleIsAllowAll(t *testing.T) {
	t.Parallel()

	rs := Parse(agent, []byte("User-agent: *\nAllow: /only"))
	require.True(t, rs.AllowAll())
	require.False(t, rs.AllowNone())
}

func TestSingleNonRootDisallowIsNotAllowNone(t *testing.T) {
	t.Parallel()

	rs := Parse(agent, []byte("User-agent: *\nDisallow: /x"))
	require.False(t, rs.AllowNone())
	require.False(t, rs.AllowAll())
	require.True(t, mustAllowed(t, rs, "http://example.com/y"))
	require.False(t, mustAllowed(t, rs, "http://example.com/x"))
}
