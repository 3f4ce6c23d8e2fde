package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"
	"testing"
	"time"

	"tz-api/internal/clientip"
	"tz-api/internal/geo"
	"tz-api/internal/tzoffset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapLocator map[string]geo.Record

func (m mapLocator) Lookup(ip netip.Addr) (geo.Record, bool) {
	r, ok := m[ip.String()]
	return r, ok
}

type recordedOffset struct {
	tz     string
	offset int
}

type fakeStats struct {
	mu   sync.Mutex
	got  []recordedOffset
	fail bool
}

func (f *fakeStats) RecordOffset(ctx context.Context, tz string, offset int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, recordedOffset{tz, offset})
	if f.fail {
		return errors.New("db down")
	}
	return nil
}

func (f *fakeStats) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeStats) recorded() []recordedOffset {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedOffset(nil), f.got...)
}

// blockingStats：直到 release 关闭才返回，模拟缓慢的统计库
type blockingStats struct {
	release chan struct{}
	done    chan recordedOffset
}

func (b *blockingStats) RecordOffset(ctx context.Context, tz string, offset int) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.done <- recordedOffset{tz, offset}
	return nil
}

var (
	july    = time.Date(2024, time.July, 4, 16, 0, 0, 0, time.UTC)
	january = time.Date(2024, time.January, 4, 16, 0, 0, 0, time.UTC)
)

func testLocator() mapLocator {
	return mapLocator{
		"203.0.113.5":  {Country: "US", City: "New York", TimeZone: "America/New_York"},
		"198.51.100.9": {Country: "IN", TimeZone: "Asia/Kolkata"},
		"10.9.8.7":     {TimeZone: "Europe/London"},
		"192.0.2.44":   {Country: "ZZ"},
		"192.0.2.45":   {Country: "ZZ", TimeZone: "Not/AZone"},
	}
}

func serve(t *testing.T, h *OffsetHandler, method, remote string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, OffsetPath, nil)
	req.RemoteAddr = remote
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Add(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	BuildRoutes(h).ServeHTTP(rec, req)
	return rec
}

func TestOffsetHandlerSuccess(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		now     time.Time
		remote  string
		headers []string
		want    string
	}{
		{"forwarded summer", july, "10.0.0.2:4000", []string{"X-Forwarded-For", "203.0.113.5, 10.0.0.1"}, "-14400"},
		{"forwarded winter", january, "10.0.0.2:4000", []string{"X-Forwarded-For", "203.0.113.5, 10.0.0.1"}, "-18000"},
		{"direct peer", july, "198.51.100.9:1234", nil, "19800"},
		{"private peer unchecked", january, "10.9.8.7:1234", nil, "0"},
		{"lowercase header name", july, "10.0.0.2:4000", []string{"x-forwarded-for", "203.0.113.5"}, "-14400"},
		{"first header line used", july, "10.0.0.2:4000", []string{"X-Forwarded-For", "198.51.100.9", "X-Forwarded-For", "bogus"}, "19800"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := &OffsetHandler{Locator: testLocator(), Now: func() time.Time { return tc.now }}
			rec := serve(t, h, http.MethodGet, tc.remote, tc.headers...)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.want, rec.Body.String())
			assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}

func TestOffsetHandlerFailuresAreUniform(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		remote  string
		headers []string
	}{
		{"missing peer", "", nil},
		{"malformed trailing entry", "10.0.0.2:4000", []string{"X-Forwarded-For", "203.0.113.5, not-an-ip"}},
		{"no global address", "203.0.113.5:4000", []string{"X-Forwarded-For", "10.0.0.1, 10.0.0.2"}},
		{"empty header", "203.0.113.5:4000", []string{"X-Forwarded-For", ""}},
		{"unknown ip", "8.8.8.8:4000", nil},
		{"record without time zone", "192.0.2.44:4000", nil},
		{"unknown time zone", "192.0.2.45:4000", nil},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			stats := &fakeStats{}
			h := &OffsetHandler{Locator: testLocator(), Stats: stats, Now: func() time.Time { return july }}
			rec := serve(t, h, http.MethodGet, tc.remote, tc.headers...)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "Server Error", rec.Body.String())
			assert.Empty(t, stats.recorded())
		})
	}
}

func TestOffsetHandlerRecordsStats(t *testing.T) {
	t.Parallel()

	stats := &fakeStats{}
	h := &OffsetHandler{Locator: testLocator(), Stats: stats, Now: func() time.Time { return july }}
	rec := serve(t, h, http.MethodGet, "203.0.113.5:80")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Eventually(t, func() bool { return len(stats.recorded()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []recordedOffset{{"America/New_York", -14400}}, stats.recorded())

	stats.setFail(true)
	rec = serve(t, h, http.MethodGet, "203.0.113.5:80")
	assert.Equal(t, http.StatusOK, rec.Code, "stats failure must not affect the response")
	assert.Equal(t, "-14400", rec.Body.String())
	assert.Eventually(t, func() bool { return len(stats.recorded()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestOffsetHandlerSlowStatsDoesNotDelayResponse(t *testing.T) {
	t.Parallel()

	stats := &blockingStats{release: make(chan struct{}), done: make(chan recordedOffset, 1)}
	h := &OffsetHandler{
		Locator: mapLocator{"127.0.0.1": {TimeZone: "America/New_York"}},
		Stats:   stats,
		Now:     func() time.Time { return july },
	}
	srv := httptest.NewServer(BuildRoutes(h))
	defer srv.Close()

	start := time.Now()
	resp, err := srv.Client().Get(srv.URL + OffsetPath)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "-14400", string(body))
	assert.Less(t, elapsed, 500*time.Millisecond, "response waited for the stats write")

	close(stats.release)
	select {
	case got := <-stats.done:
		assert.Equal(t, recordedOffset{"America/New_York", -14400}, got)
	case <-time.After(time.Second):
		t.Fatal("stats write never completed")
	}
}

func TestOffsetHandlerDropsStatsWhenSaturated(t *testing.T) {
	t.Parallel()

	stats := &blockingStats{release: make(chan struct{}), done: make(chan recordedOffset, maxPendingStats+8)}
	h := &OffsetHandler{Locator: testLocator(), Stats: stats, Now: func() time.Time { return july }}

	for i := 0; i < maxPendingStats+8; i++ {
		rec := serve(t, h, http.MethodGet, "203.0.113.5:80")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Len(t, h.statsSlots, maxPendingStats)

	close(stats.release)
	h.WaitStats()
	assert.Empty(t, h.statsSlots)
	assert.Len(t, stats.done, maxPendingStats)
}

func TestOffsetHandlerUsesCurrentInstantPerRequest(t *testing.T) {
	t.Parallel()

	instants := []time.Time{january, july}
	i := 0
	h := &OffsetHandler{Locator: testLocator(), Now: func() time.Time {
		at := instants[i%len(instants)]
		i++
		return at
	}}
	assert.Equal(t, "-18000", serve(t, h, http.MethodGet, "203.0.113.5:80").Body.String())
	assert.Equal(t, "-14400", serve(t, h, http.MethodGet, "203.0.113.5:80").Body.String())
}

func TestBuildRoutesOnlyGet(t *testing.T) {
	t.Parallel()

	h := &OffsetHandler{Locator: testLocator()}
	rec := serve(t, h, http.MethodPost, "203.0.113.5:80")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/timezone/other", nil)
	rec = httptest.NewRecorder()
	BuildRoutes(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailureKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{clientip.ErrMissingPeerAddress, "missing_peer"},
		{fmt.Errorf("wrap: %w", clientip.ErrMalformedChainEntry), "malformed_chain"},
		{clientip.ErrNoGlobalAddressFound, "no_global_address"},
		{fmt.Errorf("%w: 8.8.8.8", geo.ErrLocationNotFound), "location_not_found"},
		{fmt.Errorf("%w: %q", tzoffset.ErrUnknownTimezone, "Not/AZone"), "unknown_timezone"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, failureKind(tc.err), tc.err.Error())
	}
}
