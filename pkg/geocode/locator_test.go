package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocator_Geocode_JSONP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1600 Congress Ave, Austin, TX, 78701", q.Get("SingleLine"))
		assert.Equal(t, "pjson", q.Get("f"))
		assert.Equal(t, "callback", q.Get("callback"))
		assert.Equal(t, "1", q.Get("maxLocations"))
		assert.Equal(t, "4326", q.Get("outSR"))

		w.Write([]byte(`callback({"candidates":[{"address":"1600 CONGRESS AVE, AUSTIN, TX, 78701","location":{"x":-97.740379,"y":30.274915},"score":100}]});`))
	}))
	defer srv.Close()

	l := NewLocator(srv.URL)
	got, err := l.Geocode(context.Background(), AddressInput{
		Street: "1600 Congress Ave",
		City:   "Austin",
		State:  "TX",
		Zip:    "78701",
	})

	require.NoError(t, err)
	assert.True(t, got.Matched)
	assert.Equal(t, "1600 CONGRESS AVE, AUSTIN, TX, 78701", got.MatchedAddress)
	assert.InDelta(t, 30.274915, got.Latitude, 1e-9)
	assert.InDelta(t, -97.740379, got.Longitude, 1e-9)
	assert.Equal(t, 100, got.Score)
	assert.Equal(t, "rooftop", got.Quality)
	assert.Equal(t, "locator", got.Source)
}

func TestLocator_Geocode_PlainJSON(t *testing.T) {
	t.Parallel()

	// Some ArcGIS deployments ignore the callback parameter.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"address":"100 MAIN ST","location":{"x":-97.7,"y":30.3},"score":85.5}]}`))
	}))
	defer srv.Close()

	l := NewLocator(srv.URL)
	got, err := l.Geocode(context.Background(), AddressInput{Street: "100 Main St"})

	require.NoError(t, err)
	assert.True(t, got.Matched)
	assert.Equal(t, 85, got.Score)
	assert.Equal(t, "range", got.Quality)
}

func TestLocator_Geocode_NoCandidates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`callback({"candidates":[]});`))
	}))
	defer srv.Close()

	l := NewLocator(srv.URL)
	got, err := l.Geocode(context.Background(), AddressInput{Street: "123 Fake St"})

	require.NoError(t, err)
	assert.False(t, got.Matched)
	assert.Equal(t, "locator", got.Source)
}

func TestLocator_Geocode_EmptyAddress(t *testing.T) {
	t.Parallel()

	l := NewLocator("http://unreachable.invalid")
	got, err := l.Geocode(context.Background(), AddressInput{})

	require.NoError(t, err)
	assert.False(t, got.Matched)
}

func TestLocator_Geocode_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l := NewLocator(srv.URL)
	_, err := l.Geocode(context.Background(), AddressInput{Street: "100 Main St"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestLocator_WarmupOnce(t *testing.T) {
	t.Parallel()

	var warmups, geocodes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/government", func(w http.ResponseWriter, r *http.Request) {
		warmups.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
	})
	mux.HandleFunc("/locate", func(w http.ResponseWriter, r *http.Request) {
		geocodes.Add(1)
		// The warm-up cookie must ride along on locator calls.
		c, err := r.Cookie("session")
		require.NoError(t, err)
		assert.Equal(t, "abc", c.Value)
		w.Write([]byte(`callback({"candidates":[]});`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l := NewLocator(srv.URL+"/locate", WithLocatorWarmup(srv.URL+"/government"), WithLocatorRateLimit(1000))

	for range 3 {
		_, err := l.Geocode(context.Background(), AddressInput{Street: "100 Main St"})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), warmups.Load())
	assert.Equal(t, int32(3), geocodes.Load())
}

func TestLocator_WarmupRetriesAfterFailure(t *testing.T) {
	t.Parallel()

	var warmups atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/government", func(w http.ResponseWriter, r *http.Request) {
		if warmups.Add(1) == 1 {
			// Drop the connection so the first warm-up fails in transport.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
	})
	mux.HandleFunc("/locate", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`callback({"candidates":[]});`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	l := NewLocator(srv.URL+"/locate", WithLocatorWarmup(srv.URL+"/government"), WithLocatorRateLimit(1000))

	_, err := l.Geocode(context.Background(), AddressInput{Street: "100 Main St"})
	require.Error(t, err)

	// A failed warm-up is not latched: the next call retries and succeeds.
	got, err := l.Geocode(context.Background(), AddressInput{Street: "100 Main St"})
	require.NoError(t, err)
	assert.False(t, got.Matched)
	assert.Equal(t, int32(2), warmups.Load())
}

func TestUnwrapJSONP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "wrapped", body: `callback({"a":1});`, want: `{"a":1}`},
		{name: "wrapped no semicolon", body: `callback({"a":1})`, want: `{"a":1}`},
		{name: "plain json", body: `{"a":1}`, want: `{"a":1}`},
		{name: "other callback name", body: `jsonp123({"a":1})`, want: `{"a":1}`},
		{name: "malformed", body: `not a response`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := unwrapJSONP(tt.body)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScoreToQuality(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "rooftop", scoreToQuality(100))
	assert.Equal(t, "rooftop", scoreToQuality(90))
	assert.Equal(t, "range", scoreToQuality(89))
	assert.Equal(t, "range", scoreToQuality(70))
	assert.Equal(t, "approximate", scoreToQuality(69))
	assert.Equal(t, "approximate", scoreToQuality(0))
}
