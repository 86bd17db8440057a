package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupReturnsDisplayName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("lat"))
		w.Write([]byte(`{"display_name":"Dizengoff St 100, Tel Aviv"}`))
	}))
	defer srv.Close()

	g := NewGeocoder(srv.URL, nil)
	got := g.Lookup(context.Background(), 32.07898, 34.77405)
	assert.Equal(t, "Dizengoff St 100, Tel Aviv", got)
}

func TestLookupFallsBackToCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := NewGeocoder(srv.URL, nil)
	got := g.Lookup(context.Background(), 32.07898, 34.77405)
	assert.Equal(t, "32.07898, 34.77405", got)
}

func TestLookupUnconfigured(t *testing.T) {
	g := NewGeocoder("", nil)
	assert.Equal(t, "10.00000, 20.00000", g.Lookup(context.Background(), 10, 20))
}
