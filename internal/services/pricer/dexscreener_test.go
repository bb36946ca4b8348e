package pricer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPriceParsesNativePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/0xpair", r.URL.Path)
		fmt.Fprint(w, `{"pair":{"priceNative":"0.0012","priceUsd":"0.73"}}`)
	}))
	defer srv.Close()

	p := New(srv.URL, zap.NewNop())
	price, err := p.Price(context.Background(), "0xpair")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.RequireFromString("0.0012")), "got %s", price)
}

func TestPriceMissingPairFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"pair":null}`)
	}))
	defer srv.Close()

	p := New(srv.URL, zap.NewNop())
	_, err := p.Price(context.Background(), "0xpair")
	require.Error(t, err)
}
