package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataPointValid(t *testing.T) {
	cases := []struct {
		name string
		dp   DataPoint
		want bool
	}{
		{"symbol and finite value", DataPoint{Symbol: "BTC", Value: 1}, true},
		{"display name only", DataPoint{DisplayName: "S&P 500", Value: 5000}, true},
		{"no identity", DataPoint{Value: 1}, false},
		{"nan value", DataPoint{Symbol: "BTC", Value: math.NaN()}, false},
		{"inf value", DataPoint{Symbol: "BTC", Value: math.Inf(1)}, false},
		{"zero value is fine", DataPoint{Symbol: "BTC"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.dp.Valid())
		})
	}
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, CatCrypto, ParseCategory("crypto"))
	assert.Equal(t, CatFinancialNews, ParseCategory("financial_news"))
	assert.Equal(t, CatCustom, ParseCategory("not-a-category"))
	assert.Equal(t, CatCustom, ParseCategory(""))
}

func TestSourceStatusHealth(t *testing.T) {
	assert.Equal(t, "healthy", SourceStatus{ErrorCount: 0}.Health())
	assert.Equal(t, "degraded", SourceStatus{ErrorCount: 1}.Health())
	assert.Equal(t, "degraded", SourceStatus{ErrorCount: 2}.Health())
	assert.Equal(t, "failing", SourceStatus{ErrorCount: 3}.Health())
	assert.Equal(t, "failing", SourceStatus{ErrorCount: 10}.Health())
}

func TestTierScore(t *testing.T) {
	assert.Equal(t, 100.0, TierScore(1))
	assert.Equal(t, 75.0, TierScore(2))
	assert.Equal(t, 50.0, TierScore(3))
	assert.Equal(t, 50.0, TierScore(0))
}
