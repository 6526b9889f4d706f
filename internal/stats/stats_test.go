package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 2.0, Mean([]float64{1, 2, 3}))
}

func TestSampleStd(t *testing.T) {
	assert.Equal(t, 0.0, SampleStd([]float64{5}))
	assert.Equal(t, 0.0, SampleStd([]float64{3, 3, 3, 3}))
	// Sample std of {2, 4, 4, 4, 5, 5, 7, 9} with n-1 denominator.
	assert.InDelta(t, 2.1381, SampleStd([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-4)
}

func TestQuantile(t *testing.T) {
	values := []float64{1, 2, 3, 4}

	tests := []struct {
		name     string
		p        float64
		expected float64
	}{
		{"zeroth", 0, 1},
		{"first quartile interpolates", 0.25, 1.75},
		{"median interpolates", 0.5, 2.5},
		{"third quartile interpolates", 0.75, 3.25},
		{"hundredth", 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Quantile(values, tt.p), 1e-9)
		})
	}

	t.Run("does not mutate input", func(t *testing.T) {
		unsorted := []float64{9, 1, 5}
		Quantile(unsorted, 0.5)
		assert.Equal(t, []float64{9, 1, 5}, unsorted)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, 0.0, Quantile(nil, 0.5))
	})
}

func TestMedianMinMax(t *testing.T) {
	assert.Equal(t, 3.0, Median([]float64{5, 1, 3}))
	assert.Equal(t, 1.0, Min([]float64{5, 1, 3}))
	assert.Equal(t, 5.0, Max([]float64{5, 1, 3}))
}

func TestPearson(t *testing.T) {
	t.Run("perfect positive", func(t *testing.T) {
		assert.InDelta(t, 1.0, Pearson([]float64{1, 2, 3}, []float64{10, 20, 30}), 1e-9)
	})

	t.Run("perfect negative", func(t *testing.T) {
		assert.InDelta(t, -1.0, Pearson([]float64{1, 2, 3}, []float64{3, 2, 1}), 1e-9)
	})

	t.Run("zero variance is undefined", func(t *testing.T) {
		assert.True(t, math.IsNaN(Pearson([]float64{1, 1, 1}, []float64{1, 2, 3})))
	})

	t.Run("mismatched lengths are undefined", func(t *testing.T) {
		assert.True(t, math.IsNaN(Pearson([]float64{1, 2}, []float64{1})))
	})
}
