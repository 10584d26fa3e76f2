package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommonGames(t *testing.T) {
	tests := []struct {
		name  string
		lists [][]string
		want  []string
	}{
		{
			name:  "three overlapping lists",
			lists: [][]string{{"1", "2", "3"}, {"2", "3", "4"}, {"3", "4", "5"}},
			want:  []string{"3"},
		},
		{
			name:  "disjoint lists",
			lists: [][]string{{"1", "2"}, {"3", "4"}},
			want:  []string{},
		},
		{
			name:  "single list",
			lists: [][]string{{"5", "6"}},
			want:  []string{"5", "6"},
		},
		{
			name:  "no lists",
			lists: nil,
			want:  []string{},
		},
		{
			name:  "ordering is irrelevant",
			lists: [][]string{{"30", "10", "20"}, {"20", "30"}},
			want:  []string{"20", "30"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CommonGames(tt.lists...))
		})
	}
}

func TestWishlistOverlap(t *testing.T) {
	overlap := WishlistOverlap(map[string][]string{
		"A": {"10", "20"},
		"B": {"20", "30"},
	})

	assert.Equal(t, map[string][]string{"20": {"A", "B"}}, overlap)
}

func TestWishlistOverlapIgnoresDuplicateEntries(t *testing.T) {
	overlap := WishlistOverlap(map[string][]string{
		"A": {"10", "10"},
		"B": {"20"},
	})
	assert.Empty(t, overlap, "one member listing an app twice is not an overlap")
}

func TestIsDealBoundaries(t *testing.T) {
	th := DefaultThresholds()

	// Exactly the high threshold qualifies.
	assert.True(t, IsDeal(30, 19.99, 0, th))

	// Just under the high threshold with the price exactly at the top
	// of the historical-low band: the band edge is exclusive.
	assert.False(t, IsDeal(29, 12.0, 10.0, th))

	// The same discount just inside the band qualifies.
	assert.True(t, IsDeal(29, 11.99, 10.0, th))

	// Below the low threshold nothing qualifies.
	assert.False(t, IsDeal(14, 10.0, 10.0, th))

	// At the low threshold with the current price above the band.
	assert.False(t, IsDeal(15, 12.01, 10.0, th))

	// Mid-band discount at exactly the historical low qualifies.
	assert.True(t, IsDeal(20, 10.0, 10.0, th))

	// No ITAD data: only the high rule can fire.
	assert.False(t, IsDeal(20, 10.0, 0, th))
}

func TestIsDealCustomThresholds(t *testing.T) {
	strict := Thresholds{HighDiscount: 50, LowDiscount: 40, LowBand: 1.0}

	assert.False(t, IsDeal(30, 5.0, 10.0, strict))
	assert.True(t, IsDeal(50, 5.0, 0, strict))
	assert.True(t, IsDeal(40, 9.99, 10.0, strict))
	assert.False(t, IsDeal(40, 10.0, 10.0, strict), "band edge is exclusive")
}
