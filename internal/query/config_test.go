package query

import "testing"

func TestConfig_TypoBudget(t *testing.T) {
	cfg := Config{TypoToleranceEnabled: true, MinWordSizeOneTypo: 5, MinWordSizeTwoTypos: 9}

	cases := []struct {
		word string
		want int
	}{
		{"cat", 0},
		{"zebra", 1},
		{"zealander", 2},
	}
	for _, c := range cases {
		if got := cfg.typoBudget(c.word); got != c.want {
			t.Errorf("typoBudget(%q) = %d, want %d", c.word, got, c.want)
		}
	}
}

func TestConfig_TypoBudgetDisabled(t *testing.T) {
	cfg := Config{TypoToleranceEnabled: false, MinWordSizeOneTypo: 5, MinWordSizeTwoTypos: 9}
	if got := cfg.typoBudget("zealander"); got != 0 {
		t.Errorf("typoBudget with tolerance disabled = %d, want 0", got)
	}
}
