package validators

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStringTrimsAndCaps(t *testing.T) {
	assert.Equal(t, "damaged box", SanitizeString("  damaged box \n", 0))
	assert.Equal(t, "damaged", SanitizeString("damaged box", 7))
	assert.Equal(t, "short", SanitizeString("short", 50))
}

func TestSanitizeStringKeepsRunesWhole(t *testing.T) {
	reason := "Größe falsch / 商品が壊れていました"

	for max := 1; max <= utf8.RuneCountInString(reason); max++ {
		got := SanitizeString(reason, max)
		assert.True(t, utf8.ValidString(got), "cut at %d produced invalid utf-8: %q", max, got)
		assert.LessOrEqual(t, utf8.RuneCountInString(got), max)
	}
	assert.Equal(t, "Grö", SanitizeString(reason, 3))
	assert.Equal(t, "商品", SanitizeString("商品が壊れていました", 2))
}

func TestSanitizeStringDropsInvalidBytes(t *testing.T) {
	got := SanitizeString("ok\xff\xfe", 10)
	assert.Equal(t, "ok", got)
}
