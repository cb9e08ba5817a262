package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitTelegramTextShort(t *testing.T) {
	require.Equal(t, []string{"hello"}, splitTelegramText("hello", 10, ""))
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	in := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	out := splitTelegramText(in, 10, "")
	require.Equal(t, []string{"aaaaaa", "bbbbbb"}, out)
}

func TestSplitTelegramTextKeepsTags(t *testing.T) {
	in := "abcdef<b>bold</b>"
	out := splitTelegramText(in, 8, "HTML")
	require.Equal(t, "abcdef", out[0])
	require.Equal(t, in, strings.Join(out, ""))
}

func TestSplitTelegramTextRunes(t *testing.T) {
	in := strings.Repeat("é", 25)
	out := splitTelegramText(in, 10, "")
	require.Len(t, out, 3)
	for _, c := range out {
		require.LessOrEqual(t, len([]rune(c)), 10)
	}
}
