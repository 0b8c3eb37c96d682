package money_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpaisa/paisad/internal/money"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		in   money.Paise
		want string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{99, "0.99"},
		{100, "1.00"},
		{150050, "1500.50"},
		{100000000, "1000000.00"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.in.Format())
	}
}

func TestParse(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		cases := []struct {
			in   string
			want money.Paise
		}{
			{"0.00", 0},
			{"0.01", 1},
			{"1500.50", 150050},
			{" 42.00 ", 4200},
		}

		for _, tc := range cases {
			got, err := money.Parse(tc.in)
			require.NoError(t, err, "input %q", tc.in)
			assert.Equal(t, tc.want, got, "input %q", tc.in)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		// Anything Format would not emit is rejected, single-fraction-digit
		// and bare-integer forms included.
		for _, in := range []string{
			"", "-1.00", "+1.00", "1.234", "1.", "1.5", "1500", ".50",
			"abc", "1,500.00", "1.5e3", "1.-5",
		} {
			_, err := money.Parse(in)
			assert.Error(t, err, "input %q", in)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		_, err := money.Parse("99999999999999999999.00")
		assert.ErrorIs(t, err, money.ErrOverflow)
	})
}

// format(parse(x)) = x over everything Parse accepts, and parse(format(n)) = n
// over representative integer amounts.
func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0.00", "0.01", "1.00", "1500.50", "99999.99"} {
		p, err := money.Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, p.Format())
	}

	// Non-canonical spellings cannot silently re-render as something else:
	// they fail Parse instead of breaking the law.
	for _, s := range []string{"1500.5", "1500"} {
		_, err := money.Parse(s)
		assert.Error(t, err, "input %q", s)
	}

	for _, n := range []money.Paise{0, 1, 99, 100, 101, 150050, 1 << 40} {
		p, err := money.Parse(n.Format())
		require.NoError(t, err)
		assert.Equal(t, n, p)
	}
}

func TestAdd(t *testing.T) {
	got, err := money.Add(100, 250)
	require.NoError(t, err)
	assert.Equal(t, money.Paise(350), got)

	_, err = money.Add(money.MaxSafe, 1)
	assert.ErrorIs(t, err, money.ErrOverflow)
}

func TestSub(t *testing.T) {
	got, err := money.Sub(350, 250)
	require.NoError(t, err)
	assert.Equal(t, money.Paise(100), got)

	// Draining an amount to exactly zero is fine.
	got, err = money.Sub(350, 350)
	require.NoError(t, err)
	assert.Equal(t, money.Paise(0), got)

	_, err = money.Sub(100, 101)
	assert.ErrorIs(t, err, money.ErrNegativeResult)
}
