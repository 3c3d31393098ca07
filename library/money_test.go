package library

import (
	"errors"
	"testing"
)

func TestParseMoneyRoundsHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want Money
	}{
		{"5", 500},
		{"5.0", 500},
		{"12.34", 1234},
		{"0.005", 1},
		{"0.004", 0},
		{"2.675", 268},
		{"19.999", 2000},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if err != nil {
			t.Fatalf("ParseMoney(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseMoney(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}

	if _, err := ParseMoney("five"); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("want ErrInvalidField, got %v", err)
	}
}

func TestMoneyString(t *testing.T) {
	for m, want := range map[Money]string{0: "0.00", 5: "0.05", 1250: "12.50", Pounds(100): "100.00"} {
		if got := m.String(); got != want {
			t.Errorf("Money(%d).String() = %q, want %q", m, got, want)
		}
	}
}
