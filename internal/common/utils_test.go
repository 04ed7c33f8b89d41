package common

import (
	"testing"
	"time"
)

func TestRound1(t *testing.T) {
	cases := map[float64]float64{
		12.34:  12.3,
		12.36:  12.4,
		-3.26:  -3.3,
		7:      7,
		19.999: 20,
		0.25:   0.3,
		-0.25:  -0.2,
	}
	for in, want := range cases {
		if got := Round1(in); got != want {
			t.Errorf("Round1(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestDateOfUsesLocation(t *testing.T) {
	// 23:30 UTC on the 1st is already the 2nd in UTC+2.
	ts := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	loc := time.FixedZone("UTC+2", 2*3600)

	if got := DateOf(ts, nil); !got.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected UTC date %v", got)
	}
	if got := DateOf(ts, loc); !got.Equal(time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected local date %v", got)
	}
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2024-06-01T13:00", "2024-06-01 12:00:00", "2024-06-01"} {
		d, err := ParseDate(s)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", s, err)
		}
		if d.Day() != 1 || d.Month() != time.June {
			t.Fatalf("ParseDate(%q) = %v", s, d)
		}
	}
	for _, s := range []string{"", "2024-13", "not-a-date-at-all"} {
		if _, err := ParseDate(s); err == nil {
			t.Fatalf("ParseDate(%q) should fail", s)
		}
	}
}
