package timeframe

import "testing"

func TestDurationMs(t *testing.T) {
	cases := []struct {
		tf   string
		want int64
		ok   bool
	}{
		{M1, 60_000, true},
		{M5, 300_000, true},
		{M15, 900_000, true},
		{H1, 3_600_000, true},
		{H4, 14_400_000, true},
		{"2m", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := DurationMs(tc.tf)
		if ok != tc.ok || got != tc.want {
			t.Errorf("DurationMs(%q) = (%d, %v), want (%d, %v)", tc.tf, got, ok, tc.want, tc.ok)
		}
	}
}

func TestBucket(t *testing.T) {
	cases := []struct {
		ts   int64
		tfMs int64
		want int64
	}{
		{0, 60_000, 0},
		{59_999, 60_000, 0},
		{60_000, 60_000, 60_000},
		{61_234, 60_000, 60_000},
		{899_999, 900_000, 0},
		{900_000, 900_000, 900_000},
		{1_700_000_123_456, 60_000, 1_700_000_100_000},
	}
	for _, tc := range cases {
		if got := Bucket(tc.ts, tc.tfMs); got != tc.want {
			t.Errorf("Bucket(%d, %d) = %d, want %d", tc.ts, tc.tfMs, got, tc.want)
		}
	}
}

func TestBucketAlignment(t *testing.T) {
	// Every bucket start must be divisible by its timeframe duration.
	for _, tf := range All {
		tfMs, _ := DurationMs(tf)
		for _, ts := range []int64{1, 59_999, 1_700_000_123_456, 86_399_999} {
			b := Bucket(ts, tfMs)
			if b%tfMs != 0 {
				t.Errorf("tf=%s ts=%d: bucket %d not aligned", tf, ts, b)
			}
			if b > ts || ts-b >= tfMs {
				t.Errorf("tf=%s ts=%d: bucket %d out of range", tf, ts, b)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate([]string{M1, M5, H4}); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
	if err := Validate([]string{M1, "7m"}); err == nil {
		t.Error("expected error for unknown timeframe")
	}
}
