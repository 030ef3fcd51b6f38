package domain

import "testing"

func TestParseWeekdays(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		want    []Weekday
		wantErr bool
	}{
		{name: "short tokens", csv: "mon,wed,fri", want: []Weekday{Monday, Wednesday, Friday}},
		{name: "long tokens", csv: "monday,Sunday", want: []Weekday{Monday, Sunday}},
		{name: "mixed case with spaces", csv: " Mon , TUE ", want: []Weekday{Monday, Tuesday}},
		{name: "duplicates collapse", csv: "mon,monday,mon", want: []Weekday{Monday}},
		{name: "empty", csv: "", want: nil},
		{name: "unknown token", csv: "mon,funday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWeekdays(tt.csv)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("day %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseTimesOfDay(t *testing.T) {
	tests := []struct {
		name    string
		csv     string
		want    string
		wantErr bool
	}{
		{name: "sorted output", csv: "15:00,09:00", want: "09:00,15:00"},
		{name: "duplicates collapse", csv: "09:00,9:0,09:00", want: "09:00"},
		{name: "midnight", csv: "00:00", want: "00:00"},
		{name: "out of range hour", csv: "24:00", wantErr: true},
		{name: "out of range minute", csv: "10:60", wantErr: true},
		{name: "garbage", csv: "morning", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimesOfDay(tt.csv)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s := FormatTimesOfDay(got); s != tt.want {
				t.Errorf("got %q, want %q", s, tt.want)
			}
		})
	}
}

func TestWeekday_RoundTrip(t *testing.T) {
	days := []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}
	parsed, err := ParseWeekdays(FormatWeekdays(days))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parsed) != len(days) {
		t.Fatalf("round trip lost days: %v", parsed)
	}
}
