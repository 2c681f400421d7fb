package record

import (
	"testing"
	"time"
)

func TestFilterMatches(t *testing.T) {
	r := Record{"id": "a", "phone": "9000000001", "is_spam": false, "count": float64(3)}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"match phone", Filter{"phone": "9000000001"}, true},
		{"mismatch phone", Filter{"phone": "9000000002"}, false},
		{"missing field", Filter{"stage": "new"}, false},
		{"bool", Filter{"is_spam": false}, true},
		{"number vs int", Filter{"count": 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(r); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordMergeDoesNotMutate(t *testing.T) {
	base := Record{"id": "a", "name": "Ravi"}
	merged := base.Merge(Record{"name": "Ravi K", "area": "North"})

	if base["name"] != "Ravi" {
		t.Errorf("base mutated: %v", base)
	}
	if merged["name"] != "Ravi K" || merged["area"] != "North" || merged.ID() != "a" {
		t.Errorf("unexpected merge result: %v", merged)
	}
}

func TestSortNewestFirst(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	rs := []Record{
		{"id": "old", FieldCreatedAt: Timestamp(now.Add(-time.Hour))},
		{"id": "none"},
		{"id": "new", FieldCreatedAt: Timestamp(now)},
	}
	SortNewestFirst(rs)

	want := []string{"new", "old", "none"}
	for i, id := range want {
		if rs[i].ID() != id {
			t.Fatalf("position %d = %s, want %s", i, rs[i].ID(), id)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"9000000001", "9000000001"},
		{"+91 90000 00001", "9000000001"},
		{"09000000001", "9000000001"},
		{"90000-00001", "9000000001"},
		{"12345", "12345"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsCompletePhone(t *testing.T) {
	tests := map[string]bool{
		"9000000001":  true,
		"900000000":   false,
		"90000000011": false,
		"90000 00001": false,
		"":            false,
	}
	for in, want := range tests {
		if got := IsCompletePhone(in); got != want {
			t.Errorf("IsCompletePhone(%q) = %v, want %v", in, got, want)
		}
	}
}
