package pagination

import (
	"net/url"
	"testing"
)

func TestClampPageSize(t *testing.T) {
	cfg := PageSizeConfig{Default: 20, Max: 100}
	testCases := []struct {
		value int
		want  int
	}{
		{value: 0, want: 20},
		{value: -4, want: 20},
		{value: 7, want: 7},
		{value: 500, want: 100},
	}
	for _, tc := range testCases {
		if got := ClampPageSize(tc.value, cfg); got != tc.want {
			t.Fatalf("ClampPageSize(%d) = %d, want %d", tc.value, got, tc.want)
		}
	}
	if got := ClampPageSize(0, PageSizeConfig{}); got != 1 {
		t.Fatalf("ClampPageSize with empty config = %d, want 1", got)
	}
}

func TestNormalizeOrderBy(t *testing.T) {
	cfg := OrderByConfig{Default: "created_at", Allowed: []string{"created_at", "reviewer_id"}}
	if got, err := NormalizeOrderBy("", cfg); err != nil || got != "created_at" {
		t.Fatalf("default = %q, %v", got, err)
	}
	if got, err := NormalizeOrderBy("reviewer_id", cfg); err != nil || got != "reviewer_id" {
		t.Fatalf("allowed = %q, %v", got, err)
	}
	if _, err := NormalizeOrderBy("mark", cfg); err == nil {
		t.Fatal("expected error for unknown order_by")
	}
}

func TestFromQuery(t *testing.T) {
	size := PageSizeConfig{Default: 20, Max: 100}
	order := OrderByConfig{Default: "created_at", Allowed: []string{"created_at"}}

	pageSize, orderBy, err := FromQuery(url.Values{"page_size": {"250"}}, size, order)
	if err != nil {
		t.Fatalf("from query: %v", err)
	}
	if pageSize != 100 || orderBy != "created_at" {
		t.Fatalf("got %d/%q", pageSize, orderBy)
	}
	if _, _, err := FromQuery(url.Values{"page_size": {"ten"}}, size, order); err == nil {
		t.Fatal("expected error for non-numeric page_size")
	}
}
