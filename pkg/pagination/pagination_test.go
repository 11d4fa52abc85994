package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=50&offset=10", 50, 10},
		{"?limit=500", MaxLimit, 0},
		{"?limit=-3&offset=-7", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
		{"?limit=10&page=3", 10, 20},
		{"?page=2", DefaultLimit, DefaultLimit},
		{"?page=0", DefaultLimit, 0},
		{"?limit=10&page=3&offset=5", 10, 5},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := paramsFor(t, tt.query)
			if p.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a"}, 45, 20, 20)
	if resp.Page != 2 {
		t.Errorf("expected page 2, got %d", resp.Page)
	}
	if resp.Pages != 3 {
		t.Errorf("expected 3 pages, got %d", resp.Pages)
	}
	if !resp.HasMore {
		t.Error("expected HasMore")
	}

	last := NewResponse(nil, 45, 20, 40)
	if last.HasMore {
		t.Error("last page should not have more")
	}
}

func TestParams_SQL(t *testing.T) {
	if got := (Params{Limit: 10, Offset: 30}).SQL(); got != "LIMIT 10 OFFSET 30" {
		t.Errorf("unexpected SQL %q", got)
	}
}

func TestParams_Pages(t *testing.T) {
	p := Params{Limit: 10}
	cases := map[int]int{0: 0, 1: 1, 10: 1, 11: 2}
	for total, want := range cases {
		if got := p.Pages(total); got != want {
			t.Errorf("Pages(%d) = %d, want %d", total, got, want)
		}
	}
	if (Params{}).Page() != 1 {
		t.Error("zero limit should report page 1")
	}
}

func TestParams_HasPrevious(t *testing.T) {
	if (Params{Limit: 10}).HasPrevious() {
		t.Error("first page has no previous")
	}
	if !(Params{Limit: 10, Offset: 10}).HasPrevious() {
		t.Error("second page has previous")
	}
}
