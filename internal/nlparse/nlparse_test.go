package nlparse

import (
	"testing"
	"time"
)

func TestParse_Keywords(t *testing.T) {
	p := Parse("show me all the budget reports")

	want := []string{"budget", "reports"}
	if len(p.Keywords) != len(want) {
		t.Fatalf("Keywords = %v, want %v", p.Keywords, want)
	}
	for i, kw := range want {
		if p.Keywords[i] != kw {
			t.Errorf("Keywords[%d] = %q, want %q", i, p.Keywords[i], kw)
		}
	}
}

func TestParse_SizeConstraints(t *testing.T) {
	tests := []struct {
		query   string
		minSize int64
		maxSize int64
	}{
		{"images larger than 50kb", 50 * 1024, 0},
		{"files bigger than 2mb", 2 * 1024 * 1024, 0},
		{"documents smaller than 1gb", 0, 1024 * 1024 * 1024},
		{"videos less than 500 mb", 0, 500 * 1024 * 1024},
		{"files larger than 10", 10 * 1024 * 1024, 0},
		{"budget report", 0, 0},
	}

	for _, tt := range tests {
		p := Parse(tt.query)
		if p.MinSize != tt.minSize {
			t.Errorf("Parse(%q).MinSize = %d, want %d", tt.query, p.MinSize, tt.minSize)
		}
		if p.MaxSize != tt.maxSize {
			t.Errorf("Parse(%q).MaxSize = %d, want %d", tt.query, p.MaxSize, tt.maxSize)
		}
	}
}

func TestParse_SizeTokenNotKeyword(t *testing.T) {
	p := Parse("images larger than 50kb")

	for _, kw := range p.Keywords {
		if kw == "50kb" {
			t.Error("size token leaked into keywords")
		}
		if kw == "larger" || kw == "than" {
			t.Errorf("constraint word %q leaked into keywords", kw)
		}
	}
}

func TestParse_RelativeDates(t *testing.T) {
	now := time.Now()

	p := Parse("documents from last week")
	if !p.HasDateRange() {
		t.Fatal("expected a date range")
	}

	span := p.DateEnd.Sub(p.DateStart)
	if span < 6*24*time.Hour || span > 8*24*time.Hour {
		t.Errorf("last week span = %v, want ~7 days", span)
	}
	if p.DateEnd.Before(now.Add(-time.Minute)) {
		t.Errorf("DateEnd = %v, want ~now", p.DateEnd)
	}
}

func TestParse_CompetingRelativeDates(t *testing.T) {
	// Both phrases are present; the narrowest range must win, every time.
	for n := 0; n < 20; n++ {
		p := Parse("files changed yesterday or last week")
		if !p.HasDateRange() {
			t.Fatal("expected a date range")
		}

		span := p.DateEnd.Sub(p.DateStart)
		if span < 23*time.Hour || span > 25*time.Hour {
			t.Fatalf("run %d: span = %v, want ~1 day", n, span)
		}
	}
}

func TestParse_AbsoluteDate(t *testing.T) {
	p := Parse("reports since 3/15/2024")
	if !p.HasDateRange() {
		t.Fatal("expected a date range")
	}

	if p.DateStart.Year() != 2024 || p.DateStart.Month() != time.March || p.DateStart.Day() != 15 {
		t.Errorf("DateStart = %v, want 2024-03-15", p.DateStart)
	}
}

func TestParse_BareYearIsNotADate(t *testing.T) {
	p := Parse("invoice from 2024")
	if p.HasDateRange() {
		t.Errorf("bare year produced range %v - %v", p.DateStart, p.DateEnd)
	}

	found := false
	for _, kw := range p.Keywords {
		if kw == "2024" {
			found = true
		}
	}
	if !found {
		t.Errorf("Keywords = %v, want 2024 kept as keyword", p.Keywords)
	}
}

func TestParse_FileTypes(t *testing.T) {
	p := Parse("show me images from last month")

	if len(p.FileTypes) == 0 {
		t.Fatal("expected image extensions")
	}

	seen := map[string]bool{}
	for _, ext := range p.FileTypes {
		seen[ext] = true
	}
	for _, want := range []string{".jpg", ".jpeg", ".png"} {
		if !seen[want] {
			t.Errorf("FileTypes = %v, missing %s", p.FileTypes, want)
		}
	}
}

func TestParse_ExplicitExtension(t *testing.T) {
	p := Parse("find report.pdf")

	if len(p.FileTypes) != 1 || p.FileTypes[0] != ".pdf" {
		t.Errorf("FileTypes = %v, want [.pdf]", p.FileTypes)
	}
}

func TestParse_Categories(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"unpaid invoice from acme", []string{"invoice"}},
		{"quarterly analysis slides", []string{"report", "presentation"}},
		{"beach picture", []string{"photo"}},
		{"random text", nil},
	}

	for _, tt := range tests {
		p := Parse(tt.query)
		if len(p.Categories) != len(tt.want) {
			t.Errorf("Parse(%q).Categories = %v, want %v", tt.query, p.Categories, tt.want)
			continue
		}
		for i, c := range tt.want {
			if p.Categories[i] != c {
				t.Errorf("Parse(%q).Categories[%d] = %q, want %q", tt.query, i, p.Categories[i], c)
			}
		}
	}
}

func TestParse_Deterministic(t *testing.T) {
	query := "invoice images larger than 50kb from last week"

	first := Parse(query)
	for i := 0; i < 10; i++ {
		p := Parse(query)
		if len(p.Keywords) != len(first.Keywords) {
			t.Fatalf("keywords varied across runs: %v vs %v", p.Keywords, first.Keywords)
		}
		if len(p.Categories) != len(first.Categories) {
			t.Fatalf("categories varied across runs: %v vs %v", p.Categories, first.Categories)
		}
		for j := range first.Categories {
			if p.Categories[j] != first.Categories[j] {
				t.Fatalf("category order varied across runs: %v vs %v", p.Categories, first.Categories)
			}
		}
	}
}

func TestParse_EmptyQuery(t *testing.T) {
	p := Parse("")

	if len(p.Keywords) != 0 || len(p.FileTypes) != 0 || len(p.Categories) != 0 {
		t.Errorf("empty query produced %+v", p)
	}
	if p.HasDateRange() || p.MinSize != 0 || p.MaxSize != 0 {
		t.Errorf("empty query produced constraints %+v", p)
	}
}
