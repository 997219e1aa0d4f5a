package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"itinera/api/internal/errs"
	"itinera/api/internal/store"
)

type fakeLoader map[string]store.TemplateTree

func (f fakeLoader) LoadTemplateTree(_ context.Context, id string) (store.TemplateTree, error) {
	tree, ok := f[id]
	if !ok {
		return store.TemplateTree{}, errs.NotFound("template %s not found", id)
	}
	return tree, nil
}

func float(v float64) *float64 { return &v }

func sampleTree() store.TemplateTree {
	updated := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return store.TemplateTree{
		Template: store.Template{ID: "t1", Title: "Lisbon & Porto", Privacy: store.PrivacyPublic, UpdatedAt: updated},
		Boards: []store.BoardTree{
			{
				Board: store.Board{ID: "b1", DayNumber: 1},
				Cards: []store.Card{
					{ID: "c1", Content: "Pastéis <de> Belém", StartTime: "09:00", EndTime: "10:30", Locked: true,
						Location: &store.Location{Title: "Belém", Address: "R. de Belém 84", Category: "FOOD", Latitude: float(38.6975), Longitude: float(-9.2032)}},
					{ID: "c2", Content: "Tram 28"},
				},
			},
			{Board: store.Board{ID: "b2", DayNumber: 2}},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"", FormatHTML, false},
		{"html", FormatHTML, false},
		{" PDF ", FormatPDF, false},
		{"docx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnsupportedFormat) {
				t.Fatalf("ParseFormat(%q) error = %v, want ErrUnsupportedFormat", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Trip v1.2", "Trip-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "itinerary"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderItineraryHTML(t *testing.T) {
	html, err := RenderItineraryHTML(NewItineraryData(sampleTree(), time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("RenderItineraryHTML() error = %v", err)
	}

	for _, want := range []string{
		"Lisbon &amp; Porto",
		"Day 1",
		"Day 2",
		"09:00 - 10:30",
		"Pastéis &lt;de&gt; Belém",
		"food: ",
		"mlat=38.697500",
		"R. de Belém 84",
		"Tram 28",
		"Nothing planned yet.",
		"updated Mar 14, 2026",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Index(html, "Day 1") > strings.Index(html, "Day 2") {
		t.Error("days rendered out of order")
	}
	if strings.Index(html, "Pastéis") > strings.Index(html, "Tram 28") {
		t.Error("cards rendered out of order")
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService(fakeLoader{"t1": sampleTree()}, Options{})
	result, err := svc.Export(context.Background(), Request{TemplateID: "t1", Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Lisbon--Porto.html" {
		t.Errorf("Filename = %q", result.Filename)
	}
	if !strings.HasPrefix(result.MimeType, "text/html") {
		t.Errorf("MimeType = %q", result.MimeType)
	}
	if !strings.Contains(string(result.Data), "Tram 28") {
		t.Error("export body missing card content")
	}
}

func TestExportErrors(t *testing.T) {
	svc := NewService(fakeLoader{"t1": sampleTree()}, Options{ChromePath: "/nonexistent/chrome"})

	if _, err := svc.Export(context.Background(), Request{TemplateID: "missing", Format: FormatHTML}); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing template error = %v, want not found", err)
	}
	if _, err := svc.Export(context.Background(), Request{TemplateID: "t1", Format: "docx"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("docx error = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := svc.Export(context.Background(), Request{TemplateID: "t1", Format: FormatPDF}); !errors.Is(err, ErrPDFDependencyMissing) {
		t.Errorf("pdf error = %v, want ErrPDFDependencyMissing", err)
	}
}
