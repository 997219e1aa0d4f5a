package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"itinera/api/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var itineraryTemplate = template.Must(template.New("itinerary.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/itinerary.html"))

// ItineraryData holds data for itinerary rendering.
type ItineraryData struct {
	Title       string
	Privacy     string
	UpdatedAt   time.Time
	GeneratedAt time.Time
	Days        []ItineraryDay
}

type ItineraryDay struct {
	Number int
	Stops  []ItineraryStop
}

type ItineraryStop struct {
	Time     string
	Content  string
	Locked   bool
	Place    string
	Address  string
	Category string
	MapURL   string
}

// NewItineraryData flattens a template tree into rendering data.
func NewItineraryData(tree store.TemplateTree, generatedAt time.Time) ItineraryData {
	data := ItineraryData{
		Title:       tree.Title,
		Privacy:     string(tree.Privacy),
		UpdatedAt:   tree.UpdatedAt,
		GeneratedAt: generatedAt,
		Days:        make([]ItineraryDay, 0, len(tree.Boards)),
	}
	for _, board := range tree.Boards {
		day := ItineraryDay{Number: board.DayNumber, Stops: make([]ItineraryStop, 0, len(board.Cards))}
		for _, card := range board.Cards {
			day.Stops = append(day.Stops, newStop(card))
		}
		data.Days = append(data.Days, day)
	}
	return data
}

func newStop(card store.Card) ItineraryStop {
	stop := ItineraryStop{
		Time:    timeRange(card.StartTime, card.EndTime),
		Content: card.Content,
		Locked:  card.Locked,
	}
	if loc := card.Location; loc != nil {
		stop.Place = loc.Title
		stop.Address = loc.Address
		stop.Category = loc.Category
		if loc.Latitude != nil && loc.Longitude != nil {
			stop.MapURL = fmt.Sprintf("https://www.openstreetmap.org/?mlat=%.6f&mlon=%.6f#map=16/%.6f/%.6f",
				*loc.Latitude, *loc.Longitude, *loc.Latitude, *loc.Longitude)
		}
	}
	return stop
}

func timeRange(start, end string) string {
	switch {
	case start != "" && end != "":
		return start + " - " + end
	case start != "":
		return start
	default:
		return end
	}
}

// RenderItineraryHTML renders the printable itinerary page.
func RenderItineraryHTML(data ItineraryData) (string, error) {
	var buf bytes.Buffer
	if err := itineraryTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
