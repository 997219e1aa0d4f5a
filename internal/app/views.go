package app

import (
	"strings"
	"time"

	"itinera/api/internal/store"
)

type locationBody struct {
	Title        string   `json:"title"`
	Address      string   `json:"address"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Category     string   `json:"category"`
	ThumbnailURL string   `json:"thumbnailUrl"`
}

func (b *locationBody) toLocation() *store.Location {
	if b == nil {
		return nil
	}
	return &store.Location{
		Title:        strings.TrimSpace(b.Title),
		Address:      strings.TrimSpace(b.Address),
		Latitude:     b.Latitude,
		Longitude:    b.Longitude,
		Category:     strings.TrimSpace(b.Category),
		ThumbnailURL: strings.TrimSpace(b.ThumbnailURL),
	}
}

func templateJSON(t store.Template) map[string]any {
	return map[string]any{
		"templateUuid": t.ID,
		"ownerUserId":  t.OwnerUserID,
		"title":        t.Title,
		"privacy":      string(t.Privacy),
		"sharedCount":  t.SharedCount,
		"createdAt":    t.CreatedAt.Format(time.RFC3339),
		"updatedAt":    t.UpdatedAt.Format(time.RFC3339),
	}
}

func templateTreeJSON(view TemplateView) map[string]any {
	payload := templateJSON(view.Template)
	payload["role"] = string(view.Role)
	boards := make([]map[string]any, 0, len(view.Boards))
	for _, b := range view.Boards {
		board := boardJSON(b.Board)
		cards := make([]map[string]any, 0, len(b.Cards))
		for _, c := range b.Cards {
			cards = append(cards, cardJSON(c))
		}
		board["cards"] = cards
		boards = append(boards, board)
	}
	payload["boards"] = boards
	return payload
}

func boardJSON(b store.Board) map[string]any {
	return map[string]any{
		"boardUuid":    b.ID,
		"templateUuid": b.TemplateID,
		"dayNumber":    b.DayNumber,
	}
}

func cardJSON(c store.Card) map[string]any {
	payload := map[string]any{
		"cardUuid":   c.ID,
		"boardUuid":  c.BoardID,
		"content":    c.Content,
		"startTime":  c.StartTime,
		"endTime":    c.EndTime,
		"orderIndex": c.OrderIndex,
		"locked":     c.Locked,
		"location":   nil,
	}
	if loc := c.Location; loc != nil {
		payload["location"] = map[string]any{
			"title":        loc.Title,
			"address":      loc.Address,
			"latitude":     loc.Latitude,
			"longitude":    loc.Longitude,
			"category":     loc.Category,
			"thumbnailUrl": loc.ThumbnailURL,
		}
	}
	return payload
}

func collaboratorJSON(c store.Collaborator) map[string]any {
	return map[string]any{
		"userId":      c.UserID,
		"displayName": c.DisplayName,
		"avatarUrl":   c.AvatarURL,
		"addedAt":     c.CreatedAt.Format(time.RFC3339),
	}
}

func notificationJSON(n store.Notification) map[string]any {
	var readAt any
	if n.ReadAt != nil {
		readAt = n.ReadAt.Format(time.RFC3339)
	}
	return map[string]any{
		"id":           n.ID,
		"kind":         n.Kind,
		"message":      n.Message,
		"templateUuid": nilIfEmpty(n.TemplateID),
		"actorUserId":  nilIfEmpty(n.ActorUserID),
		"readAt":       readAt,
		"createdAt":    n.CreatedAt.Format(time.RFC3339),
	}
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
