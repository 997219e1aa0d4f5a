package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one session's presence in one template.
type Entry struct {
	TemplateID    string    `json:"templateId"`
	SocketID      string    `json:"socketId"`
	UserID        string    `json:"userId"`
	DisplayName   string    `json:"displayName"`
	AvatarURL     string    `json:"avatarUrl"`
	EditingCardID string    `json:"editingCardId"`
	JoinedAt      time.Time `json:"joinedAt"`
}

func (e Entry) Member() Member {
	return Member{
		UserID:        e.UserID,
		SocketID:      e.SocketID,
		DisplayName:   e.DisplayName,
		AvatarURL:     e.AvatarURL,
		EditingCardID: e.EditingCardID,
		JoinedAt:      e.JoinedAt,
	}
}

// Roster tracks which sessions are present in which template. A template with
// no sessions has no key.
type Roster interface {
	Join(ctx context.Context, entry Entry) ([]Entry, error)
	// Leave removes the session and reports the removed entry, if any.
	Leave(ctx context.Context, templateID, socketID string) (Entry, bool, error)
	Members(ctx context.Context, templateID string) ([]Entry, error)
	SetEditing(ctx context.Context, templateID, socketID, cardID string) error
}

// MemoryRoster is the process-local Roster.
type MemoryRoster struct {
	mu        sync.RWMutex
	templates map[string]map[string]Entry
}

func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{templates: make(map[string]map[string]Entry)}
}

func (r *MemoryRoster) Join(_ context.Context, entry Entry) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, ok := r.templates[entry.TemplateID]
	if !ok {
		sessions = make(map[string]Entry)
		r.templates[entry.TemplateID] = sessions
	}
	sessions[entry.SocketID] = entry
	return sortEntries(sessions), nil
}

func (r *MemoryRoster) Leave(_ context.Context, templateID, socketID string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, ok := r.templates[templateID]
	if !ok {
		return Entry{}, false, nil
	}
	entry, ok := sessions[socketID]
	if !ok {
		return Entry{}, false, nil
	}
	delete(sessions, socketID)
	if len(sessions) == 0 {
		delete(r.templates, templateID)
	}
	return entry, true, nil
}

func (r *MemoryRoster) Members(_ context.Context, templateID string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortEntries(r.templates[templateID]), nil
}

func (r *MemoryRoster) SetEditing(_ context.Context, templateID, socketID, cardID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, ok := r.templates[templateID]
	if !ok {
		return nil
	}
	entry, ok := sessions[socketID]
	if !ok {
		return nil
	}
	entry.EditingCardID = cardID
	sessions[socketID] = entry
	return nil
}

// HasTemplate reports whether the template has a roster key.
func (r *MemoryRoster) HasTemplate(templateID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[templateID]
	return ok
}

func sortEntries(sessions map[string]Entry) []Entry {
	out := make([]Entry, 0, len(sessions))
	for _, e := range sessions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].SocketID < out[j].SocketID
	})
	return out
}
