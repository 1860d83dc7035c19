package notes

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	fieldID       = "id"
	fieldTemplate = "template"
	fieldSavedAt  = "savedAt"
)

// Note is clinical content held on the device. Fields carries the caller's free-form
// data exactly as saved; ID and SavedAt are owned by the store.
type Note struct {
	ID      string
	SavedAt time.Time
	Fields  map[string]any
}

// Template returns the note template name, or "" when none was saved.
func (n Note) Template() string {
	s, _ := n.Fields[fieldTemplate].(string)
	return s
}

// Map flattens the note into the shape callers saved, plus id and an RFC 3339 savedAt.
func (n Note) Map() map[string]any {
	out := make(map[string]any, len(n.Fields)+2)
	for k, v := range n.Fields {
		out[k] = v
	}
	out[fieldID] = n.ID
	out[fieldSavedAt] = n.SavedAt.UTC().Format(time.RFC3339Nano)
	return out
}

func (n Note) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Map())
}

func (n *Note) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, _ := raw[fieldID].(string)
	var savedAt time.Time
	if s, ok := raw[fieldSavedAt].(string); ok && s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("notes: savedAt: %w", err)
		}
		savedAt = t
	}
	delete(raw, fieldID)
	delete(raw, fieldSavedAt)
	*n = Note{ID: id, SavedAt: savedAt, Fields: raw}
	return nil
}
