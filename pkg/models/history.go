package models

// Season groups the episodes of one season, episodes ordered by number.
type Season struct {
	Season   int              `json:"season"`
	Episodes []map[string]any `json:"episodes"`
}

// HistoryEvent is broadcast whenever a user's history shard changes.
type HistoryEvent struct {
	Type      string `json:"type"` // "history.create" or "history.update"
	Username  string `json:"username"`
	ContentID string `json:"contentid"`
	Leaving   int    `json:"leaving"`
	At        string `json:"at"`
}
