package domain

import "time"

// Template holds message content with {name}-style placeholders. Every
// placeholder appearing in Content must be listed in Variables; the store
// enforces this at create time.
type Template struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Channel   string    `json:"channel" db:"channel"`
	Locale    string    `json:"locale" db:"locale"`
	Content   string    `json:"content" db:"content"`
	Variables []string  `json:"variables" db:"variables"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Segment names a stored rule tree used to resolve campaign recipients.
// The tree itself is kept as raw JSON and parsed by the segment package.
type Segment struct {
	ID         int64     `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Definition []byte    `json:"definition" db:"definition"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
