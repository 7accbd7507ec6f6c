package domain

import (
	"strings"
	"time"
)

// DefaultColor is applied to boards created without a color.
const DefaultColor = "bg-blue-500"

// Palette lists the board color tokens offered to users, in display order.
var Palette = []string{
	"bg-blue-500",
	"bg-green-500",
	"bg-yellow-500",
	"bg-red-500",
	"bg-purple-500",
	"bg-pink-500",
	"bg-indigo-500",
	"bg-gray-500",
	"bg-orange-500",
	"bg-teal-500",
	"bg-cyan-500",
	"bg-emerald-500",
}

// IsPaletteColor reports whether color is one of the Palette tokens. Unknown
// tokens are still stored as opaque strings.
func IsPaletteColor(color string) bool {
	for _, c := range Palette {
		if c == color {
			return true
		}
	}
	return false
}

// Board is the top-level container owned by one user.
type Board struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Color       string    `json:"color"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewBoard carries the caller supplied fields of a board creation request.
// The owner is never part of it.
type NewBoard struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
}

// ParseNewBoard builds a NewBoard from a decoded JSON document. Anything that
// is not an object with a non-blank string title is rejected with the title
// error; an owner field in the document is ignored.
func ParseNewBoard(doc any) (NewBoard, error) {
	obj, _ := doc.(map[string]any)
	title, ok := obj["title"].(string)
	if !ok || strings.TrimSpace(title) == "" {
		return NewBoard{}, ErrInvalidTitle
	}
	nb := NewBoard{Title: title}
	switch v := obj["description"].(type) {
	case nil:
	case string:
		nb.Description = &v
	default:
		return NewBoard{}, &ValidationError{Field: "description", Message: "Invalid description"}
	}
	switch v := obj["color"].(type) {
	case nil:
	case string:
		nb.Color = &v
	default:
		return NewBoard{}, &ValidationError{Field: "color", Message: "Invalid color"}
	}
	return nb, nil
}

// Validate checks the request and returns it normalized.
func (nb NewBoard) Validate() (NewBoard, error) {
	title := strings.TrimSpace(nb.Title)
	if title == "" {
		return NewBoard{}, ErrInvalidTitle
	}
	nb.Title = title
	if nb.Color != nil && strings.TrimSpace(*nb.Color) == "" {
		nb.Color = nil
	}
	return nb, nil
}

// Board stamps the request with its owner and applies defaults.
func (nb NewBoard) Board(owner Identity) Board {
	b := Board{
		Title:       nb.Title,
		Description: nb.Description,
		Color:       DefaultColor,
		UserID:      string(owner),
	}
	if nb.Color != nil {
		b.Color = *nb.Color
	}
	return b
}

// BoardPatch is a partial board update. Only title and color are mutable.
type BoardPatch struct {
	Title *string `json:"title,omitempty"`
	Color *string `json:"color,omitempty"`
}

// Validate checks the patch and returns it normalized.
func (p BoardPatch) Validate() (BoardPatch, error) {
	if p.Title == nil && p.Color == nil {
		return p, ErrEmptyPatch
	}
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return p, ErrInvalidTitle
		}
		p.Title = &t
	}
	if p.Color != nil && strings.TrimSpace(*p.Color) == "" {
		return p, &ValidationError{Field: "color", Message: "Invalid color"}
	}
	return p, nil
}

// Apply returns b with the patch applied.
func (b Board) Apply(p BoardPatch) Board {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Color != nil {
		b.Color = *p.Color
	}
	return b
}
