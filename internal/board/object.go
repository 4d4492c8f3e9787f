// Package board holds the shared-object model and the in-memory store that
// mirrors one board's authoritative state on the client.
package board

import (
	"encoding/json"
	"errors"
	"time"
)

// TimeLayout is the timestamp layout for CreatedAt and UpdatedAt: fixed-width
// UTC with millisecond precision, so lexical order on the strings equals
// chronological order. RFC3339 variants trim trailing zeros and lose that
// property.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Stamp formats t as a board timestamp.
func Stamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ObjectType enumerates the kinds of object a board can hold.
type ObjectType string

const (
	TypeSticky    ObjectType = "sticky"
	TypeRectangle ObjectType = "rectangle"
	TypeCircle    ObjectType = "circle"
	TypeLine      ObjectType = "line"
	TypeText      ObjectType = "text"
	TypeConnector ObjectType = "connector"
	TypeFrame     ObjectType = "frame"
)

// FrameZIndex is the paint order assigned to frames so they render behind
// every sibling.
const FrameZIndex = -1000

// ErrUnknownType is returned when an object type outside the closed enum is
// requested.
var ErrUnknownType = errors.New("unknown object type")

// Valid reports whether t is one of the closed set of object types.
func (t ObjectType) Valid() bool {
	switch t {
	case TypeSticky, TypeRectangle, TypeCircle, TypeLine, TypeText, TypeConnector, TypeFrame:
		return true
	}
	return false
}

// Object is one shared entity on a board. UpdatedAt is stamped by whichever
// process performs a local mutation and travels verbatim in broadcast and
// persistence payloads, so every observer agrees on when a change happened.
type Object struct {
	ID         string         `json:"id"`
	BoardID    string         `json:"boardId"`
	Type       ObjectType     `json:"type"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Width      float64        `json:"width"`
	Height     float64        `json:"height"`
	Rotation   float64        `json:"rotation"`
	Text       string         `json:"text,omitempty"`
	Color      string         `json:"color,omitempty"`
	ZIndex     int            `json:"zIndex"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedBy  string         `json:"createdBy,omitempty"`
	CreatedAt  string         `json:"createdAt,omitempty"`
	UpdatedAt  string         `json:"updatedAt,omitempty"`
}

// Clone returns a copy of o with its own Properties map.
func (o Object) Clone() Object {
	out := o
	if o.Properties != nil {
		out.Properties = make(map[string]any, len(o.Properties))
		for k, v := range o.Properties {
			out.Properties[k] = v
		}
	}
	return out
}

// Defaults captures per-type creation defaults.
type Defaults struct {
	Width  float64
	Height float64
	Color  string
}

var typeDefaults = map[ObjectType]Defaults{
	TypeSticky:    {Width: 200, Height: 200, Color: "#FDE68A"},
	TypeRectangle: {Width: 200, Height: 120, Color: "#93C5FD"},
	TypeCircle:    {Width: 140, Height: 140, Color: "#86EFAC"},
	TypeLine:      {Width: 160, Height: 8, Color: "#111827"},
	TypeText:      {Width: 220, Height: 48},
	TypeConnector: {},
	TypeFrame:     {Width: 480, Height: 360, Color: "#F3F4F6"},
}

// DefaultsFor returns the creation defaults for t.
func DefaultsFor(t ObjectType) (Defaults, bool) {
	d, ok := typeDefaults[t]
	return d, ok
}

// ApplyChanges returns o with the change set merged over it. Keys use wire
// names; unknown keys land in Properties, and a "properties" key merges
// key-by-key rather than replacing the map. Values of an unexpected type
// leave the field untouched.
func ApplyChanges(o Object, changes map[string]any) Object {
	out := o.Clone()
	for key, value := range changes {
		switch key {
		case "id":
			setString(&out.ID, value)
		case "boardId":
			setString(&out.BoardID, value)
		case "type":
			var t string
			if setString(&t, value) && ObjectType(t).Valid() {
				out.Type = ObjectType(t)
			}
		case "x":
			setFloat(&out.X, value)
		case "y":
			setFloat(&out.Y, value)
		case "width":
			setFloat(&out.Width, value)
		case "height":
			setFloat(&out.Height, value)
		case "rotation":
			setFloat(&out.Rotation, value)
		case "text":
			setString(&out.Text, value)
		case "color":
			setString(&out.Color, value)
		case "zIndex":
			setInt(&out.ZIndex, value)
		case "properties":
			if m, ok := value.(map[string]any); ok {
				if out.Properties == nil {
					out.Properties = make(map[string]any, len(m))
				}
				for k, v := range m {
					out.Properties[k] = v
				}
			}
		case "createdBy":
			setString(&out.CreatedBy, value)
		case "createdAt":
			setString(&out.CreatedAt, value)
		case "updatedAt":
			setString(&out.UpdatedAt, value)
		default:
			if out.Properties == nil {
				out.Properties = make(map[string]any, 1)
			}
			out.Properties[key] = value
		}
	}
	return out
}

func setString(dst *string, value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	*dst = s
	return true
}

func setFloat(dst *float64, value any) bool {
	switch v := value.(type) {
	case float64:
		*dst = v
	case float32:
		*dst = float64(v)
	case int:
		*dst = float64(v)
	case int64:
		*dst = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return false
		}
		*dst = f
	default:
		return false
	}
	return true
}

func setInt(dst *int, value any) bool {
	switch v := value.(type) {
	case float64:
		*dst = int(v)
	case int:
		*dst = v
	case int64:
		*dst = int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return false
		}
		*dst = int(i)
	default:
		return false
	}
	return true
}
