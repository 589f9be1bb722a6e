package notion

import (
	"fmt"
	"strings"

	"github.com/vietddude/pollmark/internal/core/domain"
)

// maxRichText is the per-object content limit of the API.
const maxRichText = 2000

type page struct {
	ID         string              `json:"id"`
	Archived   bool                `json:"archived"`
	Properties map[string]property `json:"properties"`
}

type property struct {
	Type        string      `json:"type"`
	Title       []richText  `json:"title,omitempty"`
	RichText    []richText  `json:"rich_text,omitempty"`
	Checkbox    bool        `json:"checkbox,omitempty"`
	Select      *selectOpt  `json:"select,omitempty"`
	Email       *string     `json:"email,omitempty"`
	PhoneNumber *string     `json:"phone_number,omitempty"`
	URL         *string     `json:"url,omitempty"`
	Number      *float64    `json:"number,omitempty"`
	Files       []fileEntry `json:"files,omitempty"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type selectOpt struct {
	Name string `json:"name"`
}

type fileEntry struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	File     *fileLink `json:"file,omitempty"`
	External *fileLink `json:"external,omitempty"`
}

type fileLink struct {
	URL string `json:"url"`
}

func decodePage(p page) domain.Row {
	row := domain.Row{ID: p.ID, Properties: make(map[string]domain.Value, len(p.Properties))}
	for name, prop := range p.Properties {
		if v, ok := decodeProperty(prop); ok {
			row.Properties[name] = v
		}
	}
	return row
}

func decodeProperty(p property) (domain.Value, bool) {
	switch p.Type {
	case "title":
		return domain.Title(joinText(p.Title)), true
	case "rich_text":
		return domain.RichText(joinText(p.RichText)), true
	case "checkbox":
		return domain.Checkbox(p.Checkbox), true
	case "select":
		if p.Select == nil {
			return domain.Select(""), true
		}
		return domain.Select(p.Select.Name), true
	case "email":
		return domain.Email(deref(p.Email)), true
	case "phone_number":
		return domain.Phone(deref(p.PhoneNumber)), true
	case "url":
		return domain.URL(deref(p.URL)), true
	case "number":
		if p.Number == nil {
			return domain.Value{Type: domain.PropertyNumber}, true
		}
		return domain.Number(*p.Number), true
	case "files":
		for _, f := range p.Files {
			switch {
			case f.File != nil && f.File.URL != "":
				return domain.Value{Type: domain.PropertyFiles, Text: f.File.URL}, true
			case f.External != nil && f.External.URL != "":
				return domain.Value{Type: domain.PropertyFiles, Text: f.External.URL}, true
			}
		}
		return domain.Value{Type: domain.PropertyFiles}, true
	default:
		return domain.Value{}, false
	}
}

func encodeUpdates(updates map[string]domain.Value) (map[string]any, error) {
	out := make(map[string]any, len(updates))
	for name, v := range updates {
		enc, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		out[name] = enc
	}
	return out, nil
}

func encodeValue(v domain.Value) (map[string]any, error) {
	switch v.Type {
	case domain.PropertyCheckbox:
		return map[string]any{"checkbox": v.Bool}, nil
	case domain.PropertyNumber:
		if v.Number == nil {
			return map[string]any{"number": nil}, nil
		}
		return map[string]any{"number": *v.Number}, nil
	case domain.PropertyRichText:
		return map[string]any{"rich_text": textObjects(v.Text)}, nil
	case domain.PropertyTitle:
		return map[string]any{"title": textObjects(v.Text)}, nil
	case domain.PropertySelect:
		return map[string]any{"select": map[string]any{"name": v.Text}}, nil
	case domain.PropertyEmail:
		return map[string]any{"email": v.Text}, nil
	case domain.PropertyPhone:
		return map[string]any{"phone_number": v.Text}, nil
	case domain.PropertyURL:
		return map[string]any{"url": v.Text}, nil
	default:
		return nil, fmt.Errorf("cannot write %q values: %w", v.Type, domain.ErrUnsupported)
	}
}

// textObjects splits s into chunks within the per-object content limit.
func textObjects(s string) []any {
	runes := []rune(s)
	if len(runes) == 0 {
		return []any{}
	}

	var out []any
	for len(runes) > 0 {
		n := min(len(runes), maxRichText)
		out = append(out, map[string]any{
			"type": "text",
			"text": map[string]any{"content": string(runes[:n])},
		})
		runes = runes[n:]
	}
	return out
}

func joinText(parts []richText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return b.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
