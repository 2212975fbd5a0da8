// internal/service/template.go
package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gatherly/invites-backend/internal/model"
)

// inviteTemplateName is the pre-approved provider template for invites.
const inviteTemplateName = "event_invite"

// RenderTemplate substitutes {placeholder} tokens in free-form message text.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		if v == "" {
			v = "N/A"
		}
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// BuildInvitePayload assembles the transport-ready template message for one
// guest. The result is the opaque payload stored on the outbox entry.
func BuildInvitePayload(g *model.Guest, ev *model.Event) (json.RawMessage, error) {
	if g.Phone == "" {
		return nil, fmt.Errorf("guest %d has no phone number", g.ID)
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                g.Phone,
		"type":              "template",
		"template": map[string]any{
			"name": inviteTemplateName,
			"language": map[string]any{
				"code": localeCode(ev.Locale),
			},
			"components": []any{
				map[string]any{
					"type": "body",
					"parameters": []any{
						templateText(g.Name),
						templateText(ev.Name),
						templateText(ev.Venue),
						templateText(ev.StartsAt.Format("Mon, 2 Jan 2006 15:04")),
					},
				},
			},
		},
	}
	return json.Marshal(payload)
}

// BuildTextPayload assembles a plain text message, used for the RSVP
// follow-up sends.
func BuildTextPayload(to, body string) (json.RawMessage, error) {
	if to == "" {
		return nil, fmt.Errorf("empty recipient")
	}
	return json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": body},
	})
}

// BuildImagePayload assembles an image-by-link message (check-in QR codes).
func BuildImagePayload(to, link string) (json.RawMessage, error) {
	if to == "" {
		return nil, fmt.Errorf("empty recipient")
	}
	return json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "image",
		"image":             map[string]any{"link": link},
	})
}

func templateText(text string) map[string]any {
	if text == "" {
		text = "N/A"
	}
	return map[string]any{"type": "text", "text": text}
}

func localeCode(locale string) string {
	switch locale {
	case "pt-BR":
		return "pt_BR"
	case "", "en":
		return "en"
	default:
		return locale
	}
}
