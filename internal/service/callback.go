// internal/service/callback.go
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gatherly/invites-backend/internal/broadcast"
	"github.com/gatherly/invites-backend/internal/model"
	"github.com/gatherly/invites-backend/internal/repository"
	"github.com/gatherly/invites-backend/internal/transport"
)

// CallbackGuestStore defines the guest methods the callback paths need
type CallbackGuestStore interface {
	ApplyStatus(guestID int, newStatus model.Status) (*model.StatusTransition, error)
	RecordSendError(guestID int, message string) error
	FindByReply(providerMessageID, phoneSuffix string) (*model.Guest, error)
	FindByProviderMessageID(providerMessageID string) (*model.Guest, error)
	CountByStatus(eventID int) (map[model.Status]int, error)
}

// StatusUpdate is one delivery status callback from the provider.
type StatusUpdate struct {
	ProviderMessageID string
	Recipient         string
	Status            string
	Error             string
}

// InboundMessage is one user message forwarded by the provider.
type InboundMessage struct {
	From             string
	Type             string
	Text             string
	ButtonText       string
	RepliedMessageID string
}

// CallbackService reconciles asynchronous provider callbacks (delivery
// receipts and guest replies) with the authoritative guest state. Every
// transition goes through the guarded conditional update, so duplicate and
// out-of-order callbacks are absorbed as no-ops.
type CallbackService struct {
	Guests        CallbackGuestStore
	Events        repository.EventRepositoryInterface
	Transport     transport.Sender
	Broadcast     broadcast.Broadcaster
	PublicBaseURL string
	Log           *zap.SugaredLogger
}

// providerStatuses maps the provider's status strings onto the lifecycle.
var providerStatuses = map[string]model.Status{
	"delivered": model.StatusDelivered,
	"read":      model.StatusRead,
	"failed":    model.StatusFailed,
}

// HandleStatus applies one delivery status callback.
func (s *CallbackService) HandleStatus(ctx context.Context, upd StatusUpdate) {
	newStatus, ok := providerStatuses[upd.Status]
	if !ok {
		s.Log.Debugw("ignoring provider status", "status", upd.Status, "provider_id", upd.ProviderMessageID)
		return
	}

	guest, err := s.Guests.FindByProviderMessageID(upd.ProviderMessageID)
	if err != nil {
		s.Log.Errorw("status callback lookup failed", "provider_id", upd.ProviderMessageID, "err", err)
		return
	}
	if guest == nil {
		s.Log.Debugw("status callback for unknown message", "provider_id", upd.ProviderMessageID)
		return
	}

	if newStatus == model.StatusFailed && upd.Error != "" {
		if err := s.Guests.RecordSendError(guest.ID, upd.Error); err != nil {
			s.Log.Errorw("record send error failed", "guest_id", guest.ID, "err", err)
		}
	}

	s.apply(guest.ID, newStatus)
}

// HandleInbound reconciles a guest reply. Replies that reference one of our
// outbound messages and match a recognized RSVP keyword flip the guest to
// confirmed or declined; everything else is logged and ignored.
func (s *CallbackService) HandleInbound(ctx context.Context, msg InboundMessage) {
	if msg.RepliedMessageID == "" {
		s.Log.Debugw("inbound message is not a reply", "from", msg.From)
		return
	}

	guest, err := s.Guests.FindByReply(msg.RepliedMessageID, phoneSuffix(msg.From))
	if err != nil {
		s.Log.Errorw("reply lookup failed", "replied_id", msg.RepliedMessageID, "err", err)
		return
	}
	if guest == nil {
		s.Log.Infow("reply matched no guest", "replied_id", msg.RepliedMessageID, "from", msg.From)
		return
	}

	event, err := s.Events.GetByID(guest.EventID)
	if err != nil || event == nil {
		s.Log.Errorw("event lookup failed", "event_id", guest.EventID, "err", err)
		return
	}

	body := msg.Text
	if msg.Type == "button" {
		body = msg.ButtonText
	}

	intent := MatchRSVP(body, event.Locale)
	if intent == RSVPUnknown {
		s.Log.Infow("unrecognized reply", "guest_id", guest.ID, "body", body)
		return
	}

	newStatus := model.StatusConfirmed
	if intent == RSVPDecline {
		newStatus = model.StatusDeclined
	}

	tr := s.apply(guest.ID, newStatus)
	if tr == nil {
		return // already terminal; do not re-send follow-ups
	}

	// follow-up sends are fire-and-forget: the RSVP is committed whether
	// or not these reach the guest
	s.sendFollowUps(ctx, guest, event, intent)
}

func (s *CallbackService) apply(guestID int, newStatus model.Status) *model.StatusTransition {
	tr, err := s.Guests.ApplyStatus(guestID, newStatus)
	if err != nil {
		s.Log.Errorw("status transition failed", "guest_id", guestID, "status", newStatus, "err", err)
		return nil
	}
	if tr == nil {
		s.Log.Debugw("stale status callback absorbed", "guest_id", guestID, "status", newStatus)
		return nil
	}

	s.Broadcast.Publish(tr.EventID, broadcast.KindGuestUpdate, *tr)
	if counts, err := s.Guests.CountByStatus(tr.EventID); err == nil {
		s.Broadcast.Publish(tr.EventID, broadcast.KindCountersUpdate, counts)
	}
	return tr
}

func (s *CallbackService) sendFollowUps(ctx context.Context, g *model.Guest, ev *model.Event, intent RSVPIntent) {
	var body string
	switch intent {
	case RSVPConfirm:
		body = RenderTemplate(confirmReplyBody(ev.Locale), map[string]string{
			"name":  g.Name,
			"event": ev.Name,
		})
	case RSVPDecline:
		body = RenderTemplate(declineReplyBody(ev.Locale), map[string]string{
			"name":  g.Name,
			"event": ev.Name,
		})
	default:
		return
	}

	s.sendDirect(ctx, g, body)

	if intent == RSVPConfirm && ev.CheckInEnabled {
		link := fmt.Sprintf("%s/events/%d/guests/%d/qr.png", s.PublicBaseURL, ev.ID, g.ID)
		payload, err := BuildImagePayload(g.Phone, link)
		if err != nil {
			s.Log.Warnw("qr payload build failed", "guest_id", g.ID, "err", err)
			return
		}
		if _, err := s.Transport.Send(ctx, payload); err != nil {
			s.Log.Warnw("qr follow-up send failed", "guest_id", g.ID, "err", err)
		}
	}
}

func (s *CallbackService) sendDirect(ctx context.Context, g *model.Guest, body string) {
	payload, err := BuildTextPayload(g.Phone, body)
	if err != nil {
		s.Log.Warnw("follow-up payload build failed", "guest_id", g.ID, "err", err)
		return
	}
	if _, err := s.Transport.Send(ctx, payload); err != nil {
		s.Log.Warnw("follow-up send failed", "guest_id", g.ID, "err", err)
	}
}

// RSVPIntent is the recognized meaning of a guest reply.
type RSVPIntent int

const (
	RSVPUnknown RSVPIntent = iota
	RSVPConfirm
	RSVPDecline
)

// rsvpKeywords maps exact (normalized) reply bodies per locale.
var rsvpKeywords = map[string]map[string]RSVPIntent{
	"en": {
		"yes":           RSVPConfirm,
		"confirm":       RSVPConfirm,
		"i'll be there": RSVPConfirm,
		"no":            RSVPDecline,
		"decline":       RSVPDecline,
		"can't make it": RSVPDecline,
	},
	"pt-BR": {
		"sim":      RSVPConfirm,
		"confirmo": RSVPConfirm,
		"eu vou":   RSVPConfirm,
		"não":      RSVPDecline,
		"nao":      RSVPDecline,
		"não vou":  RSVPDecline,
		"nao vou":  RSVPDecline,
	},
}

// MatchRSVP maps a reply body to an intent with an exact, locale-aware
// keyword match. Unknown locales fall back to English.
func MatchRSVP(body, locale string) RSVPIntent {
	keywords, ok := rsvpKeywords[locale]
	if !ok {
		keywords = rsvpKeywords["en"]
	}

	normalized := strings.ToLower(strings.TrimSpace(body))
	if intent, ok := keywords[normalized]; ok {
		return intent
	}
	return RSVPUnknown
}

func confirmReplyBody(locale string) string {
	if locale == "pt-BR" {
		return "Obrigado, {name}! Sua presença em {event} está confirmada."
	}
	return "Thank you, {name}! You're confirmed for {event}."
}

func declineReplyBody(locale string) string {
	if locale == "pt-BR" {
		return "Tudo bem, {name}. Sentiremos sua falta em {event}."
	}
	return "No problem, {name}. We'll miss you at {event}."
}

// phoneSuffix returns the last 9 digits of a phone-ish string, the
// heuristic key for matching reply senders to stored guest numbers that may
// differ in country-code formatting.
func phoneSuffix(phone string) string {
	digits := make([]rune, 0, len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) > 9 {
		digits = digits[len(digits)-9:]
	}
	return string(digits)
}
