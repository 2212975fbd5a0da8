// internal/handler/webhook_handler.go
package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/gatherly/invites-backend/internal/service"
)

// WebhookHandler holds the dependencies for the provider webhook endpoints
type WebhookHandler struct {
	Callbacks   *service.CallbackService
	VerifyToken string
	Log         *zap.SugaredLogger
}

// webhookPayload mirrors the provider's callback envelope: a batch of
// delivery statuses and/or inbound user messages.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					ID          string `json:"id"`
					Status      string `json:"status"`
					Timestamp   string `json:"timestamp"`
					RecipientID string `json:"recipient_id"`
					Errors      []struct {
						Title string `json:"title"`
					} `json:"errors"`
				} `json:"statuses"`
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Button struct {
						Text string `json:"text"`
					} `json:"button"`
					Context struct {
						ID string `json:"id"`
					} `json:"context"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Verify handles the provider's GET subscription handshake: echo the
// challenge back only when the shared verify token matches.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || token != h.VerifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Receive handles the provider's POST callbacks. It always answers 200 for
// parseable bodies: the provider retries non-2xx responses, and duplicate
// deliveries are already absorbed by the guarded status update.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid webhook body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				upd := service.StatusUpdate{
					ProviderMessageID: st.ID,
					Recipient:         st.RecipientID,
					Status:            st.Status,
				}
				if len(st.Errors) > 0 {
					upd.Error = st.Errors[0].Title
				}
				h.Callbacks.HandleStatus(ctx, upd)
			}

			for _, msg := range change.Value.Messages {
				h.Callbacks.HandleInbound(ctx, service.InboundMessage{
					From:             msg.From,
					Type:             msg.Type,
					Text:             msg.Text.Body,
					ButtonText:       msg.Button.Text,
					RepliedMessageID: msg.Context.ID,
				})
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}
