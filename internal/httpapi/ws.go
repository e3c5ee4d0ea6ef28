package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rollcall-io/rollcall/internal/models"
	"github.com/rollcall-io/rollcall/internal/server"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Display clients are same-deployment dashboards; origin policy is the
	// reverse proxy's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// credentialFrame is the JSON message pushed to display clients on every
// rotation, matching the shape the dashboard renders.
type credentialFrame struct {
	SessionID string    `json:"sessionId"`
	Subject   string    `json:"subject"`
	Token     string    `json:"token"`
	QRData    string    `json:"qrData,omitempty"`
	Payload   string    `json:"payload"`
	IssuedAt  time.Time `json:"issuedAt"`
}

func toCredentialFrame(cred models.Credential) credentialFrame {
	return credentialFrame{
		SessionID: cred.SessionID.String(),
		Subject:   cred.SubjectCode,
		Token:     cred.Token.String(),
		QRData:    cred.QRDataURL,
		Payload:   cred.Payload,
		IssuedAt:  cred.IssuedAt,
	}
}

// streamCredentials upgrades the connection and forwards every rotated
// credential for the subject until the session ends or the client leaves.
func (h *Handler) streamCredentials(c *gin.Context) {
	subjectCode := c.Param("code")

	sub, err := h.svc.SubscribeCredentialUpdates(c.Request.Context(), subjectCode)
	if err != nil {
		if errors.Is(err, server.ErrInvalidSubject) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("Failed to subscribe")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe"})
		return
	}
	defer h.svc.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Read pump: we expect no client messages, but reading is the only way
	// to notice the peer going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := h.log.With().Str("subject", subjectCode).Logger()
	log.Debug().Msg("Display client connected")

	for {
		select {
		case cred := <-sub.Updates():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(toCredentialFrame(cred)); err != nil {
				log.Debug().Err(err).Msg("Display client disconnected")
				return
			}
		case <-sub.Done():
			// Session over: drain nothing, tell the client, go away.
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		case <-clientGone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
