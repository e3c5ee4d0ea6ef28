// Package credential encodes session state into the payload rendered by
// display clients and decoded by capture clients. Encoding is a pure function
// of (sessionID, token, subject) so both sides always agree on the format.
package credential

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/rollcall-io/rollcall/internal/models"
)

// ErrMalformedPayload indicates a scanned payload that does not decode to a
// (sessionID, token) pair.
var ErrMalformedPayload = errors.New("malformed credential payload")

// qrImageSize is the pixel width of the rendered QR PNG.
const qrImageSize = 256

// payloadBody is the wire shape of the credential. The subject rides along
// for display-side labeling only; capture clients need just sessionId and
// token.
type payloadBody struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Subject   string `json:"subject,omitempty"`
}

// Encode serializes the credential triple into its JSON payload.
func Encode(sessionID, token uuid.UUID, subjectCode string) string {
	body := payloadBody{
		SessionID: sessionID.String(),
		Token:     token.String(),
		Subject:   subjectCode,
	}
	// Marshalling a flat struct of strings cannot fail.
	data, _ := json.Marshal(body)
	return string(data)
}

// Decode parses a scanned payload back into its session and token ids.
// The subject is returned as-is and may be empty.
func Decode(payload string) (sessionID, token uuid.UUID, subjectCode string, err error) {
	var body payloadBody
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return uuid.Nil, uuid.Nil, "", fmt.Errorf("%w: %s", ErrMalformedPayload, err)
	}
	sessionID, err = uuid.Parse(body.SessionID)
	if err != nil {
		return uuid.Nil, uuid.Nil, "", fmt.Errorf("%w: bad session id", ErrMalformedPayload)
	}
	token, err = uuid.Parse(body.Token)
	if err != nil {
		return uuid.Nil, uuid.Nil, "", fmt.Errorf("%w: bad token", ErrMalformedPayload)
	}
	return sessionID, token, body.Subject, nil
}

// RenderDataURL renders a payload as a PNG QR code wrapped in a data URL,
// the artifact display clients put on screen.
func RenderDataURL(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to render QR image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// New builds the full credential projection for a session's current token.
// A QR rendering failure is returned alongside a credential that still
// carries the payload, so a rotation is never blocked on image generation.
func New(sessionID, token uuid.UUID, subjectCode string, issuedAt time.Time) (models.Credential, error) {
	payload := Encode(sessionID, token, subjectCode)
	cred := models.Credential{
		SessionID:   sessionID,
		Token:       token,
		SubjectCode: subjectCode,
		Payload:     payload,
		IssuedAt:    issuedAt,
	}

	dataURL, err := RenderDataURL(payload)
	if err != nil {
		return cred, err
	}
	cred.QRDataURL = dataURL
	return cred, nil
}
