package credential

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sessionID := uuid.Must(uuid.NewV7())
	token := uuid.New()

	payload := Encode(sessionID, token, "SUBJ-1")

	gotSession, gotToken, gotSubject, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, sessionID, gotSession)
	require.Equal(t, token, gotToken)
	require.Equal(t, "SUBJ-1", gotSubject)
}

func TestEncodeDeterministic(t *testing.T) {
	sessionID := uuid.Must(uuid.NewV7())
	token := uuid.New()

	first := Encode(sessionID, token, "SUBJ-1")
	second := Encode(sessionID, token, "SUBJ-1")
	require.Equal(t, first, second)
}

func TestDecodeMalformed(t *testing.T) {
	t.Run("not json", func(t *testing.T) {
		_, _, _, err := Decode("not a payload")
		require.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("bad session id", func(t *testing.T) {
		_, _, _, err := Decode(`{"sessionId":"nope","token":"` + uuid.New().String() + `"}`)
		require.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("missing token", func(t *testing.T) {
		_, _, _, err := Decode(`{"sessionId":"` + uuid.New().String() + `"}`)
		require.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestRenderDataURL(t *testing.T) {
	payload := Encode(uuid.Must(uuid.NewV7()), uuid.New(), "SUBJ-1")

	dataURL, err := RenderDataURL(payload)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))
	require.Greater(t, len(dataURL), len("data:image/png;base64,"))
}

func TestNewCarriesPayloadAndImage(t *testing.T) {
	sessionID := uuid.Must(uuid.NewV7())
	token := uuid.New()
	issuedAt := time.Now()

	cred, err := New(sessionID, token, "SUBJ-1", issuedAt)
	require.NoError(t, err)
	require.Equal(t, sessionID, cred.SessionID)
	require.Equal(t, token, cred.Token)
	require.Equal(t, issuedAt, cred.IssuedAt)
	require.NotEmpty(t, cred.Payload)
	require.NotEmpty(t, cred.QRDataURL)

	gotSession, gotToken, _, err := Decode(cred.Payload)
	require.NoError(t, err)
	require.Equal(t, sessionID, gotSession)
	require.Equal(t, token, gotToken)
}
