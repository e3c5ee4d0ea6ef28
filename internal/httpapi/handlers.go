package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rollcall-io/rollcall/internal/models"
	"github.com/rollcall-io/rollcall/internal/server"
)

type startSessionRequest struct {
	Subject string `json:"subject"`
}

type credentialResponse struct {
	Payload  string    `json:"payload"`
	QRData   string    `json:"qrData,omitempty"`
	IssuedAt time.Time `json:"issuedAt"`
}

type sessionResponse struct {
	SessionID  string             `json:"sessionId"`
	Subject    string             `json:"subject"`
	ExpiresAt  time.Time          `json:"expiresAt"`
	Credential credentialResponse `json:"credential"`
}

func toSessionResponse(sess *models.Session, cred *models.Credential) sessionResponse {
	return sessionResponse{
		SessionID: sess.ID.String(),
		Subject:   sess.SubjectCode,
		ExpiresAt: sess.ExpiresAt,
		Credential: credentialResponse{
			Payload:  cred.Payload,
			QRData:   cred.QRDataURL,
			IssuedAt: cred.IssuedAt,
		},
	}
}

func (h *Handler) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject required"})
		return
	}

	sess, cred, err := h.svc.StartSession(c.Request.Context(), req.Subject)
	if err != nil {
		if errors.Is(err, server.ErrInvalidSubject) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("Failed to start session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(&sess, &cred))
}

func (h *Handler) stopSession(c *gin.Context) {
	h.svc.StopSession(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) activeSession(c *gin.Context) {
	sess, cred := h.svc.GetActiveSession(c.Request.Context(), c.Param("code"))
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess, cred))
}

type verifyScanRequest struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	StudentID string `json:"studentId"`
}

type verifyScanResponse struct {
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) verifyScan(c *gin.Context) {
	var req verifyScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId, token and studentId required"})
		return
	}

	outcome, err := h.svc.VerifyScan(c.Request.Context(), req.SessionID, req.Token, req.StudentID)
	if err != nil {
		if errors.Is(err, server.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("Verification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	c.JSON(http.StatusOK, verifyScanResponse{
		Result: string(outcome.Result),
		Reason: string(outcome.Reason),
	})
}

func (h *Handler) listSubjects(c *gin.Context) {
	subjects, err := h.svc.ListSubjects(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list subjects")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list subjects"})
		return
	}

	type subjectResponse struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	out := make([]subjectResponse, 0, len(subjects))
	for _, subject := range subjects {
		out = append(out, subjectResponse{Code: subject.Code, Name: subject.Name})
	}
	c.JSON(http.StatusOK, gin.H{"subjects": out})
}

func (h *Handler) sessionAttendance(c *gin.Context) {
	report, err := h.svc.SessionAttendance(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, server.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("Failed to read attendance")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read attendance"})
		return
	}

	type recordResponse struct {
		StudentID  string    `json:"studentId"`
		RecordedAt time.Time `json:"recordedAt"`
	}
	records := make([]recordResponse, 0, len(report.Records))
	for _, record := range report.Records {
		records = append(records, recordResponse{
			StudentID:  record.StudentID,
			RecordedAt: record.RecordedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": report.SessionID.String(),
		"present":   report.Present,
		"records":   records,
	})
}
