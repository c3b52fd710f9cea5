package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toms-api/internal/models"
	"github.com/noah-isme/toms-api/internal/service"
	"github.com/noah-isme/toms-api/pkg/database"
	appErrors "github.com/noah-isme/toms-api/pkg/errors"
	"github.com/noah-isme/toms-api/pkg/middleware/session"
	"github.com/noah-isme/toms-api/pkg/response"
)

type proposalSelectorMock struct {
	current  int64
	setErr   error
	setCalls []int64
}

func (m *proposalSelectorMock) Permissions() models.UserPermission {
	return models.PermRead | models.PermPrint | models.PermWrite
}

func (m *proposalSelectorMock) CurrentProposal(ctx context.Context, sessionID string) (int64, error) {
	return m.current, nil
}

func (m *proposalSelectorMock) SetCurrentProposal(ctx context.Context, sessionID string, proposalID int64) error {
	m.setCalls = append(m.setCalls, proposalID)
	if m.setErr != nil {
		return m.setErr
	}
	m.current = proposalID
	return nil
}

type nopBeginner struct{}

func (nopBeginner) Begin(context.Context) (database.Tx, error) { return &nopTx{}, nil }

type nopTx struct{ database.Tx }

func (t *nopTx) Commit() error   { return nil }
func (t *nopTx) Rollback() error { return nil }

func newSessionContext(method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	session.Set(c, "session-1")
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data interface{}) response.Envelope {
	t.Helper()
	env := response.Envelope{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestSessionHandlerSetCurrentProposal(t *testing.T) {
	selector := &proposalSelectorMock{}
	handler := NewSessionHandler(selector, service.NewTransactionCoordinator(nopBeginner{}, nil))

	c, w := newSessionContext(http.MethodPut, "/session/proposal", []byte(`{"proposalId":7}`))
	handler.SetCurrentProposal(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{7}, selector.setCalls)

	var body map[string]interface{}
	decodeEnvelope(t, w, &body)
	assert.Equal(t, float64(7), body["proposalId"])
	assert.Equal(t, "WRITE", body["permissions"])
}

func TestSessionHandlerSetCurrentProposalInvalid(t *testing.T) {
	selector := &proposalSelectorMock{}
	handler := NewSessionHandler(selector, service.NewTransactionCoordinator(nopBeginner{}, nil))

	c, w := newSessionContext(http.MethodPut, "/session/proposal", []byte(`{}`))
	handler.SetCurrentProposal(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, selector.setCalls)

	selector.setErr = appErrors.Clone(appErrors.ErrNotFound, "proposal not found")
	c, w = newSessionContext(http.MethodPut, "/session/proposal", []byte(`{"proposalId":42}`))
	handler.SetCurrentProposal(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandlerTransactionLifecycle(t *testing.T) {
	coord := service.NewTransactionCoordinator(nopBeginner{}, nil)
	handler := NewSessionHandler(&proposalSelectorMock{}, coord)

	c, w := newSessionContext(http.MethodPost, "/session/transaction", nil)
	handler.StartTransaction(c)
	require.Equal(t, http.StatusCreated, w.Code)
	var status map[string]interface{}
	decodeEnvelope(t, w, &status)
	assert.Equal(t, true, status["open"])
	assert.NotEmpty(t, status["groupId"])

	c, w = newSessionContext(http.MethodPost, "/session/transaction/commit", nil)
	handler.CommitTransaction(c)
	require.Equal(t, http.StatusOK, w.Code)
	status = map[string]interface{}{}
	decodeEnvelope(t, w, &status)
	assert.Equal(t, false, status["open"])

	c, w = newSessionContext(http.MethodPost, "/session/transaction/commit", nil)
	handler.CommitTransaction(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newSessionContext(http.MethodPost, "/session/transaction/rollback", nil)
	handler.RollbackTransaction(c)
	assert.Equal(t, http.StatusOK, w.Code)
}
