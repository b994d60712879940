package rest_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmate-app/chatmate/server/model"
)

// twoUsers signs up Alice and Bob and returns their tokens and IDs.
func twoUsers(t *testing.T, s serverFixture) (aliceToken, bobToken string, aliceID, bobID int64) {
	t.Helper()
	aliceToken = signupFlow(t, s.router, s.cache, "Alice", "alice@example.com", "secret123")
	bobToken = signupFlow(t, s.router, s.cache, "Bob", "bob@example.com", "secret123")

	var alice, bob model.User
	require.NoError(t, s.db.Where("email = ?", "alice@example.com").First(&alice).Error)
	require.NoError(t, s.db.Where("email = ?", "bob@example.com").First(&bob).Error)
	return aliceToken, bobToken, alice.ID, bob.ID
}

func TestMessages_SendAndHistory(t *testing.T) {
	s := newFixture(t)
	aliceToken, bobToken, _, bobID := twoUsers(t, s)

	w := doJSON(s.router, http.MethodPost, "/api/chat/"+itoa(bobID),
		gin.H{"content": "hello bob"}, aliceToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	msg := body["message"].(map[string]interface{})
	assert.Equal(t, "hello bob", msg["content"])
	sender := msg["sender"].(map[string]interface{})
	assert.Equal(t, "Alice", sender["name"])

	// Bob sees the same message in his view of the conversation.
	var alice model.User
	require.NoError(t, s.db.Where("email = ?", "alice@example.com").First(&alice).Error)
	w = doJSON(s.router, http.MethodGet, "/api/chat/"+itoa(alice.ID), nil, bobToken)
	require.Equal(t, http.StatusOK, w.Code)
	messages := decode(t, w)["messages"].([]interface{})
	require.Len(t, messages, 1)
}

func TestMessages_SendEmpty(t *testing.T) {
	s := newFixture(t)
	aliceToken, _, _, bobID := twoUsers(t, s)

	w := doJSON(s.router, http.MethodPost, "/api/chat/"+itoa(bobID),
		gin.H{"content": "   "}, aliceToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessages_SendToUnknownUser(t *testing.T) {
	s := newFixture(t)
	aliceToken := signupFlow(t, s.router, s.cache, "Alice", "alice@example.com", "secret123")

	w := doJSON(s.router, http.MethodPost, "/api/chat/99999",
		gin.H{"content": "hi"}, aliceToken)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessages_InvalidFriendID(t *testing.T) {
	s := newFixture(t)
	aliceToken := signupFlow(t, s.router, s.cache, "Alice", "alice@example.com", "secret123")

	w := doJSON(s.router, http.MethodGet, "/api/chat/abc", nil, aliceToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessages_MarkRead(t *testing.T) {
	s := newFixture(t)
	aliceToken, bobToken, aliceID, bobID := twoUsers(t, s)

	w := doJSON(s.router, http.MethodPost, "/api/chat/"+itoa(bobID),
		gin.H{"content": "unread"}, aliceToken)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(s.router, http.MethodPut, "/api/chat/"+itoa(aliceID)+"/read", nil, bobToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(s.router, http.MethodGet, "/api/chat/"+itoa(aliceID), nil, bobToken)
	require.Equal(t, http.StatusOK, w.Code)
	messages := decode(t, w)["messages"].([]interface{})
	require.Len(t, messages, 1)
	assert.True(t, messages[0].(map[string]interface{})["read"].(bool))
}
