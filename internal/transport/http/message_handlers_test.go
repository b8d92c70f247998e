package http

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiresync/internal/core"
	"github.com/vovakirdan/wiresync/internal/proto"
)

func TestMessagesRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)
	room := e.createRoom(t, "Chat")
	path := "/api/rooms/" + room.ID + "/messages"

	status, body := e.do(t, http.MethodPost, path, map[string]string{"content": " hi there "}, "")
	require.Equal(t, http.StatusCreated, status, string(body))
	var sent proto.EventMessage
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, "hi there", sent.Text)
	assert.Equal(t, testAddress, sent.User)
	assert.Equal(t, room.ID, sent.Room)

	status, body = e.do(t, http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusOK, status)
	var history proto.EventHistory
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, sent, history.Messages[0])

	status, _ = e.do(t, http.MethodDelete, path, nil, "")
	require.Equal(t, http.StatusNoContent, status)
	_, body = e.do(t, http.MethodGet, path, nil, "")
	require.NoError(t, json.Unmarshal(body, &history))
	assert.Empty(t, history.Messages)

	status, _ = e.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/close", nil, "")
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = e.do(t, http.MethodPost, "/api/rooms/"+room.ID+"/close", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, e.channels.Rooms())
}

func TestSendMessageErrors(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)
	room := e.createRoom(t, "Chat")
	path := "/api/rooms/" + room.ID + "/messages"

	status, body := e.do(t, http.MethodPost, path, map[string]string{"content": "   "}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, core.ErrCodeEmptyMessage, decodeError(t, body).Code)

	status, _ = e.do(t, http.MethodPost, "/api/rooms/missing/messages", map[string]string{"content": "hi"}, "")
	assert.Equal(t, http.StatusNotFound, status)

	e.wallet.Disconnect()
	status, body = e.do(t, http.MethodPost, path, map[string]string{"content": "hi"}, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, core.ErrCodeIdentityAbsent, decodeError(t, body).Code)
}

func TestConnectionAndWalletEndpoints(t *testing.T) {
	e := newTestEnv(t)

	status, body := e.do(t, http.MethodGet, "/api/connection", nil, "")
	require.Equal(t, http.StatusOK, status)
	var conn proto.EventConnection
	require.NoError(t, json.Unmarshal(body, &conn))
	assert.Equal(t, "disconnected", conn.State)

	status, body = e.do(t, http.MethodPost, "/api/connection/reconnect", nil, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, core.ErrCodeIdentityAbsent, decodeError(t, body).Code)

	status, body = e.do(t, http.MethodPost, "/api/wallet/connect", map[string]string{"address": testAddress}, "")
	require.Equal(t, http.StatusOK, status)
	var wallet WalletResponse
	require.NoError(t, json.Unmarshal(body, &wallet))
	assert.Equal(t, WalletResponse{Address: testAddress, Connected: true}, wallet)

	status, _ = e.do(t, http.MethodPost, "/api/connection/reconnect", nil, "")
	assert.Equal(t, http.StatusAccepted, status)

	status, body = e.do(t, http.MethodPost, "/api/wallet/disconnect", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &wallet))
	assert.False(t, wallet.Connected)

	status, _ = e.do(t, http.MethodPost, "/api/wallet/connect", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, status)
}
