package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/krishimitra/relay/backend/model"
	"github.com/krishimitra/relay/backend/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *memory.MemStore) {
	t.Helper()
	logger := zerolog.Nop()
	store := memory.NewMemStore()
	return NewServer(Config{Logger: &logger, RoomStore: store}), store
}

func get(t *testing.T, srv *Server, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func TestServer_Rooms(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.Register("a", "r1", model.ModeVideo, model.RoleFarmer, "Ravi"))
	require.NoError(t, store.Register("b", "r1", model.ModeVideo, model.RoleExpert, ""))

	var list struct {
		Data []model.RoomInfo `json:"data"`
	}
	assert.Equal(t, http.StatusOK, get(t, srv, "/api/rooms", &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "r1", list.Data[0].ID)
	assert.Equal(t, model.StateReady, list.Data[0].State)

	var room struct {
		Data struct {
			ID           string              `json:"roomId"`
			Mode         model.Mode          `json:"mode"`
			State        model.State         `json:"state"`
			Participants []model.Participant `json:"participants"`
		} `json:"data"`
	}
	assert.Equal(t, http.StatusOK, get(t, srv, "/api/rooms/r1", &room))
	assert.Equal(t, "r1", room.Data.ID)
	assert.Equal(t, model.ModeVideo, room.Data.Mode)
	assert.Equal(t, model.StateReady, room.Data.State)
	require.Len(t, room.Data.Participants, 2)
	assert.Equal(t, "Ravi", room.Data.Participants[0].Name)

	var missing GenericResponse
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/rooms/nope", &missing))
	assert.Equal(t, memory.ErrRoomNotFound.Error(), missing.Error)
}

func TestServer_Messages(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.Register("a", "c1", model.ModeChat, model.RoleFarmer, ""))
	store.AppendMessage("c1", model.ChatMessage{ConnID: "a", Sender: "Ravi", Message: "hello"}, 10)

	var resp struct {
		Data []model.ChatMessage `json:"data"`
	}
	assert.Equal(t, http.StatusOK, get(t, srv, "/api/rooms/c1/messages", &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "hello", resp.Data[0].Message)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/rooms/c2/messages", nil))
}

func TestServer_HealthAndCORS(t *testing.T) {
	srv, _ := newTestServer(t)

	var health GenericResponse
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz", &health))
	assert.Equal(t, "OK", health.Message)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/rooms", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
