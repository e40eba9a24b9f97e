package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

func roomRouter(repo *mocks.RoomRepositoryMock, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	})
	NewRoomHandler(repo).Register(router)
	return router
}

func TestCreateRoom(t *testing.T) {
	repo := new(mocks.RoomRepositoryMock)
	room := models.Room{RoomID: "r1", Name: "general", OwnerID: "alice", CreatedAt: time.Now()}
	repo.On("CreateRoom", mock.Anything, "alice", "general", []string{"bob"}).Return(room, nil)

	router := roomRouter(repo, "alice")
	body := strings.NewReader(`{"name":"general","memberIds":["bob"]}`)
	req := httptest.NewRequest(http.MethodPost, "/rooms", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"roomId":"r1"`)
	repo.AssertExpectations(t)
}

func TestCreateRoomRejectsMissingName(t *testing.T) {
	repo := new(mocks.RoomRepositoryMock)
	router := roomRouter(repo, "alice")

	req := httptest.NewRequest(http.MethodPost, "/rooms", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	repo.AssertNotCalled(t, "CreateRoom")
}

func TestGetRoom(t *testing.T) {
	repo := new(mocks.RoomRepositoryMock)
	room := models.Room{RoomID: "r1", Name: "general", OwnerID: "alice"}
	repo.On("IsMember", mock.Anything, "r1", "bob").Return(true, nil)
	repo.On("GetRoom", mock.Anything, "r1").Return(room, nil)
	repo.On("Members", mock.Anything, "r1").Return([]string{"alice", "bob"}, nil)

	router := roomRouter(repo, "bob")
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"roomId":"r1"`)
	assert.Contains(t, w.Body.String(), `"members":["alice","bob"]`)
}

func TestGetRoomNonMemberForbidden(t *testing.T) {
	repo := new(mocks.RoomRepositoryMock)
	repo.On("IsMember", mock.Anything, "r1", "mallory").Return(false, nil)

	router := roomRouter(repo, "mallory")
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	repo.AssertNotCalled(t, "GetRoom")
}

func TestGetRoomNotFound(t *testing.T) {
	repo := new(mocks.RoomRepositoryMock)
	repo.On("IsMember", mock.Anything, "r1", "bob").Return(true, nil)
	repo.On("GetRoom", mock.Anything, "r1").Return(nil, repositories.ErrRoomNotFound)

	router := roomRouter(repo, "bob")
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
