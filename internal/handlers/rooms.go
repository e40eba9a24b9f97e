package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// RoomHandler exposes room management over REST. Message traffic stays on the
// websocket; these endpoints only create rooms and answer membership lookups.
type RoomHandler struct {
	repo repositories.RoomRepository
}

// NewRoomHandler constructs a RoomHandler.
func NewRoomHandler(repo repositories.RoomRepository) *RoomHandler {
	return &RoomHandler{repo: repo}
}

// Register wires the room routes. The group is expected to carry the auth
// middleware so userID is present in the context.
func (h *RoomHandler) Register(router gin.IRouter) {
	router.POST("/rooms", h.createRoom)
	router.GET("/rooms/:id", h.getRoom)
}

type createRoomRequest struct {
	Name      string   `json:"name" binding:"required"`
	MemberIDs []string `json:"memberIds"`
}

func (h *RoomHandler) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ownerID := c.GetString("userID")
	room, err := h.repo.CreateRoom(c.Request.Context(), ownerID, req.Name, req.MemberIDs)
	if err != nil {
		log.Printf("create room failed owner=%s request_id=%s: %v",
			ownerID, observability.RequestIDFromRequest(c.Request), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	c.JSON(http.StatusCreated, room)
}

func (h *RoomHandler) getRoom(c *gin.Context) {
	roomID := c.Param("id")
	userID := c.GetString("userID")

	member, err := h.repo.IsMember(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not check membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	room, err := h.repo.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load room"})
		return
	}

	members, err := h.repo.Members(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load members"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": room, "members": members})
}
