package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-huddle/internal/database"
	"github.com/npezzotti/go-huddle/internal/server"
	"github.com/npezzotti/go-huddle/internal/types"
)

const maxDisplayNameLen = 32

type UpdateProfileRequest struct {
	DisplayName string `json:"displayName"`
	AvatarUrl   string `json:"avatarUrl"`
}

func (s *HuddleApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *HuddleApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.writeError(w, r, NewServiceUnavailableError(fmt.Errorf("health check: %w", err)))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *HuddleApp) updateProfile(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, NewBadRequestError())
		return
	}

	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.DisplayName == "" || utf8.RuneCountInString(req.DisplayName) > maxDisplayNameLen {
		s.writeError(w, r, NewBadRequestError())
		return
	}

	user, err := s.db.UpdateProfile(database.UpdateProfileParams{
		UserId:      userId,
		DisplayName: req.DisplayName,
		AvatarUrl:   req.AvatarUrl,
	})
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeError(w, r, errResp)
		return
	}

	profile := types.Profile{
		UserId:      user.Id,
		DisplayName: user.DisplayName,
		AvatarUrl:   user.AvatarUrl,
	}
	s.cs.ProfileUpdated(profile)

	s.writeJson(w, http.StatusOK, profile)
}

func (s *HuddleApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, r, NewUnauthorizedError())
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(conn, s.cs, userId, s.log)
	if !s.cs.RegisterClient(client) {
		s.log.Printf("chat server stopped, closing connection %s for user %d", client.Id(), userId)
		conn.Close()
		return
	}
	s.log.Printf("user %d opened connection %s from %s", userId, client.Id(), r.RemoteAddr)

	go client.Write()
	go client.Read()
}
