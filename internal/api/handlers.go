package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"groupchat/internal/database"
	"groupchat/internal/server"
	"groupchat/internal/types"
)

type RegisterRequest struct {
	Username string `json:"username"`
}

type LoginRequest struct {
	UserCode string `json:"user_code"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

type CreateGroupRequest struct {
	Name            string     `json:"name"`
	ApprovalRequire bool       `json:"approval_require"`
	MaximumMembers  *int       `json:"maximum_members,omitempty"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
}

type JoinGroupRequest struct {
	GroupCode string  `json:"group_code"`
	Message   *string `json:"message,omitempty"`
}

type JoinGroupResponse struct {
	GroupId int    `json:"group_id"`
	Status  string `json:"status"`
}

type JoinDecisionRequest struct {
	UserId  int `json:"user_id"`
	GroupId int `json:"group_id"`
}

func (s *GroupChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func toUser(u database.User) types.User {
	return types.User{
		Id:        u.Id,
		Username:  u.Username,
		UserCode:  u.UserCode,
		CreatedAt: u.CreatedAt,
	}
}

func toGroup(g database.Group) types.Group {
	return types.Group{
		Id:              g.Id,
		Name:            g.Name,
		GroupCode:       g.GroupCode,
		OwnerId:         g.OwnerId,
		ApprovalRequire: g.ApprovalRequire,
		MaximumMembers:  g.MaximumMembers,
		CreatedAt:       g.CreatedAt,
		ExpiredAt:       g.ExpiredAt,
	}
}

func toMessage(m database.Message) types.Message {
	var content string
	if m.Content != nil {
		content = *m.Content
	}

	var attachments []types.Attachment
	for _, a := range m.Attachments {
		attachments = append(attachments, types.Attachment{
			Id:             a.Id,
			Url:            a.Url,
			AttachmentType: a.AttachmentType.String(),
		})
	}

	return types.Message{
		Id:          m.Id,
		MessageUuid: m.MessageUuid.String(),
		UserId:      m.UserId,
		GroupId:     m.GroupId,
		Content:     content,
		MessageType: m.MessageType.String(),
		Attachments: attachments,
		CreatedAt:   m.CreatedAt,
	}
}

func (s *GroupChatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GroupChatApp) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newUser, err := s.db.CreateUser(database.CreateUserParams{
		Username: req.Username,
		UserCode: sid,
	})
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrDuplicateKey) {
			errResp = NewConflictError("user code already exists")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, toUser(newUser))
}

func (s *GroupChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.UserCode == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetUserByCode(lr.UserCode)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := createJwt(s.signingKey, dbUser.UserCode, defaultTokenExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, LoginResponse{
		Token: token,
		User:  toUser(dbUser),
	})
}

func (s *GroupChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetUserById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toUser(user))
}

func (s *GroupChatApp) createGroup(w http.ResponseWriter, r *http.Request) {
	var createGroupReq CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&createGroupReq); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if createGroupReq.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if createGroupReq.MaximumMembers != nil && *createGroupReq.MaximumMembers < 1 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newGroup, err := s.db.CreateGroup(database.CreateGroupParams{
		Name:            createGroupReq.Name,
		GroupCode:       sid,
		OwnerId:         userId,
		ApprovalRequire: createGroupReq.ApprovalRequire,
		MaximumMembers:  createGroupReq.MaximumMembers,
		ExpiredAt:       createGroupReq.ExpiredAt,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, toGroup(newGroup))
}

func (s *GroupChatApp) listGroups(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbGroups, err := s.db.ListParticipantGroups(userId)
	if err != nil {
		s.log.Println("list groups:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var groups []types.Group
	for _, g := range dbGroups {
		groups = append(groups, toGroup(g))
	}

	s.writeJson(w, http.StatusOK, groups)
}

func (s *GroupChatApp) getGroup(w http.ResponseWriter, r *http.Request) {
	groupCode := r.URL.Query().Get("code")
	if groupCode == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, err := s.db.GetGroupByCode(groupCode)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toGroup(group))
}

func (s *GroupChatApp) requestJoin(w http.ResponseWriter, r *http.Request) {
	var joinReq JoinGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&joinReq); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if joinReq.GroupCode == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	group, err := s.db.GetGroupByCode(joinReq.GroupCode)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	result, err := s.db.RequestJoin(userId, group.Id, joinReq.Message)
	if err != nil {
		errResp := joinError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := JoinGroupResponse{GroupId: group.Id, Status: "pending"}
	if result.Participant != nil {
		resp.Status = "joined"
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *GroupChatApp) listJoinRequests(w http.ResponseWriter, r *http.Request) {
	group, errResp := s.ownedGroupFromQuery(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	entries, err := s.db.ListJoinRequests(group.Id)
	if err != nil {
		s.log.Println("list join requests:", err)
		resp := NewInternalServerError(err)
		s.writeJson(w, resp.StatusCode, resp)
		return
	}

	var reqs []types.JoinRequest
	for _, e := range entries {
		jr := types.JoinRequest{
			UserId:    e.UserId,
			GroupId:   e.GroupId,
			CreatedAt: e.CreatedAt,
		}
		if e.Message != nil {
			jr.Message = *e.Message
		}
		reqs = append(reqs, jr)
	}

	s.writeJson(w, http.StatusOK, reqs)
}

func (s *GroupChatApp) approveJoinRequest(w http.ResponseWriter, r *http.Request) {
	req, errResp := s.ownedGroupDecision(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.ApproveJoinRequest(req.UserId, req.GroupId); err != nil {
		resp := joinError(err)
		s.writeJson(w, resp.StatusCode, resp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *GroupChatApp) rejectJoinRequest(w http.ResponseWriter, r *http.Request) {
	req, errResp := s.ownedGroupDecision(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.RejectJoinRequest(req.UserId, req.GroupId); err != nil {
		s.log.Println("reject join request:", err)
		resp := NewInternalServerError(err)
		s.writeJson(w, resp.StatusCode, resp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

// ownedGroupFromQuery resolves the group_id query parameter and verifies
// the requesting user owns the group.
func (s *GroupChatApp) ownedGroupFromQuery(r *http.Request) (database.Group, *ApiError) {
	groupId, err := strconv.Atoi(r.URL.Query().Get("group_id"))
	if err != nil {
		return database.Group{}, NewBadRequestError()
	}

	return s.ownedGroup(r, groupId)
}

// ownedGroupDecision decodes an approve/reject body and verifies the
// requesting user owns the target group.
func (s *GroupChatApp) ownedGroupDecision(r *http.Request) (JoinDecisionRequest, *ApiError) {
	var req JoinDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return JoinDecisionRequest{}, NewBadRequestError()
	}

	if _, errResp := s.ownedGroup(r, req.GroupId); errResp != nil {
		return JoinDecisionRequest{}, errResp
	}

	return req, nil
}

func (s *GroupChatApp) ownedGroup(r *http.Request, groupId int) (database.Group, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return database.Group{}, NewUnauthorizedError()
	}

	group, err := s.db.GetGroupById(groupId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Group{}, NewNotFoundError()
		}
		return database.Group{}, NewInternalServerError(err)
	}

	if group.OwnerId != userId {
		return database.Group{}, NewForbiddenError()
	}

	return group, nil
}

// joinError maps a membership-change failure to its API response.
func joinError(err error) *ApiError {
	switch {
	case errors.Is(err, database.ErrAlreadyMember),
		errors.Is(err, database.ErrAlreadyRequested),
		errors.Is(err, database.ErrGroupFull):
		return NewConflictError(err.Error())
	case errors.Is(err, database.ErrGroupExpired):
		return NewForbiddenError()
	case errors.Is(err, database.ErrNoJoinRequest):
		return NewNotFoundError()
	default:
		return NewInternalServerError(err)
	}
}

func (s *GroupChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	groupId, err := strconv.Atoi(r.URL.Query().Get("group_id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.db.IsParticipant(userId, groupId) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var before, limit int

	beforeStr := r.URL.Query().Get("before")
	if beforeStr != "" {
		before, err = strconv.Atoi(beforeStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.db.GetMessages(groupId, before, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var groupMessages []types.Message
	for _, msg := range messages {
		groupMessages = append(groupMessages, toMessage(msg))
	}

	s.writeJson(w, http.StatusOK, groupMessages)
}

func (s *GroupChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
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

	client := server.NewClient(conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
