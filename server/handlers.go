package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"confab/protocol"
	"confab/store"
)

func (s *Server) handleRegister(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 2 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	username, password := cmd.Args[0], cmd.Args[1]
	if strings.ContainsAny(username, "/\\") {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}

	if err := s.store.RegisterUser(username, password); err != nil {
		s.reply(sess, "FAIL 409 USER_EXISTS")
		return
	}
	s.reply(sess, "SUCCESS 201 REGISTERED "+username)
}

func (s *Server) handleLogin(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 2 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	username, password := cmd.Args[0], cmd.Args[1]

	if !s.store.Authenticate(username, password) {
		s.reply(sess, "FAIL 401 INVALID_LOGIN")
		return
	}

	// Single active session per user: mint the new session, then force the
	// old connection out. Its task discovers the eviction via read failure.
	sid, oldSID := s.store.CreateSession(username)
	if oldSID != "" {
		if oldConn := s.takeOnline(username); oldConn != nil && oldConn != sess.conn {
			s.writeLine(oldConn, "NOTIFY SESSION_EXPIRED "+oldSID)
			oldConn.Close()
		}
		s.store.SetUserStatus(username, "offline")
	}

	sess.sid = sid
	sess.user = username
	s.setOnline(username, sess.conn)
	s.store.SetUserStatus(username, "online")
	s.reply(sess, "SUCCESS 200 SESSION "+sid)
}

func (s *Server) handleAuth(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	sid := cmd.Args[0]

	username, ok := s.store.ResolveSession(sid)
	if !ok {
		s.reply(sess, "FAIL 401 SESSION_EXPIRED")
		return
	}

	sess.sid = sid
	sess.user = username
	s.setOnline(username, sess.conn)
	s.store.SetUserStatus(username, "online")
	s.reply(sess, "SUCCESS 200 AUTH_OK")
}

func (s *Server) handleLogout(sess *session) {
	username, ok := s.store.DeleteSession(sess.sid)
	if !ok {
		s.reply(sess, "FAIL 400 NOT_LOGGED_IN")
		return
	}
	s.removeOnline(username, sess.conn)
	sess.sid = ""
	sess.user = ""
	s.store.SetUserStatus(username, "offline")
	s.reply(sess, "SUCCESS 200 LOGOUT")
}

func (s *Server) handleAddFriend(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	target := cmd.Args[0]

	if !s.store.UserExists(target) {
		s.reply(sess, "FAIL 404 USER_NOT_FOUND "+target)
		return
	}

	s.store.AddPending(target, sess.user)
	s.reply(sess, "SUCCESS 200 REQUEST_SENT "+target)
	s.notify(target, "NOTIFY_FRIEND_REQUEST "+sess.user)
}

func (s *Server) handleConfirmFriend(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	sender := cmd.Args[0]

	if !s.store.TakePending(sess.user, sender) {
		s.reply(sess, "FAIL 404 REQUEST_NOT_FOUND")
		return
	}

	s.store.ConfirmFriend(sess.user, sender, s.presence(sess.user), s.presence(sender))
	s.reply(sess, "SUCCESS 201 FRIEND_ADDED "+sender)
	s.notify(sender, "NOTIFY_FRIEND_ACCEPTED "+sess.user)
}

func (s *Server) handleRejectFriend(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	sender := cmd.Args[0]

	if !s.store.TakePending(sess.user, sender) {
		s.reply(sess, "FAIL 404 REQUEST_NOT_FOUND")
		return
	}

	s.reply(sess, "SUCCESS 200 REJECTED_FRIEND "+sender)
	s.notify(sender, "NOTIFY_FRIEND_REJECTED "+sess.user)
}

func (s *Server) handleGetFriends(sess *session) {
	entries := s.store.Friends(sess.user)
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		// Live presence, not the persisted cache.
		parts = append(parts, e.Name+":"+s.presence(e.Name))
	}
	s.reply(sess, strings.TrimRight("SUCCESS 200 FRIENDS "+strings.Join(parts, " "), " "))
}

func (s *Server) handleInitGroup(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	name := cmd.Args[0]
	if strings.ContainsAny(name, "/\\") {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}

	maxMembers := 20
	if len(cmd.Args) > 1 {
		n, err := strconv.Atoi(cmd.Args[1])
		if err != nil || n < 1 {
			s.reply(sess, "FAIL 400 INVALID_LIMIT")
			return
		}
		maxMembers = n
	}

	if err := s.store.CreateGroup(name, sess.user, maxMembers); err != nil {
		s.reply(sess, "FAIL 409 GROUP_EXISTS")
		return
	}
	s.reply(sess, "SUCCESS 201 GROUP_CREATED "+name)
}

func (s *Server) handleSendInvite(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 2 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	group, target := cmd.Args[0], cmd.Args[1]

	g, ok := s.store.Group(group)
	if !ok {
		s.reply(sess, "FAIL 404 GROUP_NOT_FOUND")
		return
	}
	if g.Creator != sess.user {
		s.reply(sess, "FAIL 403 NO_PERMISSION")
		return
	}
	if contains(g.Members, target) {
		s.reply(sess, "FAIL 409 ALREADY_MEMBER")
		return
	}

	s.store.InviteUser(group, target)
	s.reply(sess, "SUCCESS 200 INVITE_SENT "+target)
	s.notify(target, "NOTIFY_GROUP_INVITE "+group+" "+sess.user)
}

func (s *Server) handleConfirmJoin(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	group := cmd.Args[0]

	switch err := s.store.JoinGroup(group, sess.user); err {
	case nil:
	case store.ErrNotFound:
		s.reply(sess, "FAIL 404 GROUP_NOT_FOUND")
		return
	case store.ErrInviteNotFound:
		s.reply(sess, "FAIL 404 INVITE_NOT_FOUND")
		return
	case store.ErrGroupFull:
		s.reply(sess, "FAIL 403 GROUP_FULL")
		return
	default:
		s.reply(sess, "FAIL 500 SAVE_FAILED")
		return
	}

	s.reply(sess, "SUCCESS 201 JOINED "+group)
	if g, ok := s.store.Group(group); ok {
		for _, member := range g.Members {
			if member != sess.user {
				s.notify(member, "NOTIFY_MEMBER_JOIN "+group+" "+sess.user)
			}
		}
	}
}

func (s *Server) handleRejectJoin(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	group := cmd.Args[0]

	switch err := s.store.RejectInvite(group, sess.user); err {
	case nil:
	case store.ErrNotFound:
		s.reply(sess, "FAIL 404 GROUP_NOT_FOUND")
		return
	default:
		s.reply(sess, "FAIL 404 INVITE_NOT_FOUND")
		return
	}

	s.reply(sess, "SUCCESS 200 REJECTED_JOIN")
	if g, ok := s.store.Group(group); ok {
		s.notify(g.Creator, "NOTIFY_INVITE_REJECTED "+group+" "+sess.user)
	}
}

func (s *Server) handleEjectUser(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 2 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	group, target := cmd.Args[0], cmd.Args[1]

	g, ok := s.store.Group(group)
	if !ok {
		s.reply(sess, "FAIL 404 GROUP_NOT_FOUND")
		return
	}
	if g.Creator != sess.user {
		s.reply(sess, "FAIL 403 NO_PERMISSION")
		return
	}
	if err := s.store.RemoveMember(group, target); err != nil {
		s.reply(sess, "FAIL 404 USER_NOT_FOUND")
		return
	}

	s.reply(sess, "SUCCESS 200 EJECTED "+target)
	s.notify(target, "NOTIFY_EJECTED "+group+" "+sess.user)
	if g, ok := s.store.Group(group); ok {
		for _, member := range g.Members {
			s.notify(member, "NOTIFY_MEMBER_LEFT "+group+" "+target)
		}
	}
}

func (s *Server) handleGetMembers(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	group := cmd.Args[0]

	g, ok := s.store.Group(group)
	if !ok {
		s.reply(sess, "FAIL 404 GROUP_NOT_FOUND")
		return
	}
	if !contains(g.Members, sess.user) {
		s.reply(sess, "FAIL 403 NOT_A_MEMBER")
		return
	}

	parts := make([]string, 0, len(g.Members))
	for _, member := range g.Members {
		role := "member"
		if member == g.Creator {
			role = "admin"
		}
		parts = append(parts, member+":"+role+":"+s.presence(member))
	}
	s.reply(sess, "SUCCESS 200 MEMBERS "+strings.Join(parts, " "))
}

func (s *Server) handleGetGroups(sess *session) {
	groups := s.store.UserGroups(sess.user)
	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		parts = append(parts, g.Name+":"+strconv.Itoa(len(g.Members)))
	}
	s.reply(sess, strings.TrimRight("SUCCESS 200 GROUPS "+strings.Join(parts, " "), " "))
}

func (s *Server) handleText(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 3 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	targetType, target := cmd.Args[0], cmd.Args[1]
	content := cmd.Tail(2)
	if content == "" {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}

	switch targetType {
	case "U":
		// Friendship is the gating check for 1:1 messages.
		conv := s.store.Conversation(sess.user, target)
		if conv == "" {
			s.reply(sess, "FAIL 404 USER_NOT_FOUND")
			return
		}
		ts, err := s.store.AppendMessage(store.UserKey(conv), sess.user, "TEXT", content)
		if err != nil {
			s.reply(sess, "FAIL 500 SAVE_FAILED")
			return
		}
		s.reply(sess, "SUCCESS 201 SENT")
		s.notify(target, fmt.Sprintf("NOTIFY_TEXT U %s %d %s", sess.user, ts, content))

	case "G":
		g, ok := s.store.Group(target)
		if !ok {
			s.reply(sess, "FAIL 404 GROUP_NOT_FOUND")
			return
		}
		if !contains(g.Members, sess.user) {
			s.reply(sess, "FAIL 403 NOT_A_MEMBER")
			return
		}
		ts, err := s.store.AppendMessage(store.GroupKey(target), sess.user, "TEXT", content)
		if err != nil {
			s.reply(sess, "FAIL 500 SAVE_FAILED")
			return
		}
		s.reply(sess, "SUCCESS 201 SENT")
		for _, member := range g.Members {
			if member != sess.user {
				s.notify(member, fmt.Sprintf("NOTIFY_TEXT G %s %s %d %s", target, sess.user, ts, content))
			}
		}

	default:
		s.reply(sess, "FAIL 400 INVALID_TYPE")
	}
}

func (s *Server) handleHistory(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 2 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	targetType, target := cmd.Args[0], cmd.Args[1]
	var tbeginArg, tendArg string
	if len(cmd.Args) > 2 {
		tbeginArg = cmd.Args[2]
	}
	if len(cmd.Args) > 3 {
		tendArg = cmd.Args[3]
	}

	var key string
	switch targetType {
	case "U":
		conv := s.store.Conversation(sess.user, target)
		if conv == "" {
			s.reply(sess, "FAIL 404 CONVERSATION_NOT_FOUND")
			return
		}
		key = store.UserKey(conv)
	case "G":
		g, ok := s.store.Group(target)
		if !ok {
			s.reply(sess, "FAIL 404 GROUP_NOT_FOUND")
			return
		}
		if !contains(g.Members, sess.user) {
			s.reply(sess, "FAIL 403 ACCESS_DENIED")
			return
		}
		key = store.GroupKey(target)
	default:
		s.reply(sess, "FAIL 400 INVALID_TYPE")
		return
	}

	now := time.Now()
	tbegin := protocol.ParseTime(tbeginArg, now)
	tend := protocol.ParseTime(tendArg, now)

	records, err := s.store.Messages(key, tbegin, tend)
	if err != nil {
		s.reply(sess, "FAIL 500 SERVER_ERROR")
		return
	}
	if len(records) == 0 {
		s.reply(sess, "FAIL 404 NO_MESSAGES")
		return
	}

	s.reply(sess, "SUCCESS 200 "+strconv.Itoa(len(records)))
	for i, rec := range records {
		line := fmt.Sprintf("%d|%s|%d|%s|%d|%s", i+1, rec.Sender, rec.Timestamp, rec.Kind, len(rec.Content), rec.Content)
		if err := s.writeLine(sess.conn, line); err != nil {
			return
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
