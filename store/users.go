package store

import (
	"bytes"
	"strings"

	"github.com/google/uuid"
)

// users.txt: username:password, one per line. Passwords are stored verbatim.

func (s *Store) loadUsers() error {
	return s.eachLine(usersFile, func(line string) {
		name, pass, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return
		}
		s.users[name] = strings.TrimSpace(pass)
	})
}

func (s *Store) marshalUsersLocked() []byte {
	var b bytes.Buffer
	for name, pass := range s.users {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(pass)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func (s *Store) saveUsers() error {
	s.usersMu.Lock()
	data := s.marshalUsersLocked()
	s.usersMu.Unlock()
	return s.writeTable(usersFile, data)
}

func (s *Store) RegisterUser(username, password string) error {
	s.usersMu.Lock()
	if _, ok := s.users[username]; ok {
		s.usersMu.Unlock()
		return ErrExists
	}
	s.users[username] = password
	data := s.marshalUsersLocked()
	s.usersMu.Unlock()
	return s.writeTable(usersFile, data)
}

func (s *Store) Authenticate(username, password string) bool {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	stored, ok := s.users[username]
	return ok && stored == password
}

func (s *Store) UserExists(username string) bool {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	_, ok := s.users[username]
	return ok
}

// sessions.txt: session_id:username. Reloaded into both directions of the
// mapping so AUTH and single-session eviction survive restarts.

func (s *Store) loadSessions() error {
	return s.eachLine(sessionsFile, func(line string) {
		sid, name, ok := strings.Cut(line, ":")
		sid = strings.TrimSpace(sid)
		name = strings.TrimSpace(name)
		if !ok || sid == "" || name == "" {
			return
		}
		s.sessions[sid] = name
		s.userToSession[name] = sid
	})
}

func (s *Store) marshalSessionsLocked() []byte {
	var b bytes.Buffer
	for sid, name := range s.sessions {
		b.WriteString(sid)
		b.WriteByte(':')
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func (s *Store) saveSessions() error {
	s.sessionsMu.Lock()
	data := s.marshalSessionsLocked()
	s.sessionsMu.Unlock()
	return s.writeTable(sessionsFile, data)
}

// CreateSession mints a session for username, evicting any existing one.
// The evicted session id is returned so the caller can notify its connection.
func (s *Store) CreateSession(username string) (sid, oldSID string) {
	sid = uuid.NewString()
	s.sessionsMu.Lock()
	if old, ok := s.userToSession[username]; ok {
		oldSID = old
		delete(s.sessions, old)
	}
	s.sessions[sid] = username
	s.userToSession[username] = sid
	data := s.marshalSessionsLocked()
	s.sessionsMu.Unlock()
	s.writeTable(sessionsFile, data)
	return sid, oldSID
}

func (s *Store) ResolveSession(sid string) (string, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	name, ok := s.sessions[sid]
	return name, ok
}

// DeleteSession removes sid and returns the username it was bound to.
func (s *Store) DeleteSession(sid string) (string, bool) {
	s.sessionsMu.Lock()
	name, ok := s.sessions[sid]
	if ok {
		delete(s.sessions, sid)
		if s.userToSession[name] == sid {
			delete(s.userToSession, name)
		}
	}
	data := s.marshalSessionsLocked()
	s.sessionsMu.Unlock()
	if ok {
		s.writeTable(sessionsFile, data)
	}
	return name, ok
}
