package store

import (
	"bytes"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"confab/models"
)

// friends.txt: user:entry1,entry2,... with entry = name|status|conv.
// pending_requests.txt: target:sender1,sender2,...

func (s *Store) loadFriends() error {
	return s.eachLine(friendsFile, func(line string) {
		user, rest, ok := strings.Cut(line, ":")
		user = strings.TrimSpace(user)
		if !ok || user == "" {
			return
		}
		var list []models.FriendEntry
		for _, tok := range strings.Split(rest, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			parts := strings.Split(tok, "|")
			e := models.FriendEntry{Name: parts[0], Status: "offline"}
			if len(parts) > 1 && parts[1] != "" {
				e.Status = parts[1]
			}
			if len(parts) > 2 {
				e.Conv = parts[2]
			}
			if e.Name != "" {
				list = append(list, e)
			}
		}
		s.friends[user] = list
	})
}

func (s *Store) marshalFriendsLocked() []byte {
	var b bytes.Buffer
	for user, list := range s.friends {
		b.WriteString(user)
		b.WriteByte(':')
		for i, e := range list {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(e.Name)
			b.WriteByte('|')
			b.WriteString(e.Status)
			b.WriteByte('|')
			b.WriteString(e.Conv)
		}
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func (s *Store) saveFriends() error {
	s.friendsMu.Lock()
	data := s.marshalFriendsLocked()
	s.friendsMu.Unlock()
	return s.writeTable(friendsFile, data)
}

func (s *Store) loadPending() error {
	return s.eachLine(pendingFile, func(line string) {
		target, rest, ok := strings.Cut(line, ":")
		target = strings.TrimSpace(target)
		if !ok || target == "" {
			return
		}
		var senders []string
		for _, tok := range strings.Split(rest, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				senders = append(senders, tok)
			}
		}
		s.pending[target] = senders
	})
}

func (s *Store) marshalPendingLocked() []byte {
	var b bytes.Buffer
	for target, senders := range s.pending {
		b.WriteString(target)
		b.WriteByte(':')
		b.WriteString(strings.Join(senders, ","))
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func (s *Store) savePending() error {
	s.pendingMu.Lock()
	data := s.marshalPendingLocked()
	s.pendingMu.Unlock()
	return s.writeTable(pendingFile, data)
}

// AddPending records a friend request from sender to target. Idempotent: a
// sender appears at most once per target.
func (s *Store) AddPending(target, sender string) error {
	s.pendingMu.Lock()
	list := s.pending[target]
	exists := false
	for _, v := range list {
		if v == sender {
			exists = true
			break
		}
	}
	if !exists {
		s.pending[target] = append(list, sender)
	}
	data := s.marshalPendingLocked()
	s.pendingMu.Unlock()
	return s.writeTable(pendingFile, data)
}

// TakePending removes sender's request to target, reporting whether it was
// present. Used by both confirmation and rejection.
func (s *Store) TakePending(target, sender string) bool {
	s.pendingMu.Lock()
	list, ok := s.pending[target]
	found := false
	if ok {
		for i, v := range list {
			if v == sender {
				s.pending[target] = append(list[:i], list[i+1:]...)
				found = true
				break
			}
		}
		if len(s.pending[target]) == 0 {
			delete(s.pending, target)
		}
	}
	data := s.marshalPendingLocked()
	s.pendingMu.Unlock()
	s.writeTable(pendingFile, data)
	return found
}

// PendingFor returns the senders currently waiting on target, in order.
func (s *Store) PendingFor(target string) []string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return append([]string(nil), s.pending[target]...)
}

// ConfirmFriend inserts the symmetric friendship between user and peer with
// the given cached statuses, reusing a conversation id found in either list
// and minting one otherwise. Returns the pair's conversation id.
func (s *Store) ConfirmFriend(user, peer, userStatus, peerStatus string) string {
	s.friendsMu.Lock()
	conv := convLocked(s.friends[user], peer)
	if conv == "" {
		conv = convLocked(s.friends[peer], user)
	}
	if conv == "" {
		conv = "U" + strconv.FormatInt(time.Now().Unix(), 10) + "-" + strconv.Itoa(rand.Intn(65536))
	}
	s.friends[user] = upsertEntry(s.friends[user], peer, peerStatus, conv)
	s.friends[peer] = upsertEntry(s.friends[peer], user, userStatus, conv)
	data := s.marshalFriendsLocked()
	s.friendsMu.Unlock()
	s.writeTable(friendsFile, data)
	return conv
}

func convLocked(list []models.FriendEntry, name string) string {
	for _, e := range list {
		if e.Name == name && e.Conv != "" {
			return e.Conv
		}
	}
	return ""
}

func upsertEntry(list []models.FriendEntry, name, status, conv string) []models.FriendEntry {
	for i := range list {
		if list[i].Name == name {
			list[i].Status = status
			list[i].Conv = conv
			return list
		}
	}
	return append(list, models.FriendEntry{Name: name, Status: status, Conv: conv})
}

// Conversation returns the conversation id shared by a and b, looking in
// both adjacency lists; empty if they are not friends.
func (s *Store) Conversation(a, b string) string {
	s.friendsMu.Lock()
	defer s.friendsMu.Unlock()
	if conv := convLocked(s.friends[a], b); conv != "" {
		return conv
	}
	return convLocked(s.friends[b], a)
}

// Friends returns a copy of user's friend list.
func (s *Store) Friends(user string) []models.FriendEntry {
	s.friendsMu.Lock()
	defer s.friendsMu.Unlock()
	return append([]models.FriendEntry(nil), s.friends[user]...)
}

// SetUserStatus updates the cached presence of username in every friend list
// that names it, and persists the change.
func (s *Store) SetUserStatus(username, status string) {
	s.friendsMu.Lock()
	for user := range s.friends {
		for i := range s.friends[user] {
			if s.friends[user][i].Name == username {
				s.friends[user][i].Status = status
			}
		}
	}
	data := s.marshalFriendsLocked()
	s.friendsMu.Unlock()
	s.writeTable(friendsFile, data)
}
