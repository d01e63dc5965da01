package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	return s, dir
}

func TestRegisterAndAuthenticate(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.RegisterUser("alice", "s3cret"))
	assert.ErrorIs(t, s.RegisterUser("alice", "other"), ErrExists)

	assert.True(t, s.Authenticate("alice", "s3cret"))
	assert.False(t, s.Authenticate("alice", "wrong"))
	assert.False(t, s.Authenticate("nobody", "s3cret"))
	assert.True(t, s.UserExists("alice"))
}

func TestSingleActiveSession(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.RegisterUser("alice", "pw"))

	sid1, old := s.CreateSession("alice")
	assert.Empty(t, old)

	sid2, old := s.CreateSession("alice")
	assert.Equal(t, sid1, old)
	assert.NotEqual(t, sid1, sid2)

	// The evicted session must no longer resolve.
	_, ok := s.ResolveSession(sid1)
	assert.False(t, ok)
	name, ok := s.ResolveSession(sid2)
	require.True(t, ok)
	assert.Equal(t, "alice", name)
}

func TestFriendshipSymmetry(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.AddPending("bob", "alice"))
	require.NoError(t, s.AddPending("bob", "alice")) // idempotent
	assert.Equal(t, []string{"alice"}, s.PendingFor("bob"))

	require.True(t, s.TakePending("bob", "alice"))
	require.False(t, s.TakePending("bob", "alice"))

	conv := s.ConfirmFriend("bob", "alice", "online", "offline")
	require.NotEmpty(t, conv)

	// Both adjacency lists carry the other side with the same conv id.
	assert.Equal(t, conv, s.Conversation("alice", "bob"))
	assert.Equal(t, conv, s.Conversation("bob", "alice"))

	// Re-confirming reuses the existing conversation id.
	again := s.ConfirmFriend("alice", "bob", "online", "online")
	assert.Equal(t, conv, again)
}

func TestSetUserStatus(t *testing.T) {
	s, _ := newTestStore(t)
	s.ConfirmFriend("bob", "alice", "online", "online")

	s.SetUserStatus("alice", "offline")
	for _, e := range s.Friends("bob") {
		if e.Name == "alice" {
			assert.Equal(t, "offline", e.Status)
		}
	}
}

func TestGroupMembershipInvariant(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.CreateGroup("devs", "alice", 5))
	assert.ErrorIs(t, s.CreateGroup("devs", "bob", 5), ErrExists)

	require.NoError(t, s.InviteUser("devs", "carol"))
	assert.ErrorIs(t, s.JoinGroup("devs", "mallory"), ErrInviteNotFound)
	require.NoError(t, s.JoinGroup("devs", "carol"))

	g, ok := s.Group("devs")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"alice", "carol"}, g.Members)

	// user_groups[u] contains g iff u is a member of g.
	for _, member := range g.Members {
		var names []string
		for _, ug := range s.UserGroups(member) {
			names = append(names, ug.Name)
		}
		assert.Contains(t, names, "devs")
	}

	require.NoError(t, s.RemoveMember("devs", "carol"))
	assert.Empty(t, s.UserGroups("carol"))
	assert.ErrorIs(t, s.RemoveMember("devs", "carol"), ErrNotMember)
}

func TestJoinGroupEnforcesLimit(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.CreateGroup("duo", "alice", 2))
	require.NoError(t, s.InviteUser("duo", "bob"))
	require.NoError(t, s.InviteUser("duo", "carol"))

	require.NoError(t, s.JoinGroup("duo", "bob"))
	assert.ErrorIs(t, s.JoinGroup("duo", "carol"), ErrGroupFull)

	g, _ := s.Group("duo")
	assert.Len(t, g.Members, 2)
}

func TestPersistenceRoundTrip(t *testing.T) {
	s, dir := newTestStore(t)

	require.NoError(t, s.RegisterUser("alice", "pw1"))
	require.NoError(t, s.RegisterUser("bob", "pw2"))
	sid, _ := s.CreateSession("alice")
	require.NoError(t, s.AddPending("bob", "alice"))
	conv := s.ConfirmFriend("carol", "dave", "offline", "offline")
	require.NoError(t, s.CreateGroup("devs", "alice", 10))
	require.NoError(t, s.InviteUser("devs", "bob"))

	// A second store over the same dir must see identical state.
	s2, err := New(dir)
	require.NoError(t, err)

	assert.True(t, s2.Authenticate("alice", "pw1"))
	assert.True(t, s2.Authenticate("bob", "pw2"))

	name, ok := s2.ResolveSession(sid)
	require.True(t, ok)
	assert.Equal(t, "alice", name)

	assert.Equal(t, []string{"alice"}, s2.PendingFor("bob"))
	assert.Equal(t, conv, s2.Conversation("carol", "dave"))

	g, ok := s2.Group("devs")
	require.True(t, ok)
	assert.Equal(t, "alice", g.Creator)
	assert.Equal(t, 10, g.MaxMembers)
	assert.Equal(t, []string{"alice"}, g.Members)
	require.NoError(t, s2.JoinGroup("devs", "bob"))
}

func TestUploadLifecycle(t *testing.T) {
	s, dir := newTestStore(t)

	meta := s.CreateUpload("f.bin", "alice", "U", "bob", 6)
	require.NotEmpty(t, meta.ID)

	blob, err := s.OpenUpload(meta.ID)
	require.NoError(t, err)
	_, err = blob.WriteAt([]byte("abc"), 0)
	require.NoError(t, err)
	require.NoError(t, blob.Close())
	s.SetUploadProgress(meta.ID, 3)

	// Server-authoritative resume re-reads the on-disk size.
	offset, err := s.ResumeUpload(meta.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), offset)

	blob, err = s.OpenUpload(meta.ID)
	require.NoError(t, err)
	_, err = blob.WriteAt([]byte("def"), 3)
	require.NoError(t, err)
	require.NoError(t, blob.Close())

	final, err := s.CompleteUpload(meta.ID)
	require.NoError(t, err)
	assert.True(t, final.Complete)

	_, ok := s.ActiveUpload(meta.ID)
	assert.False(t, ok)
	got, ok := s.CompletedFile(meta.ID)
	require.True(t, ok)
	assert.Equal(t, int64(6), got.Filesize)

	// Completed metadata survives a reload.
	s2, err := New(dir)
	require.NoError(t, err)
	got, ok = s2.CompletedFile(meta.ID)
	require.True(t, ok)
	assert.Equal(t, "f.bin", got.Filename)

	data, err := os.ReadFile(filepath.Join(dir, got.Path))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestCancelUpload(t *testing.T) {
	s, dir := newTestStore(t)

	meta := s.CreateUpload("f.bin", "alice", "U", "bob", 10)
	blob, err := s.OpenUpload(meta.ID)
	require.NoError(t, err)
	blob.Write([]byte("partial"))
	blob.Close()

	require.NoError(t, s.CancelUpload(meta.ID))
	assert.ErrorIs(t, s.CancelUpload(meta.ID), ErrNotFound)

	_, err = os.Stat(filepath.Join(dir, meta.Path))
	assert.True(t, os.IsNotExist(err))
}

func TestMessagesRangeQuery(t *testing.T) {
	s, _ := newTestStore(t)

	key := GroupKey("devs")
	ts1, err := s.AppendMessage(key, "alice", "TEXT", "hello there")
	require.NoError(t, err)
	_, err = s.AppendMessage(key, "bob", "TEXT", "content with | pipes")
	require.NoError(t, err)

	recs, err := s.Messages(key, 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "alice", recs[0].Sender)
	assert.Equal(t, "TEXT", recs[0].Kind)
	assert.Equal(t, "hello there", recs[0].Content)
	assert.Equal(t, "content with | pipes", recs[1].Content)

	// Bounds are inclusive; 0 means unbounded.
	recs, err = s.Messages(key, ts1, ts1+3600)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.Messages(key, ts1+3600, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Missing log: no records, no error.
	recs, err = s.Messages(UserKey("nope"), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
