package models

type User struct {
	Username string
	Password string
}

// FriendEntry is one edge of the friendship graph. Status is the cached
// presence value written to disk; live presence comes from the online map.
type FriendEntry struct {
	Name   string
	Status string // "online" or "offline"
	Conv   string // conversation id shared by both sides of the pair
}

type Group struct {
	Name       string
	Creator    string // admin, always a member
	MaxMembers int
	Members    []string
}

// FileMeta describes one uploaded file, active or completed.
type FileMeta struct {
	ID            string
	Filename      string
	Sender        string
	TargetType    string // "U" or "G"
	TargetName    string
	Filesize      int64
	BytesReceived int64
	Path          string // uploads/<ID>
	Complete      bool
	UploadTime    int64
}

// Record is one line of a conversation log: ts|sender|kind|content.
type Record struct {
	Timestamp int64
	Sender    string
	Kind      string // "TEXT", "FILE" or "DOWNLOAD"
	Content   string
}
