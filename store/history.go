package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"confab/models"
)

// Conversation logs: messages/<key>.txt, one record per line as
// ts|sender|kind|content, append-only. files/<key>.txt is the parallel
// file-event index with the same grammar.

// UserKey is the log key of a 1:1 conversation.
func UserKey(conv string) string { return "U_" + conv }

// GroupKey is the log key of a group conversation.
func GroupKey(group string) string { return "G_" + group }

func (s *Store) appendRecord(dir, key, sender, kind, content string) (int64, error) {
	ts := time.Now().Unix()
	s.logMu.Lock()
	defer s.logMu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.dir, dir, key+".txt"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d|%s|%s|%s\n", ts, sender, kind, content); err != nil {
		return 0, err
	}
	return ts, nil
}

// AppendMessage appends one record to the conversation's message log and
// returns the timestamp it was saved with.
func (s *Store) AppendMessage(key, sender, kind, content string) (int64, error) {
	return s.appendRecord(messagesDir, key, sender, kind, content)
}

// AppendFileEvent appends one record to the conversation's file index.
func (s *Store) AppendFileEvent(key, sender, kind, content string) error {
	_, err := s.appendRecord(filesDir, key, sender, kind, content)
	return err
}

// Messages returns the conversation's records whose timestamps fall in
// [tbegin, tend], in file (append) order. A bound of 0 is unbounded.
func (s *Store) Messages(key string, tbegin, tend int64) ([]models.Record, error) {
	var out []models.Record
	err := s.eachLine(filepath.Join(messagesDir, key+".txt"), func(line string) {
		rec, ok := parseRecord(line)
		if !ok {
			return
		}
		if (tbegin == 0 || rec.Timestamp >= tbegin) && (tend == 0 || rec.Timestamp <= tend) {
			out = append(out, rec)
		}
	})
	return out, err
}

func parseRecord(line string) (models.Record, bool) {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) < 4 {
		return models.Record{}, false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return models.Record{}, false
	}
	return models.Record{Timestamp: ts, Sender: parts[1], Kind: parts[2], Content: parts[3]}, true
}
