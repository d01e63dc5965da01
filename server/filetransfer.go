package server

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"confab/models"
	"confab/protocol"
	"confab/store"
)

// maxFileSize bounds a single upload.
const maxFileSize = 100 * 1024 * 1024

// Store-and-forward transfer engine. Both directions share the session's
// socket with the text protocol: a success header line, then 8-byte-header
// chunks, then a terminal status line. Uploads resume from the server's
// on-disk byte count; downloads resume from a client-declared offset.

func (s *Server) handleReqUpload(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 4 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	targetType, target := cmd.Args[0], cmd.Args[1]

	// Filenames may contain spaces: the size is the token after the last
	// whitespace of the tail.
	filename, sizeStr := protocol.SplitTail(cmd.Tail(2))
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if filename == "" || err != nil || size <= 0 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	if size > maxFileSize {
		s.reply(sess, "FAIL 400 FILE_TOO_LARGE")
		return
	}

	validTarget := false
	switch targetType {
	case "U":
		validTarget = s.store.UserExists(target)
	case "G":
		validTarget = s.store.IsMember(target, sess.user)
	}
	if !validTarget {
		s.reply(sess, "FAIL 404 TARGET_NOT_FOUND")
		return
	}

	meta := s.store.CreateUpload(filename, sess.user, targetType, target, size)
	log.Printf("%s upload request: %s -> %s", sess.prefix, filename, meta.ID)
	s.reply(sess, "SUCCESS 200 READY_UPLOAD "+meta.ID)
}

func (s *Server) handleUploadData(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	fid := cmd.Args[0]

	meta, ok := s.store.ActiveUpload(fid)
	if !ok {
		s.reply(sess, "FAIL 404 FILE_ID_NOT_FOUND")
		return
	}
	blob, err := s.store.OpenUpload(fid)
	if err != nil {
		s.reply(sess, "FAIL 500 FILE_OPEN_ERROR")
		return
	}

	s.reply(sess, fmt.Sprintf("SUCCESS 200 START_UPLOAD %d", meta.BytesReceived))

	received := meta.BytesReceived
	intact := true
	buf := make([]byte, protocol.MaxChunkSize)
	for received < meta.Filesize {
		if s.config.ReadTimeout > 0 {
			sess.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		offset, length, err := protocol.ReadChunkHeader(sess.reader)
		if err != nil {
			intact = false
			break
		}
		if length == 0 {
			break
		}
		payload := buf[:length]
		if _, err := io.ReadFull(sess.reader, payload); err != nil {
			intact = false
			break
		}
		// Positional write at the declared offset.
		if _, err := blob.WriteAt(payload, int64(offset)); err != nil {
			intact = false
			break
		}
		received += int64(length)
		s.store.SetUploadProgress(fid, received)
	}
	blob.Close()
	sess.conn.SetReadDeadline(time.Time{})

	if !intact || received < meta.Filesize {
		// Keep the active entry and the partial blob for a later resume.
		log.Printf("%s upload interrupted: %s at %d/%d", sess.prefix, fid, received, meta.Filesize)
		s.reply(sess, "FAIL 500 UPLOAD_INTERRUPTED")
		return
	}

	final, err := s.store.CompleteUpload(fid)
	if err != nil {
		s.reply(sess, "FAIL 500 SAVE_FAILED")
		return
	}
	log.Printf("%s upload complete: %s", sess.prefix, fid)
	s.recordUpload(sess, final)
	s.reply(sess, "SUCCESS 200 UPLOAD_COMPLETE")
}

// recordUpload persists the FILE history record and FILEMETA index record
// and notifies the other participants.
func (s *Server) recordUpload(sess *session, meta models.FileMeta) {
	content := meta.ID + ":" + meta.Filename
	indexed := fmt.Sprintf("%s:%s:%d", meta.ID, meta.Filename, meta.Filesize)

	switch meta.TargetType {
	case "G":
		key := store.GroupKey(meta.TargetName)
		s.store.AppendMessage(key, sess.user, "FILE", content)
		s.store.AppendFileEvent(key, sess.user, "FILEMETA", indexed)
		if g, ok := s.store.Group(meta.TargetName); ok {
			for _, member := range g.Members {
				if member != sess.user {
					s.notify(member, fmt.Sprintf("NOTIFY_FILE G %s %s %s %s", meta.TargetName, sess.user, meta.ID, meta.Filename))
				}
			}
		}
	case "U":
		// Uploads to non-friends are allowed; only friends have a log to
		// append to.
		if conv := s.store.Conversation(sess.user, meta.TargetName); conv != "" {
			key := store.UserKey(conv)
			s.store.AppendMessage(key, sess.user, "FILE", content)
			s.store.AppendFileEvent(key, sess.user, "FILEMETA", indexed)
		}
		s.notify(meta.TargetName, fmt.Sprintf("NOTIFY_FILE U %s %s %s", sess.user, meta.ID, meta.Filename))
	}
}

func (s *Server) handleResumeUpload(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	fid := cmd.Args[0]

	offset, err := s.store.ResumeUpload(fid)
	if err != nil {
		s.reply(sess, "FAIL 404 FILE_ID_NOT_FOUND")
		return
	}
	log.Printf("%s resume upload: %s from byte %d", sess.prefix, fid, offset)
	s.reply(sess, fmt.Sprintf("SUCCESS 200 READY_UPLOAD %d", offset))
}

func (s *Server) handleCancelUpload(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	fid := cmd.Args[0]

	if err := s.store.CancelUpload(fid); err != nil {
		s.reply(sess, "FAIL 404 FILE_ID_NOT_FOUND")
		return
	}
	log.Printf("%s upload cancelled: %s", sess.prefix, fid)
	s.reply(sess, "SUCCESS 200 UPLOAD_CANCELLED")
}

func (s *Server) handleReqDownload(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 1 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	fid := cmd.Args[0]

	meta, ok := s.store.CompletedFile(fid)
	if !ok {
		s.reply(sess, "FAIL 404 FILE_NOT_FOUND")
		return
	}

	s.reply(sess, fmt.Sprintf("SUCCESS 200 READY_DOWNLOAD %s %s %d", fid, meta.Filename, meta.Filesize))
	if !s.streamFile(sess, meta, 0) {
		return
	}
	s.reply(sess, "SUCCESS 200 DOWNLOAD_COMPLETE")
	s.recordDownload(sess, meta)
}

func (s *Server) handleResumeDownload(sess *session, cmd *protocol.Command) {
	if len(cmd.Args) < 2 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}
	fid := cmd.Args[0]
	offset, err := strconv.ParseInt(cmd.Args[1], 10, 64)
	if err != nil || offset < 0 {
		s.reply(sess, "FAIL 400 INVALID_FORMAT")
		return
	}

	meta, ok := s.store.CompletedFile(fid)
	if !ok {
		s.reply(sess, "FAIL 404 FILE_NOT_FOUND")
		return
	}
	// The client declares where to continue; it just has to be inside the file.
	if offset >= meta.Filesize {
		s.reply(sess, "FAIL 400 INVALID_OFFSET")
		return
	}

	log.Printf("%s resume download: %s from byte %d", sess.prefix, fid, offset)
	s.reply(sess, fmt.Sprintf("SUCCESS 200 RESUME_DOWNLOAD %d", offset))
	if !s.streamFile(sess, meta, offset) {
		return
	}
	s.reply(sess, "SUCCESS 200 DOWNLOAD_COMPLETE")
	s.recordDownload(sess, meta)
}

func (s *Server) handleCancelDownload(sess *session, cmd *protocol.Command) {
	// Acknowledgement only; the completed file stays intact on the server.
	s.reply(sess, "SUCCESS 200 DOWNLOAD_CANCELLED")
}

// streamFile sends the blob from offset onward in ascending-offset chunks
// and the zero-length end marker. Reports whether the stream completed.
func (s *Server) streamFile(sess *session, meta models.FileMeta, offset int64) bool {
	blob, err := s.store.OpenDownload(meta.ID)
	if err != nil {
		s.reply(sess, "FAIL 500 FILE_OPEN_ERROR")
		return false
	}
	defer blob.Close()

	if _, err := blob.Seek(offset, io.SeekStart); err != nil {
		s.reply(sess, "FAIL 500 FILE_READ_ERROR")
		return false
	}

	buf := make([]byte, protocol.MaxChunkSize)
	for offset < meta.Filesize {
		n, err := blob.Read(buf)
		if n > 0 {
			sess.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if werr := protocol.WriteChunk(sess.conn, uint32(offset), buf[:n]); werr != nil {
				log.Printf("%s download interrupted: %s", sess.prefix, meta.ID)
				return false
			}
			offset += int64(n)
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("%s read error on %s: %v", sess.prefix, meta.ID, err)
			}
			break
		}
	}

	sess.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := protocol.WriteChunk(sess.conn, uint32(offset), nil); err != nil {
		return false
	}
	log.Printf("%s download complete: %s", sess.prefix, meta.ID)
	return true
}

// recordDownload appends the DOWNLOAD event, attributed to the downloading
// user, to both the message log and the files index.
func (s *Server) recordDownload(sess *session, meta models.FileMeta) {
	content := meta.ID + ":" + meta.Filename

	switch meta.TargetType {
	case "G":
		key := store.GroupKey(meta.TargetName)
		s.store.AppendMessage(key, sess.user, "DOWNLOAD", content)
		s.store.AppendFileEvent(key, sess.user, "DOWNLOAD", content)
	case "U":
		conv := s.store.Conversation(meta.Sender, meta.TargetName)
		if conv == "" {
			return
		}
		key := store.UserKey(conv)
		s.store.AppendMessage(key, sess.user, "DOWNLOAD", content)
		s.store.AppendFileEvent(key, sess.user, "DOWNLOAD", content)
	}
}
