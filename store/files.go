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

// file_metadata.txt: fid|filename|sender|type|target|size|path|upload_time,
// append-only; only completed uploads are recorded. Active uploads live in
// memory plus their partial blob under uploads/, which is what resume reads.

func (s *Store) loadMetadata() error {
	return s.eachLine(metadataFile, func(line string) {
		parts := strings.Split(line, "|")
		if len(parts) < 8 {
			return
		}
		size, err := strconv.ParseInt(parts[5], 10, 64)
		if err != nil {
			return
		}
		uploadTime, _ := strconv.ParseInt(parts[7], 10, 64)
		meta := &models.FileMeta{
			ID:            parts[0],
			Filename:      parts[1],
			Sender:        parts[2],
			TargetType:    parts[3],
			TargetName:    parts[4],
			Filesize:      size,
			BytesReceived: size,
			Path:          parts[6],
			Complete:      true,
			UploadTime:    uploadTime,
		}
		s.completed[meta.ID] = meta
	})
}

func (s *Store) appendMetadata(meta *models.FileMeta) error {
	f, err := os.OpenFile(s.path(metadataFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s|%s|%s|%s|%s|%d|%s|%d\n",
		meta.ID, meta.Filename, meta.Sender, meta.TargetType, meta.TargetName,
		meta.Filesize, meta.Path, meta.UploadTime)
	return err
}

// CreateUpload mints a file id, registers the active entry and returns a
// copy of it. The blob path is uploads/<fid> under the data dir.
func (s *Store) CreateUpload(filename, sender, targetType, targetName string, size int64) models.FileMeta {
	s.filesMu.Lock()
	s.fileSeq++
	fid := fmt.Sprintf("%d_%d", time.Now().Unix(), s.fileSeq)
	meta := &models.FileMeta{
		ID:         fid,
		Filename:   filename,
		Sender:     sender,
		TargetType: targetType,
		TargetName: targetName,
		Filesize:   size,
		Path:       filepath.Join(uploadsDir, fid),
		UploadTime: time.Now().Unix(),
	}
	s.active[fid] = meta
	out := *meta
	s.filesMu.Unlock()
	return out
}

// ActiveUpload returns a copy of the active entry for fid.
func (s *Store) ActiveUpload(fid string) (models.FileMeta, bool) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	meta, ok := s.active[fid]
	if !ok {
		return models.FileMeta{}, false
	}
	return *meta, true
}

// CompletedFile returns a copy of the completed entry for fid.
func (s *Store) CompletedFile(fid string) (models.FileMeta, bool) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	meta, ok := s.completed[fid]
	if !ok {
		return models.FileMeta{}, false
	}
	return *meta, true
}

// OpenUpload opens the blob of an active upload for positional writes.
func (s *Store) OpenUpload(fid string) (*os.File, error) {
	meta, ok := s.ActiveUpload(fid)
	if !ok {
		return nil, ErrNotFound
	}
	return os.OpenFile(s.path(meta.Path), os.O_CREATE|os.O_WRONLY, 0o644)
}

// OpenDownload opens the blob of a completed file for reading.
func (s *Store) OpenDownload(fid string) (*os.File, error) {
	meta, ok := s.CompletedFile(fid)
	if !ok {
		return nil, ErrNotFound
	}
	return os.Open(s.path(meta.Path))
}

// SetUploadProgress records how many bytes of fid have been received.
func (s *Store) SetUploadProgress(fid string, n int64) {
	s.filesMu.Lock()
	if meta, ok := s.active[fid]; ok {
		meta.BytesReceived = n
	}
	s.filesMu.Unlock()
}

// CompleteUpload moves fid from active to completed and appends its
// metadata record. Returns a copy of the final entry.
func (s *Store) CompleteUpload(fid string) (models.FileMeta, error) {
	s.filesMu.Lock()
	meta, ok := s.active[fid]
	if !ok {
		s.filesMu.Unlock()
		return models.FileMeta{}, ErrNotFound
	}
	delete(s.active, fid)
	meta.Complete = true
	s.completed[fid] = meta
	out := *meta
	s.filesMu.Unlock()
	return out, s.appendMetadata(&out)
}

// ResumeUpload re-reads the on-disk size of the partial blob, records it as
// the received byte count and returns it. The server is authoritative here.
func (s *Store) ResumeUpload(fid string) (int64, error) {
	s.filesMu.Lock()
	meta, ok := s.active[fid]
	if !ok {
		s.filesMu.Unlock()
		return 0, ErrNotFound
	}
	path := s.path(meta.Path)
	s.filesMu.Unlock()

	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}

	s.filesMu.Lock()
	if meta, ok := s.active[fid]; ok {
		meta.BytesReceived = size
	}
	s.filesMu.Unlock()
	return size, nil
}

// CancelUpload unlinks the partial blob and forgets the active entry.
func (s *Store) CancelUpload(fid string) error {
	s.filesMu.Lock()
	meta, ok := s.active[fid]
	if !ok {
		s.filesMu.Unlock()
		return ErrNotFound
	}
	delete(s.active, fid)
	path := s.path(meta.Path)
	s.filesMu.Unlock()
	os.Remove(path)
	return nil
}
