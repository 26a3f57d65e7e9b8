package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"roomhub-server/core"

	"github.com/sirupsen/logrus"
)

const snapshotExt = ".json"

type fsStore struct {
	basePath string
}

// NewStore creates a filesystem-based store holding one file per room under basePath.
func NewStore(basePath string) (*fsStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &fsStore{basePath: basePath}, nil
}

// snapshotPath resolves the file of roomID and refuses anything that would escape basePath.
func (s *fsStore) snapshotPath(roomID string) (string, error) {
	if roomID == "" || roomID == "." || roomID == ".." || filepath.Base(roomID) != roomID || strings.ContainsAny(roomID, `/\`) {
		return "", fmt.Errorf("invalid room id %q", roomID)
	}

	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", err
	}
	absFile, err := filepath.Abs(filepath.Join(s.basePath, roomID+snapshotExt))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return absFile, nil
}

func (s *fsStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	filePath, err := s.snapshotPath(roomID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"room_id": roomID, "file_path": filePath})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound
		}
		log.WithError(err).Error("Failed to read snapshot")
		return nil, err
	}

	log.Debug("Snapshot retrieved")
	return data, nil
}

// Set writes to a temporary file and renames it, so readers never see a partial snapshot.
func (s *fsStore) Set(ctx context.Context, roomID string, data []byte) error {
	filePath, err := s.snapshotPath(roomID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"room_id": roomID, "file_path": filePath})

	tmp, err := os.CreateTemp(s.basePath, ".tmp-"+roomID+"-*")
	if err != nil {
		log.WithError(err).Error("Failed to create temp file")
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		log.WithError(err).Error("Failed to write snapshot")
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		log.WithError(err).Error("Failed to replace snapshot")
		return err
	}

	log.WithField("data_length", len(data)).Debug("Snapshot stored")
	return nil
}

func (s *fsStore) Delete(ctx context.Context, roomID string) error {
	filePath, err := s.snapshotPath(roomID)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to delete snapshot")
		return err
	}
	return nil
}

func (s *fsStore) ClearAll(ctx context.Context) error {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != snapshotExt {
			continue
		}
		if err := os.Remove(filepath.Join(s.basePath, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
		removed++
	}

	logrus.WithFields(logrus.Fields{
		"base_path": s.basePath,
		"count":     removed,
	}).Warn("All snapshots cleared")
	return nil
}

func (s *fsStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.basePath)
	}
	return nil
}

func (s *fsStore) Close() error { return nil }
