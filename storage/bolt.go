package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/browserwing/testingdriver/models"
	bolt "go.etcd.io/bbolt"
)

var (
	sessionsBucket    = []byte("sessions")
	screenshotsBucket = []byte("screenshots")
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

type BoltDB struct {
	db *bolt.DB
}

func NewBoltDB(dbPath string) (*BoltDB, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w (directory: %s)", dbPath, err, dir)
	}

	// 创建必要的bucket
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, screenshotsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

// SaveSession 保存会话记录（覆盖同 ID 记录）
func (b *BoltDB) SaveSession(rec *models.SessionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		data, err := rec.ToJSON()
		if err != nil {
			return err
		}
		return tx.Bucket(sessionsBucket).Put([]byte(rec.ID), data)
	})
}

// GetSession 获取会话记录
func (b *BoltDB) GetSession(id string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(sessionsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListSessions 列出所有会话，最新的在前
func (b *BoltDB) ListSessions() ([]*models.SessionRecord, error) {
	var sessions []*models.SessionRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			var rec models.SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			sessions = append(sessions, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// DeleteSession 删除会话及其截图记录
func (b *BoltDB) DeleteSession(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(sessionsBucket).Delete([]byte(id)); err != nil {
			return err
		}
		bucket := tx.Bucket(screenshotsBucket)
		// 先收集要删除的 key
		var keysToDelete [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var shot models.ScreenshotRecord
			if err := json.Unmarshal(v, &shot); err != nil {
				return err
			}
			if shot.SessionID == id {
				keysToDelete = append(keysToDelete, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keysToDelete {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveScreenshot 保存截图记录
func (b *BoltDB) SaveScreenshot(rec *models.ScreenshotRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		data, err := rec.ToJSON()
		if err != nil {
			return err
		}
		return tx.Bucket(screenshotsBucket).Put([]byte(rec.ID), data)
	})
}

// GetScreenshot 获取截图记录
func (b *BoltDB) GetScreenshot(id string) (*models.ScreenshotRecord, error) {
	var rec models.ScreenshotRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(screenshotsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("screenshot %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListScreenshots 列出截图记录（支持按会话ID过滤），最新的在前
func (b *BoltDB) ListScreenshots(sessionID string) ([]*models.ScreenshotRecord, error) {
	var shots []*models.ScreenshotRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(screenshotsBucket).ForEach(func(k, v []byte) error {
			var rec models.ScreenshotRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if sessionID == "" || rec.SessionID == sessionID {
				shots = append(shots, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(shots, func(i, j int) bool {
		return shots[i].CreatedAt.After(shots[j].CreatedAt)
	})
	return shots, nil
}
