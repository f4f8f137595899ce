package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.etcd.io/bbolt"

	"github.com/mqy/minichat/chatstore"
)

var (
	messagesBucket = []byte("messages")
	draftsBucket   = []byte("drafts")
	blobsBucket    = []byte("blobs")
	tasksBucket    = []byte("tasks")
	metaBucket     = []byte("meta")
)

// BoltStore implements interface `IOfflineStore` on a single bbolt file.
// Messages live in one nested bucket per conversation under `messages`.
type BoltStore struct {
	db *bbolt.DB
}

func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{messagesBucket, draftsBucket, blobsBucket, tasksBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	glog.Infof("store: opened %s", path)
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) withTx(ctx context.Context, writable bool, exec func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.Begin(writable)
	if err != nil {
		return err
	}

	if err := exec(tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	if !writable {
		return tx.Rollback()
	}
	return tx.Commit()
}

// convBucket returns the bucket of conv, or nil when it does not exist and create is false.
func convBucket(tx *bbolt.Tx, conv string, create bool) (*bbolt.Bucket, error) {
	root := tx.Bucket(messagesBucket)
	if !create {
		return root.Bucket([]byte(conv)), nil
	}
	return root.CreateBucketIfNotExists([]byte(conv))
}

func putMessage(b *bbolt.Bucket, m *chatstore.Message) error {
	v, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.Put([]byte(m.ID), v)
}

func scanMessages(b *bbolt.Bucket, keep func(*chatstore.Message) bool) ([]*chatstore.Message, error) {
	var out []*chatstore.Message
	if b == nil {
		return out, nil
	}
	err := b.ForEach(func(k, v []byte) error {
		var m chatstore.Message
		if err := json.Unmarshal(v, &m); err != nil {
			glog.Errorf("store: skip corrupt message %s: %v", k, err)
			return nil
		}
		if keep == nil || keep(&m) {
			out = append(out, &m)
		}
		return nil
	})
	chatstore.SortMessages(out)
	return out, err
}

func (s *BoltStore) SaveMessages(ctx context.Context, conv string, msgs []*chatstore.Message) error {
	return s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		root := tx.Bucket(messagesBucket)
		if root.Bucket([]byte(conv)) != nil {
			if err := root.DeleteBucket([]byte(conv)); err != nil {
				return err
			}
		}
		b, err := root.CreateBucket([]byte(conv))
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := putMessage(b, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) LoadMessages(ctx context.Context, conv string) ([]*chatstore.Message, error) {
	var out []*chatstore.Message
	err := s.withTx(ctx, false, func(tx *bbolt.Tx) error {
		b, _ := convBucket(tx, conv, false)
		var err error
		out, err = scanMessages(b, nil)
		return err
	})
	return out, err
}

func (s *BoltStore) PutMessage(ctx context.Context, m *chatstore.Message) error {
	return s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		b, err := convBucket(tx, m.ConversationID, true)
		if err != nil {
			return err
		}
		return putMessage(b, m)
	})
}

func (s *BoltStore) DeleteMessage(ctx context.Context, conv, id string) (bool, error) {
	var found bool
	err := s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		b, _ := convBucket(tx, conv, false)
		if b == nil || b.Get([]byte(id)) == nil {
			return nil
		}
		found = true
		return b.Delete([]byte(id))
	})
	return found, err
}

func isPending(m *chatstore.Message) bool {
	return m.State == chatstore.StatePending
}

func (s *BoltStore) Pending(ctx context.Context, conv string) ([]*chatstore.Message, error) {
	var out []*chatstore.Message
	err := s.withTx(ctx, false, func(tx *bbolt.Tx) error {
		b, _ := convBucket(tx, conv, false)
		var err error
		out, err = scanMessages(b, isPending)
		return err
	})
	return out, err
}

func (s *BoltStore) PendingConversations(ctx context.Context) ([]string, error) {
	var out []string
	err := s.withTx(ctx, false, func(tx *bbolt.Tx) error {
		root := tx.Bucket(messagesBucket)
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil
			}
			msgs, err := scanMessages(root.Bucket(k), isPending)
			if err != nil {
				return err
			}
			if len(msgs) > 0 {
				out = append(out, string(k))
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) MarkConfirmed(ctx context.Context, conv, localID string, server *chatstore.Message) error {
	return s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		b, err := convBucket(tx, conv, true)
		if err != nil {
			return err
		}
		if err := b.Delete([]byte(localID)); err != nil {
			return err
		}
		if server == nil {
			return nil
		}
		v := server.Clone()
		v.ConversationID = conv
		if v.State == chatstore.StatePending || v.State == "" {
			v.State = chatstore.StateSent
		}
		return putMessage(b, v)
	})
}

func (s *BoltStore) SaveDraft(ctx context.Context, conv, text string) error {
	return s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		b := tx.Bucket(draftsBucket)
		if text == "" {
			return b.Delete([]byte(conv))
		}
		return b.Put([]byte(conv), []byte(text))
	})
}

func (s *BoltStore) LoadDraft(ctx context.Context, conv string) (string, error) {
	var out string
	err := s.withTx(ctx, false, func(tx *bbolt.Tx) error {
		out = string(tx.Bucket(draftsBucket).Get([]byte(conv)))
		return nil
	})
	return out, err
}

func (s *BoltStore) PutBlob(ctx context.Context, key string, data []byte) error {
	return s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		return tx.Bucket(blobsBucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) Blob(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.withTx(ctx, false, func(tx *bbolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteBlob(ctx context.Context, key string) error {
	return s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		return tx.Bucket(blobsBucket).Delete([]byte(key))
	})
}

func (s *BoltStore) PutTask(ctx context.Context, t *TaskRecord) error {
	v, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		return tx.Bucket(tasksBucket).Put([]byte(t.ID), v)
	})
}

func (s *BoltStore) Tasks(ctx context.Context) ([]*TaskRecord, error) {
	var out []*TaskRecord
	err := s.withTx(ctx, false, func(tx *bbolt.Tx) error {
		return tx.Bucket(tasksBucket).ForEach(func(k, v []byte) error {
			var t TaskRecord
			if err := json.Unmarshal(v, &t); err != nil {
				glog.Errorf("store: skip corrupt task %s: %v", k, err)
				return nil
			}
			out = append(out, &t)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteTask(ctx context.Context, id string) error {
	return s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		return tx.Bucket(tasksBucket).Delete([]byte(id))
	})
}

func (s *BoltStore) SetFlag(ctx context.Context, key string, v bool) error {
	return s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		b := tx.Bucket(metaBucket)
		if !v {
			return b.Delete([]byte(key))
		}
		return b.Put([]byte(key), []byte{1})
	})
}

func (s *BoltStore) Flag(ctx context.Context, key string) (bool, error) {
	var out bool
	err := s.withTx(ctx, false, func(tx *bbolt.Tx) error {
		out = tx.Bucket(metaBucket).Get([]byte(key)) != nil
		return nil
	})
	return out, err
}

func (s *BoltStore) ClearConversation(ctx context.Context, conv string) error {
	return s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		root := tx.Bucket(messagesBucket)
		if root.Bucket([]byte(conv)) != nil {
			if err := root.DeleteBucket([]byte(conv)); err != nil {
				return err
			}
		}
		return tx.Bucket(draftsBucket).Delete([]byte(conv))
	})
}

func (s *BoltStore) DeleteOutdated(ctx context.Context, ttlDays int32) (int32, error) {
	return s.deleteBefore(ctx, retentionCutoff(time.Now(), ttlDays))
}

func (s *BoltStore) deleteBefore(ctx context.Context, before time.Time) (int32, error) {
	var n int32
	err := s.withTx(ctx, true, func(tx *bbolt.Tx) error {
		root := tx.Bucket(messagesBucket)
		var convs [][]byte
		if err := root.ForEach(func(k, v []byte) error {
			if v == nil {
				convs = append(convs, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, conv := range convs {
			b := root.Bucket(conv)
			msgs, err := scanMessages(b, func(m *chatstore.Message) bool {
				return !isPending(m) && m.CreatedAt.Before(before)
			})
			if err != nil {
				return err
			}
			for _, m := range msgs {
				if err := b.Delete([]byte(m.ID)); err != nil {
					return err
				}
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
