package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/geometry"
)

const (
	// BucketName for storing conversions
	BucketName = "conversions"

	// ImageBucket indexes conversions by image digest
	ImageBucket = "images"

	// MetaBucket for storing metadata
	MetaBucket = "meta"

	// TotalKey tracks how many conversions were ever stored
	TotalKey = "total"
)

// ErrNotFound is returned when no conversion matches.
var ErrNotFound = errors.New("conversion not found")

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("store is closed")

// Conversion is one stored image-to-FEN result.
type Conversion struct {
	ID          uint64             `json:"id"`
	FEN         string             `json:"fen"`
	SideHint    string             `json:"side_hint"`
	Corners     geometry.CornerSet `json:"corners"`
	ImageSHA256 string             `json:"image_sha256"`
	Source      string             `json:"source"`               // file path or "screen"
	Recognizer  string             `json:"recognizer,omitempty"` // fingerprint of the settings that produced FEN
	Warnings    []string           `json:"warnings,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// FENWith returns the stored board field followed by meta, so a reused
// conversion reports the metadata of the current request.
func (c *Conversion) FENWith(meta fen.Metadata) (string, error) {
	rec, err := fen.Parse(c.FEN)
	if err != nil {
		return "", fmt.Errorf("conversion %d: %w", c.ID, err)
	}
	rec.Metadata = meta
	return fen.Encode(rec), nil
}

// ImageDigest returns the hex SHA-256 used to index images.
func ImageDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ConversionStore keeps a bounded history of conversions in BoltDB. Keys
// are big-endian sequence numbers, so iteration order is insertion order.
type ConversionStore struct {
	db         *bbolt.DB
	dbPath     string
	maxRecords int
	isClosed   bool
}

// NewConversionStore opens or creates the store at dbPath. maxRecords <= 0
// keeps every record.
func NewConversionStore(dbPath string, maxRecords int) (*ConversionStore, error) {
	// Open database with timeout
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketName, ImageBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &ConversionStore{
		db:         db,
		dbPath:     dbPath,
		maxRecords: maxRecords,
	}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Put stores c, assigning its ID (and CreatedAt when zero), and prunes the
// oldest records beyond the configured maximum.
func (s *ConversionStore) Put(c *Conversion) error {
	if s.isClosed {
		return ErrClosed
	}
	if c == nil {
		return fmt.Errorf("nil conversion")
	}
	if c.FEN == "" {
		return fmt.Errorf("conversion has no FEN")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketName))

		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		c.ID = id
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal conversion: %w", err)
		}
		if err := b.Put(itob(id), data); err != nil {
			return err
		}

		if c.ImageSHA256 != "" {
			if err := tx.Bucket([]byte(ImageBucket)).Put([]byte(c.ImageSHA256), itob(id)); err != nil {
				return err
			}
		}

		meta := tx.Bucket([]byte(MetaBucket))
		total := uint64(0)
		if v := meta.Get([]byte(TotalKey)); v != nil {
			total = binary.BigEndian.Uint64(v)
		}
		if err := meta.Put([]byte(TotalKey), itob(total+1)); err != nil {
			return err
		}

		return s.prune(tx)
	})
}

// prune deletes the oldest records until at most maxRecords remain.
func (s *ConversionStore) prune(tx *bbolt.Tx) error {
	if s.maxRecords <= 0 {
		return nil
	}

	b := tx.Bucket([]byte(BucketName))
	excess := countKeys(b) - s.maxRecords
	if excess <= 0 {
		return nil
	}

	images := tx.Bucket([]byte(ImageBucket))
	var stale [][]byte
	c := b.Cursor()
	for k, v := c.First(); k != nil && len(stale) < excess; k, v = c.Next() {
		stale = append(stale, append([]byte(nil), k...))

		var old Conversion
		if err := json.Unmarshal(v, &old); err == nil && old.ImageSHA256 != "" {
			// Only drop the index entry if it still points at this record.
			if bytes.Equal(images.Get([]byte(old.ImageSHA256)), k) {
				if err := images.Delete([]byte(old.ImageSHA256)); err != nil {
					return err
				}
			}
		}
	}

	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func countKeys(b *bbolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

// Get returns the conversion with the given ID.
func (s *ConversionStore) Get(id uint64) (*Conversion, error) {
	if s.isClosed {
		return nil, ErrClosed
	}

	var conv *Conversion
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		conv, err = get(tx, itob(id))
		return err
	})
	return conv, err
}

func get(tx *bbolt.Tx, key []byte) (*Conversion, error) {
	data := tx.Bucket([]byte(BucketName)).Get(key)
	if data == nil {
		return nil, ErrNotFound
	}
	var c Conversion
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode conversion %d: %w", binary.BigEndian.Uint64(key), err)
	}
	return &c, nil
}

// List returns up to limit conversions, newest first. limit <= 0 returns
// all of them.
func (s *ConversionStore) List(limit int) ([]Conversion, error) {
	if s.isClosed {
		return nil, ErrClosed
	}

	var out []Conversion
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var conv Conversion
			if err := json.Unmarshal(v, &conv); err != nil {
				continue // Skip corrupted records
			}
			out = append(out, conv)
		}
		return nil
	})
	return out, err
}

// FindByImage returns the latest conversion of the image with the given
// SHA-256 digest.
func (s *ConversionStore) FindByImage(digest string) (*Conversion, error) {
	if s.isClosed {
		return nil, ErrClosed
	}

	var conv *Conversion
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(ImageBucket)).Get([]byte(digest))
		if key == nil {
			return ErrNotFound
		}
		var err error
		conv, err = get(tx, key)
		return err
	})
	return conv, err
}

// Lookup returns the latest conversion of the image with the given digest
// when it was made from the same corners by the same recognizer settings.
// Anything else is ErrNotFound.
func (s *ConversionStore) Lookup(digest string, corners geometry.CornerSet, recognizer string) (*Conversion, error) {
	conv, err := s.FindByImage(digest)
	if err != nil {
		return nil, err
	}
	if conv.Corners != corners || conv.Recognizer != recognizer {
		return nil, ErrNotFound
	}
	return conv, nil
}

// Count returns the number of conversions currently held.
func (s *ConversionStore) Count() (int, error) {
	if s.isClosed {
		return 0, ErrClosed
	}

	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = countKeys(tx.Bucket([]byte(BucketName)))
		return nil
	})
	return n, err
}

// Clear removes all conversions. IDs keep increasing afterwards.
func (s *ConversionStore) Clear() error {
	if s.isClosed {
		return ErrClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		seq := tx.Bucket([]byte(BucketName)).Sequence()

		for _, name := range []string{BucketName, ImageBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}

		return tx.Bucket([]byte(BucketName)).SetSequence(seq)
	})
}

// Close closes the database connection
func (s *ConversionStore) Close() error {
	if s.isClosed {
		return nil
	}

	s.isClosed = true
	return s.db.Close()
}

// Stats returns statistics about the store
type Stats struct {
	TotalStored uint64 // conversions ever stored, including pruned ones
	Records     int
	MaxRecords  int
	DBPath      string
	Pruned      bool
}

// GetStats returns current statistics
func (s *ConversionStore) GetStats() (Stats, error) {
	if s.isClosed {
		return Stats{}, ErrClosed
	}

	var st Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		st.Records = countKeys(tx.Bucket([]byte(BucketName)))
		if v := tx.Bucket([]byte(MetaBucket)).Get([]byte(TotalKey)); v != nil {
			st.TotalStored = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	st.MaxRecords = s.maxRecords
	st.DBPath = s.dbPath
	st.Pruned = st.TotalStored > uint64(st.Records)
	return st, nil
}
