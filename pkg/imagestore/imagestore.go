// Package imagestore provides persistent storage for Intcode program images.
//
// Images are content addressed by types.ImageID. Storing the same program
// twice is a no-op that returns the existing ID; a name may be attached to
// an image and later used to look it up.
package imagestore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/intcode/internal/codec"
	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
)

var (
	// ErrImageNotFound is returned when an image doesn't exist.
	ErrImageNotFound = errors.New("image not found")

	// ErrImageTooLarge is returned when an image exceeds the configured size.
	ErrImageTooLarge = errors.New("image too large")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("image store closed")

	// ErrConfigInvalid is returned for an invalid configuration.
	ErrConfigInvalid = errors.New("invalid image store config")
)

// Bucket names for BoltDB.
var (
	// bucketImages stores encoded images keyed by image ID.
	bucketImages = []byte("images")

	// bucketNames maps image names to image IDs.
	bucketNames = []byte("names")

	// bucketMetadata stores store-wide counters.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyImageCount = []byte("image_count")
	keyTotalWords = []byte("total_words")
)

// Info describes a stored image without its words.
type Info struct {
	ID        types.ImageID `json:"id"`
	Name      string        `json:"name,omitempty"`
	Size      int           `json:"size"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Image is a stored program image.
type Image struct {
	Info
	Program intcode.Program `json:"program"`
}

// record is the on-disk form of an image.
type record struct {
	Name      string  `cbor:"1,keyasint,omitempty"`
	Words     []int64 `cbor:"2,keyasint"`
	CreatedAt int64   `cbor:"3,keyasint"`
}

// Stats contains image store statistics.
type Stats struct {
	// ImageCount is the number of distinct images stored.
	ImageCount uint64 `json:"imageCount"`

	// TotalWords is the sum of all image sizes in words.
	TotalWords uint64 `json:"totalWords"`

	// DatabaseSize is the size of the database file in bytes.
	DatabaseSize int64 `json:"databaseSize"`
}

// Store is the image store interface.
type Store interface {
	// Put stores a program under an optional name and returns its ID.
	Put(name string, prog intcode.Program) (types.ImageID, error)
	Get(id types.ImageID) (*Image, error)
	Has(id types.ImageID) bool
	Lookup(name string) (types.ImageID, error)
	Delete(id types.ImageID) error
	List() ([]Info, error)
	Stats() (*Stats, error)
	Close() error
}

// Config holds image store configuration options.
type Config struct {
	// Path is the database file path.
	Path string `toml:"path"`

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool `toml:"no_sync"`

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool `toml:"read_only"`

	// MaxImageWords bounds the size of a stored image. 0 means unlimited.
	MaxImageWords int `toml:"max_image_words"`
}

// DefaultConfig returns the default image store configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		MaxImageWords: 1 << 20,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrConfigInvalid)
	}
	if c.MaxImageWords < 0 {
		return fmt.Errorf("%w: max_image_words must not be negative", ErrConfigInvalid)
	}
	return nil
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config Config

	mu         sync.RWMutex
	imageCount uint64
	totalWords uint64
	closed     bool
}

// Open creates or opens an image store.
func Open(config Config) (*BoltStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{
		db:     db,
		config: config,
	}

	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}

	if err := store.loadCounters(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load counters: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketImages, bucketNames, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) loadCounters() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil // Empty database.
		}
		if v := meta.Get(keyImageCount); v != nil {
			s.imageCount = decodeUint64(v)
		}
		if v := meta.Get(keyTotalWords); v != nil {
			s.totalWords = decodeUint64(v)
		}
		return nil
	})
}

func (s *BoltStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores a program image. If the image already exists only the name
// mapping is updated.
func (s *BoltStore) Put(name string, prog intcode.Program) (types.ImageID, error) {
	if err := s.checkOpen(); err != nil {
		return types.ImageID{}, err
	}
	if len(prog) == 0 {
		return types.ImageID{}, intcode.ErrEmptyProgram
	}
	if s.config.MaxImageWords > 0 && len(prog) > s.config.MaxImageWords {
		return types.ImageID{}, fmt.Errorf("%w: %d words, limit %d", ErrImageTooLarge, len(prog), s.config.MaxImageWords)
	}

	id := types.HashImage(prog)
	data, err := codec.Marshal(&record{
		Name:      name,
		Words:     prog,
		CreatedAt: time.Now().UnixNano(),
	})
	if err != nil {
		return id, fmt.Errorf("encode image: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		images := tx.Bucket(bucketImages)
		if images.Get(id[:]) == nil {
			if err := images.Put(id[:], data); err != nil {
				return err
			}
			added = true

			meta := tx.Bucket(bucketMetadata)
			if err := meta.Put(keyImageCount, encodeUint64(s.imageCount+1)); err != nil {
				return err
			}
			if err := meta.Put(keyTotalWords, encodeUint64(s.totalWords+uint64(len(prog)))); err != nil {
				return err
			}
		}
		if name != "" {
			return tx.Bucket(bucketNames).Put([]byte(name), id[:])
		}
		return nil
	})
	if err != nil {
		return id, err
	}

	if added {
		s.imageCount++
		s.totalWords += uint64(len(prog))
	}
	return id, nil
}

// Get retrieves an image by ID.
func (s *BoltStore) Get(id types.ImageID) (*Image, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketImages).Get(id[:])
		if data == nil {
			return ErrImageNotFound
		}
		return codec.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return rec.image(id), nil
}

// Has checks if an image exists.
func (s *BoltStore) Has(id types.ImageID) bool {
	if s.checkOpen() != nil {
		return false
	}

	exists := false
	s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketImages).Get(id[:]) != nil
		return nil
	})
	return exists
}

// Lookup returns the ID of the image most recently stored under name.
func (s *BoltStore) Lookup(name string) (types.ImageID, error) {
	if err := s.checkOpen(); err != nil {
		return types.ImageID{}, err
	}

	var id types.ImageID
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketNames).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("%w: name %q", ErrImageNotFound, name)
		}
		copy(id[:], v)
		return nil
	})
	return id, err
}

// Delete removes an image and every name pointing at it.
func (s *BoltStore) Delete(id types.ImageID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var size uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		images := tx.Bucket(bucketImages)
		data := images.Get(id[:])
		if data == nil {
			return ErrImageNotFound
		}
		var rec record
		if err := codec.Unmarshal(data, &rec); err != nil {
			return err
		}
		size = uint64(len(rec.Words))
		if err := images.Delete(id[:]); err != nil {
			return err
		}

		// Collect first: deleting while iterating skips keys.
		names := tx.Bucket(bucketNames)
		var stale [][]byte
		names.ForEach(func(k, v []byte) error {
			if bytes.Equal(v, id[:]) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		for _, k := range stale {
			if err := names.Delete(k); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyImageCount, encodeUint64(s.imageCount-1)); err != nil {
			return err
		}
		return meta.Put(keyTotalWords, encodeUint64(s.totalWords-size))
	})
	if err != nil {
		return err
	}

	s.imageCount--
	s.totalWords -= size
	return nil
}

// List returns info for every stored image in ID order.
func (s *BoltStore) List() ([]Info, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var infos []Info
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketImages).ForEach(func(k, v []byte) error {
			var rec record
			if err := codec.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode image %x: %w", k, err)
			}
			id, err := types.ImageIDFromBytes(k)
			if err != nil {
				return err
			}
			infos = append(infos, rec.image(id).Info)
			return nil
		})
	})
	return infos, err
}

// Stats returns store statistics.
func (s *BoltStore) Stats() (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	stats := &Stats{
		ImageCount: s.imageCount,
		TotalWords: s.totalWords,
	}
	s.mu.RUnlock()

	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Close closes the store.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (r *record) image(id types.ImageID) *Image {
	return &Image{
		Info: Info{
			ID:        id,
			Name:      r.Name,
			Size:      len(r.Words),
			CreatedAt: time.Unix(0, r.CreatedAt),
		},
		Program: intcode.Program(r.Words),
	}
}

// Resolve turns a reference into an image ID. A reference is either a
// base58 image ID or a name previously passed to Put.
func Resolve(s Store, ref string) (types.ImageID, error) {
	if id, err := types.ImageIDFromBase58(ref); err == nil {
		if s.Has(id) {
			return id, nil
		}
	}
	return s.Lookup(ref)
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
