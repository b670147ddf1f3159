// Package filestore keeps uploaded proposal artifacts and evaluation sheets
// on local disk. Every upload gets its own ref, a keyed BLAKE3 digest over a
// per-upload nonce and the content, so no two owners ever share an object.
package filestore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/louisbranch/reviewdesk/internal/platform/id"
)

const (
	refPrefix  = "blob-"
	objectsDir = "objects"
	tmpDir     = "tmp"

	// MaxObjectBytes bounds a single stored object.
	MaxObjectBytes = 32 << 20
)

// objectDomainKey separates object digests from any other BLAKE3 use.
var objectDomainKey = [32]byte{
	'r', 'e', 'v', 'i', 'e', 'w', 'd', 'e', 's', 'k', '.', 'f', 'i', 'l', 'e', 's',
	't', 'o', 'r', 'e', '.', 'o', 'b', 'j', 'e', 'c', 't', 0, 0, 0, 0, 0,
}

var (
	// ErrNotFound is returned when no object exists for a ref.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidRef is returned for refs this store never issued.
	ErrInvalidRef = errors.New("invalid object ref")
	// ErrTooLarge is returned when an upload exceeds MaxObjectBytes.
	ErrTooLarge = errors.New("object too large")
)

// Object is one stored file with its original name and content type.
type Object struct {
	Ref         string
	Name        string
	ContentType string
	Data        []byte
}

type metadata struct {
	Nonce       string `json:"nonce"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Store is a directory-backed object store.
type Store struct {
	root     string
	newNonce func() (string, error)
}

// New prepares root for use.
func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("file store root is required")
	}
	for _, dir := range []string{objectsDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}
	return &Store{root: root, newNonce: id.NewID}, nil
}

// Put stores the content read from r under a new ref. Uploading the same
// bytes twice yields two independent objects.
func (s *Store) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxObjectBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxObjectBytes {
		return "", ErrTooLarge
	}
	nonce, err := s.newNonce()
	if err != nil {
		return "", fmt.Errorf("generate object nonce: %w", err)
	}
	meta := metadata{
		Nonce:       nonce,
		Name:        filepath.Base(strings.TrimSpace(name)),
		ContentType: strings.TrimSpace(contentType),
		Size:        len(data),
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	digest := objectDigest(meta, data)
	ref := refPrefix + digest

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	if err := s.writeAtomic(s.metaPath(digest), metaBytes); err != nil {
		return "", err
	}
	if err := s.writeAtomic(s.dataPath(digest), data); err != nil {
		return "", err
	}
	return ref, nil
}

// Open loads the object for ref.
func (s *Store) Open(ctx context.Context, ref string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	digest, err := parseRef(ref)
	if err != nil {
		return Object{}, err
	}
	metaBytes, err := os.ReadFile(s.metaPath(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("read metadata for %s: %w", ref, err)
	}
	var meta metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return Object{}, fmt.Errorf("decode metadata for %s: %w", ref, err)
	}
	data, err := os.ReadFile(s.dataPath(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, ErrNotFound
		}
		return Object{}, fmt.Errorf("read object %s: %w", ref, err)
	}
	if objectDigest(meta, data) != digest {
		return Object{}, fmt.Errorf("object %s failed integrity check", ref)
	}
	return Object{Ref: ref, Name: meta.Name, ContentType: meta.ContentType, Data: data}, nil
}

// Delete removes the object for ref. Deleting a missing object succeeds.
func (s *Store) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	digest, err := parseRef(ref)
	if err != nil {
		return err
	}
	for _, path := range []string{s.dataPath(digest), s.metaPath(digest)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", ref, err)
		}
	}
	return nil
}

func (s *Store) writeAtomic(finalPath string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "object-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("create object directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("move object into place: %w", err)
	}
	return nil
}

func (s *Store) dataPath(digest string) string {
	return filepath.Join(s.root, objectsDir, digest[:2], digest+".bin")
}

func (s *Store) metaPath(digest string) string {
	return filepath.Join(s.root, objectsDir, digest[:2], digest+".json")
}

func objectDigest(meta metadata, data []byte) string {
	hasher, err := blake3.NewKeyed(objectDomainKey[:])
	if err != nil {
		panic("filestore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(meta.Nonce))
	hasher.Write([]byte{0})
	hasher.Write([]byte(meta.Name))
	hasher.Write([]byte{0})
	hasher.Write([]byte(meta.ContentType))
	hasher.Write([]byte{0})
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

func parseRef(ref string) (string, error) {
	digest, ok := strings.CutPrefix(strings.TrimSpace(ref), refPrefix)
	if !ok || len(digest) != 64 {
		return "", ErrInvalidRef
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", ErrInvalidRef
	}
	return strings.ToLower(digest), nil
}
