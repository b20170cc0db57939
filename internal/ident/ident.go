// Package ident manages identity for pressq: unique message IDs and the
// persistent identity of a server instance. Every instance has a ULID that is
// generated on first start and stored in the data directory, so restarts keep
// the same identity in health reports and logs.
package ident

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const serverIDFile = "server_id"

// ID is a ULID string identifying a pressq process.
// It is stable across restarts within the same data directory.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool { return id == "" }

// Server holds the persistent identity of this instance.
type Server struct {
	id      ID
	dataDir string
}

// NewServer returns a Server whose ID is loaded from dataDir/server_id.
// If the file does not exist a new ULID is generated and written.
// If override is "auto" or empty the file-based ID is used.
func NewServer(dataDir, override string) (*Server, error) {
	if dataDir == "" {
		return nil, errors.New("ident: dataDir must not be empty")
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("ident: create data dir: %w", err)
	}

	// Explicit override takes precedence (useful in tests / container envs).
	if override != "" && override != "auto" {
		if err := validateULID(override); err != nil {
			return nil, fmt.Errorf("ident: invalid id override %q: %w", override, err)
		}
		return &Server{id: ID(override), dataDir: dataDir}, nil
	}

	id, err := loadOrGenerate(dataDir)
	if err != nil {
		return nil, err
	}
	return &Server{id: id, dataDir: dataDir}, nil
}

// ID returns the instance's stable ULID string.
func (s *Server) ID() ID { return s.id }

// DataDir returns the root data directory for this instance.
func (s *Server) DataDir() string { return s.dataDir }

// loadOrGenerate reads the server ID from disk, creating a new one if absent.
func loadOrGenerate(dataDir string) (ID, error) {
	path := filepath.Join(dataDir, serverIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if err := validateULID(id); err != nil {
			return "", fmt.Errorf("ident: persisted id %q is invalid: %w", id, err)
		}
		return ID(id), nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("ident: read id file: %w", err)
	}

	id, err := generateULID()
	if err != nil {
		return "", fmt.Errorf("ident: generate id: %w", err)
	}

	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("ident: persist id: %w", err)
	}

	return id, nil
}

// monoEntropy is a package-level monotone entropy source shared across all
// generateULID calls. A single shared source keeps ULIDs lexicographically
// ordered even when generated within the same millisecond, which preserves
// submission ordering when ids are sorted.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

func generateULID() (ID, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	ms := ulid.Timestamp(time.Now())
	id, err := ulid.New(ms, monoEntropy)
	if err != nil {
		return "", err
	}
	return ID(id.String()), nil
}

// validateULID returns an error if s is not a well-formed ULID string.
func validateULID(s string) error {
	_, err := ulid.ParseStrict(s)
	return err
}

// NewID generates a fresh ULID. Used for message IDs and subscription IDs.
func NewID() (string, error) {
	id, err := generateULID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewID is like NewID but panics on error. Use only in tests or init code.
func MustNewID() string {
	id, err := NewID()
	if err != nil {
		panic(fmt.Sprintf("ident.MustNewID: %v", err))
	}
	return id
}
