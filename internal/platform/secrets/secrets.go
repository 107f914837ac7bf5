package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("secrets: not found")

// Store is an opaque get/put/delete secret store backed by a YAML file
// with values sealed by secretbox. The sealing key lives in a separate
// 0600 file created on first use.
type Store struct {
	mu      sync.Mutex
	path    string
	keyPath string
	key     [32]byte
}

func Open(path, keyPath string) (*Store, error) {
	s := &Store{path: path, keyPath: keyPath}
	if err := s.loadOrCreateKey(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadOrCreateKey() error {
	raw, err := os.ReadFile(s.keyPath)
	if err == nil {
		if len(raw) != 32 {
			return fmt.Errorf("secrets: key file %s has %d bytes, want 32", s.keyPath, len(raw))
		}
		copy(s.key[:], raw)
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}

	if _, err := rand.Read(s.key[:]); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0700); err != nil {
		return err
	}
	return os.WriteFile(s.keyPath, s.key[:], 0600)
}

func (s *Store) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}

	sealed := make(map[string]string)
	if err := yaml.Unmarshal(raw, &sealed); err != nil {
		return nil, err
	}
	return sealed, nil
}

func (s *Store) save(sealed map[string]string) error {
	raw, err := yaml.Marshal(sealed)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0600)
}

func (s *Store) seal(value string) string {
	var nonce [24]byte
	rand.Read(nonce[:])
	box := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(box)
}

func (s *Store) open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	if len(raw) < 24 {
		return "", errors.New("secrets: sealed value too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", errors.New("secrets: unseal failed")
	}
	return string(plain), nil
}

func (s *Store) Put(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.load()
	if err != nil {
		return err
	}
	sealed[name] = s.seal(value)
	return s.save(sealed)
}

func (s *Store) Get(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.load()
	if err != nil {
		return "", err
	}
	value, ok := sealed[name]
	if !ok {
		return "", ErrNotFound
	}
	return s.open(value)
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.load()
	if err != nil {
		return err
	}
	delete(sealed, name)
	return s.save(sealed)
}
