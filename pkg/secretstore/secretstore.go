package secretstore

import (
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Store is a small encrypted-at-rest KV wrapper (Badger) holding broker
// credentials so the access token never lives in a plaintext config file.
// Note: encryption is provided by Badger options, not by this wrapper.
type Store struct {
	db *badger.DB
}

// Well-known keys used by the scalper.
const (
	KeyClientID    = "dhan/client_id"
	KeyAccessToken = "dhan/access_token"
)

// ErrNotFound is returned when the key has never been stored.
var ErrNotFound = errors.New("secretstore: key not found")

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; if nil, DB is opened without encryption (not recommended)
	ReadOnly      bool
}

func Open(opts OpenOptions) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("secretstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if len(opts.EncryptionKey) > 0 {
		// Badger requires an index cache for encrypted workloads.
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Set stores a value under key.
func (s *Store) Set(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("secretstore: empty key")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	var out string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	return out, err
}

// BrokerCredentials fetches the client id / access token pair in one call.
func (s *Store) BrokerCredentials() (clientID, accessToken string, err error) {
	clientID, err = s.Get(KeyClientID)
	if err != nil {
		return "", "", err
	}
	accessToken, err = s.Get(KeyAccessToken)
	if err != nil {
		return "", "", err
	}
	return clientID, accessToken, nil
}
