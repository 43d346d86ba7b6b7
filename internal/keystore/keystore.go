// Package keystore owns the server signing keypair: it loads it from disk
// or generates it on first start, hands it to signers, and rotates it.
package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"useradmin/internal/logging"
	"useradmin/internal/store"
	"useradmin/pkg/signature"
)

var log = logging.For("keystore")

var (
	ErrNotInitialized = errors.New("keystore not initialized")
	ErrKeyGeneration  = errors.New("key generation failed")
	ErrKeyLoad        = errors.New("key load failed")
)

// File names inside Config.Dir.
const (
	PrivateKeyFile = "private.pem"
	PublicKeyFile  = "public.pem"
)

// Config configures a KeyStore.
type Config struct {
	// Dir holds private.pem and public.pem.
	Dir string
	// Scheme is used for generation and rotation. Empty means
	// signature.DefaultScheme.
	Scheme string
	// History records every key the store has used. Nil keeps history in
	// memory only.
	History store.KeyLog
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// Info describes the current public key.
type Info struct {
	PublicKey   string    `json:"publicKey"`
	Scheme      string    `json:"scheme"`
	Algorithm   string    `json:"algorithm"`
	Curve       string    `json:"curve,omitempty"`
	KeySize     int       `json:"keySize,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
}

// KeyStore holds the keypair in memory. It is safe for concurrent use;
// readers never observe a half-rotated key.
type KeyStore struct {
	cfg     Config
	history store.KeyLog
	now     func() time.Time
	init    func() error

	mu        sync.RWMutex
	priv      signature.PrivateKey
	createdAt time.Time
}

var _ signature.KeySource = (*KeyStore)(nil)

// New returns an uninitialized KeyStore.
func New(cfg Config) *KeyStore {
	if cfg.Scheme == "" {
		cfg.Scheme = signature.DefaultScheme
	}
	ks := &KeyStore{cfg: cfg, history: cfg.History, now: cfg.Now}
	if ks.history == nil {
		ks.history = store.NewMemoryKeyLog()
	}
	if ks.now == nil {
		ks.now = time.Now
	}
	ks.init = sync.OnceValue(ks.load)
	return ks
}

// Initialize loads the keypair from disk, generating and persisting a new
// one if none exists. Only the first call does any work; later calls return
// its result.
func (ks *KeyStore) Initialize() error {
	return ks.init()
}

func (ks *KeyStore) privPath() string { return filepath.Join(ks.cfg.Dir, PrivateKeyFile) }
func (ks *KeyStore) pubPath() string  { return filepath.Join(ks.cfg.Dir, PublicKeyFile) }

func (ks *KeyStore) load() error {
	privPEM, err := os.ReadFile(ks.privPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("%w: reading private key: %w", ErrKeyLoad, err)
		}
		if _, err := os.Stat(ks.pubPath()); err == nil {
			return fmt.Errorf("%w: %s exists without %s", ErrKeyLoad, PublicKeyFile, PrivateKeyFile)
		}
		return ks.generate()
	}

	priv, err := signature.ParsePrivateKeyPEM(privPEM)
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %w", ErrKeyLoad, PrivateKeyFile, err)
	}
	if err := ks.checkPublicFile(priv); err != nil {
		return err
	}
	if name := priv.Scheme().Name(); name != ks.cfg.Scheme {
		log.Warn("persisted key scheme differs from configuration; using persisted key",
			"persisted", name, "configured", ks.cfg.Scheme)
	}

	createdAt := ks.now().UTC()
	if fi, err := os.Stat(ks.privPath()); err == nil {
		createdAt = fi.ModTime().UTC()
	}
	ks.install(priv, createdAt)
	log.Info("signing key loaded", "scheme", priv.Scheme().Name(), "fingerprint", signature.Fingerprint(priv.Public()))
	return nil
}

// checkPublicFile rewrites a missing public.pem and rejects one that does
// not belong to priv.
func (ks *KeyStore) checkPublicFile(priv signature.PrivateKey) error {
	pubPEM, err := os.ReadFile(ks.pubPath())
	if os.IsNotExist(err) {
		data, err := priv.Public().MarshalPEM()
		if err != nil {
			return fmt.Errorf("%w: encoding public key: %w", ErrKeyLoad, err)
		}
		if err := writeFileAtomic(ks.pubPath(), data, 0644); err != nil {
			return fmt.Errorf("%w: rewriting %s: %w", ErrKeyLoad, PublicKeyFile, err)
		}
		log.Info("public key file was missing; rewritten from private key")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading public key: %w", ErrKeyLoad, err)
	}
	pub, err := signature.ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %w", ErrKeyLoad, PublicKeyFile, err)
	}
	if !pub.Equal(priv.Public()) {
		return fmt.Errorf("%w: %s does not match %s", ErrKeyLoad, PublicKeyFile, PrivateKeyFile)
	}
	return nil
}

func (ks *KeyStore) generate() error {
	priv, err := ks.newKey()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(ks.cfg.Dir, 0700); err != nil {
		return fmt.Errorf("%w: creating key dir: %w", ErrKeyGeneration, err)
	}
	if err := ks.persist(priv); err != nil {
		return err
	}
	ks.install(priv, ks.now().UTC())
	log.Info("signing key generated", "scheme", priv.Scheme().Name(), "fingerprint", signature.Fingerprint(priv.Public()))
	return nil
}

func (ks *KeyStore) newKey() (signature.PrivateKey, error) {
	scheme, err := signature.SchemeByName(ks.cfg.Scheme)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	priv, err := scheme.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	return priv, nil
}

// persist writes both halves. Each file is replaced atomically; the
// private key goes first so a crash in between leaves a state load can
// detect.
func (ks *KeyStore) persist(priv signature.PrivateKey) error {
	privPEM, err := priv.MarshalPEM()
	if err != nil {
		return fmt.Errorf("%w: encoding private key: %w", ErrKeyGeneration, err)
	}
	pubPEM, err := priv.Public().MarshalPEM()
	if err != nil {
		return fmt.Errorf("%w: encoding public key: %w", ErrKeyGeneration, err)
	}
	if err := writeFileAtomic(ks.privPath(), privPEM, 0600); err != nil {
		return fmt.Errorf("%w: writing private key: %w", ErrKeyGeneration, err)
	}
	if err := writeFileAtomic(ks.pubPath(), pubPEM, 0644); err != nil {
		return fmt.Errorf("%w: writing public key: %w", ErrKeyGeneration, err)
	}
	return nil
}

func (ks *KeyStore) install(priv signature.PrivateKey, createdAt time.Time) {
	ks.mu.Lock()
	ks.priv = priv
	ks.createdAt = createdAt
	ks.mu.Unlock()

	if err := ks.history.Append(recordFor(priv, createdAt)); err != nil {
		log.Warn("recording key in history failed", "err", err)
	}
}

// Rotate replaces the keypair with a fresh one of the configured scheme.
// Records signed earlier stay verifiable because their bundles embed the
// key they were signed with. The store must have been initialized.
func (ks *KeyStore) Rotate() error {
	if _, err := ks.PrivateKey(); err != nil {
		return err
	}
	priv, err := ks.newKey()
	if err != nil {
		return err
	}

	ks.mu.Lock()
	if err := ks.persist(priv); err != nil {
		ks.mu.Unlock()
		return err
	}
	old := ks.priv
	now := ks.now().UTC()
	ks.priv = priv
	ks.createdAt = now
	ks.mu.Unlock()

	oldFP := signature.Fingerprint(old.Public())
	if err := ks.history.Retire(oldFP, now); err != nil {
		log.Warn("retiring key in history failed", "fingerprint", oldFP, "err", err)
	}
	if err := ks.history.Append(recordFor(priv, now)); err != nil {
		log.Warn("recording key in history failed", "err", err)
	}
	log.Info("signing key rotated", "retired", oldFP, "current", signature.Fingerprint(priv.Public()))
	return nil
}

// PrivateKey returns the current signing key.
func (ks *KeyStore) PrivateKey() (signature.PrivateKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.priv == nil {
		return nil, ErrNotInitialized
	}
	return ks.priv, nil
}

// PublicKey returns the public half of the current key.
func (ks *KeyStore) PublicKey() (signature.PublicKey, error) {
	priv, err := ks.PrivateKey()
	if err != nil {
		return nil, err
	}
	return priv.Public(), nil
}

// Info describes the current key.
func (ks *KeyStore) Info() (Info, error) {
	ks.mu.RLock()
	priv, createdAt := ks.priv, ks.createdAt
	ks.mu.RUnlock()
	if priv == nil {
		return Info{}, ErrNotInitialized
	}
	pub := priv.Public()
	s := priv.Scheme()
	return Info{
		PublicKey:   pub.Encode(),
		Scheme:      s.Name(),
		Algorithm:   s.Algorithm(),
		Curve:       s.Curve(),
		KeySize:     s.KeySize(),
		Fingerprint: signature.Fingerprint(pub),
		CreatedAt:   createdAt,
	}, nil
}

// History lists every key this store has used, oldest first.
func (ks *KeyStore) History() ([]store.KeyRecord, error) {
	return ks.history.List()
}

func recordFor(priv signature.PrivateKey, createdAt time.Time) store.KeyRecord {
	pub := priv.Public()
	s := priv.Scheme()
	return store.KeyRecord{
		Fingerprint: signature.Fingerprint(pub),
		PublicKey:   pub.Encode(),
		Algorithm:   s.Algorithm(),
		Curve:       s.Curve(),
		KeySize:     s.KeySize(),
		CreatedAt:   createdAt,
	}
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
