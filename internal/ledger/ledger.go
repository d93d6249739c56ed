package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/signer"
)

// HashBytes computes the SHA-256 digest bytes for input data.
func HashBytes(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

// HashHex returns the hex-encoded SHA-256 of the input bytes.
func HashHex(b []byte) string {
	return hex.EncodeToString(HashBytes(b))
}

// Storage is the persistence abstraction beneath the ledger. Implementations
// must provide atomic, append-only record writes; the chaining logic lives
// above this interface.
type Storage interface {
	// Append durably persists one artifact as a single atomic write.
	Append(ctx context.Context, a *ProofArtifact) error

	// ReadAll returns every artifact in sequence order.
	ReadAll(ctx context.Context) ([]ProofArtifact, error)

	// Tail returns the last appended artifact, or ErrNotFound when empty.
	Tail(ctx context.Context) (*ProofArtifact, error)

	// Ping validates the storage is reachable.
	Ping(ctx context.Context) error
}

// Ledger seals decisions into the hash chain. Appends are strictly serialized:
// the mutex is held for the hash computation and the storage write only, never
// across backend I/O.
type Ledger struct {
	storage Storage
	signer  signer.Signer

	mu        sync.Mutex
	lastHash  string
	nextSeq   int64
	corrupted bool

	// verifyKeys maps signerID to Ed25519 public keys for chain verification.
	verifyKeys map[string][]byte

	// archiver, when set, receives every sealed artifact for long-term
	// storage. Delivery is best-effort and never blocks Append.
	archiver Archiver
}

// Open initializes a Ledger, recovering the chain head from the storage tail.
func Open(ctx context.Context, storage Storage, s signer.Signer) (*Ledger, error) {
	l := &Ledger{
		storage:    storage,
		signer:     s,
		lastHash:   GenesisHash,
		verifyKeys: map[string][]byte{},
	}
	tail, err := storage.Tail(ctx)
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	if tail != nil {
		l.lastHash = tail.CurrentHash
		l.nextSeq = tail.SequenceIndex + 1
	}
	log.Printf("[ledger] opened at seq=%d head=%.12s", l.nextSeq, l.lastHash)
	return l, nil
}

// SetArchiver attaches a long-term artifact archiver. Must be called before
// the first Append.
func (l *Ledger) SetArchiver(a Archiver) {
	l.archiver = a
}

// RegisterVerifyKey makes a signer's public key available to VerifyChain.
func (l *Ledger) RegisterVerifyKey(signerID string, pub []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verifyKeys[signerID] = append([]byte(nil), pub...)
}

// Head returns the current chain head hash.
func (l *Ledger) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Append seals a decision into the chain and persists it. Returns ErrCorrupted
// once chain verification has failed, until the inconsistency is resolved.
func (l *Ledger) Append(ctx context.Context, d Decision) (*ProofArtifact, error) {
	if d.DecisionID == "" {
		d.DecisionID = uuid.New().String()
	}
	switch d.Type {
	case DecisionPromote, DecisionRollback, DecisionBlock:
	default:
		return nil, fmt.Errorf("ledger: invalid decision type %q", d.Type)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.corrupted {
		return nil, ErrCorrupted
	}

	// Microsecond precision: timestamptz columns keep at most microseconds, so
	// hashing nanoseconds would break chain verification after a Postgres
	// round trip.
	a := &ProofArtifact{
		SequenceIndex: l.nextSeq,
		Timestamp:     time.Now().UTC().Truncate(time.Microsecond),
		DecisionID:    d.DecisionID,
		DecisionType:  d.Type,
		ChampionID:    d.ChampionID,
		ChallengerID:  d.ChallengerID,
		Gate:          d.Gate,
		Reason:        d.Reason,
		CostIncurred:  d.CostIncurred,
		Metadata:      d.Metadata,
		PrevHash:      l.lastHash,
	}
	hash, err := a.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("hash artifact: %w", err)
	}
	a.CurrentHash = hash

	if l.signer != nil {
		raw, err := hex.DecodeString(hash)
		if err != nil {
			return nil, fmt.Errorf("decode artifact hash: %w", err)
		}
		sig, signerID, err := l.signer.Sign(raw)
		if err != nil {
			return nil, fmt.Errorf("sign artifact: %w", err)
		}
		a.Signature = base64.StdEncoding.EncodeToString(sig)
		a.SignerID = signerID
	}

	if err := l.storage.Append(ctx, a); err != nil {
		return nil, fmt.Errorf("append artifact: %w", err)
	}
	l.lastHash = a.CurrentHash
	l.nextSeq++

	if l.archiver != nil {
		go func(artifact ProofArtifact) {
			actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := l.archiver.ArchiveArtifact(actx, &artifact); err != nil {
				log.Printf("[ledger] archive %s: %v", artifact.DecisionID, err)
			}
		}(*a)
	}
	return a, nil
}

// ReadAll returns every artifact in sequence order.
func (l *Ledger) ReadAll(ctx context.Context) ([]ProofArtifact, error) {
	return l.storage.ReadAll(ctx)
}

// Ping reports whether the underlying storage is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.storage.Ping(ctx)
}

// VerifyChain walks every record in order and checks hash correctness, prevHash
// linkage back to genesis, and (when a public key is registered) the Ed25519
// signature. Returns (true, -1, nil) for a valid chain, or (false, i, nil) with
// i the index of the first broken link. A broken chain marks the ledger
// corrupted and refuses all further appends.
func (l *Ledger) VerifyChain(ctx context.Context) (bool, int, error) {
	artifacts, err := l.storage.ReadAll(ctx)
	if err != nil {
		return false, -1, fmt.Errorf("read chain: %w", err)
	}

	prev := GenesisHash
	for i := range artifacts {
		a := &artifacts[i]

		if i == 0 && !isZeroHash(a.PrevHash) {
			return l.markCorrupted(i)
		}
		if i > 0 && a.PrevHash != prev {
			return l.markCorrupted(i)
		}

		computed, err := a.ComputeHash()
		if err != nil {
			return false, -1, fmt.Errorf("recompute hash at %d: %w", i, err)
		}
		if computed != a.CurrentHash {
			return l.markCorrupted(i)
		}

		if a.Signature != "" {
			if ok := l.verifySignature(a); !ok {
				return l.markCorrupted(i)
			}
		}
		prev = a.CurrentHash
	}
	return true, -1, nil
}

func (l *Ledger) verifySignature(a *ProofArtifact) bool {
	l.mu.Lock()
	pub, ok := l.verifyKeys[a.SignerID]
	l.mu.Unlock()
	if !ok {
		// Unknown signer: nothing to verify against, hash checks still hold.
		return true
	}
	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	if err != nil {
		return false
	}
	raw, err := hex.DecodeString(a.CurrentHash)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), raw, sig)
}

func (l *Ledger) markCorrupted(index int) (bool, int, error) {
	l.mu.Lock()
	l.corrupted = true
	l.mu.Unlock()
	log.Printf("[ledger] chain verification failed at index %d, appends refused", index)
	return false, index, nil
}

// ReplaySpentSince sums the committed cost of artifacts recorded at or after
// the given boundary. Used at startup to reconstruct budget spend from the
// ledger instead of a separate checkpoint.
func (l *Ledger) ReplaySpentSince(ctx context.Context, since time.Time) (float64, error) {
	artifacts, err := l.storage.ReadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("replay ledger: %w", err)
	}
	var spent float64
	for i := range artifacts {
		if artifacts[i].Timestamp.Before(since) {
			continue
		}
		spent += artifacts[i].CostIncurred
	}
	return spent, nil
}
