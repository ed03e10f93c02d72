// ABOUTME: API key allow-list stored as a JSON array under the api_keys KV entry
// ABOUTME: Entries are literal keys or fingerprint-indexed bcrypt hashes; the list is re-read on every check

package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/campaign-gateway/internal/store"
)

// KeysKey is the KV key holding the allow-list
const KeysKey = "api_keys"

// ErrKeyNotFound is returned when removing a key that is not on the list
var ErrKeyNotFound = errors.New("key not in allow-list")

// hashedPrefix marks an entry of the form "fp:<fingerprint>:<bcrypt hash>"
const hashedPrefix = "fp:"

// compareHash is swapped out by tests to count bcrypt work
var compareHash = bcrypt.CompareHashAndPassword

// AllowList checks credentials against the stored list of API keys.
// When the list has never been written, the fallback keys apply.
type AllowList struct {
	kv       store.KV
	fallback []string
}

// NewAllowList creates an allow-list backed by kv
func NewAllowList(kv store.KV, fallback []string) *AllowList {
	return &AllowList{kv: kv, fallback: slices.Clone(fallback)}
}

// Keys returns the current list entries, or the fallback if none are stored
func (a *AllowList) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := store.GetJSON(ctx, a.kv, KeysKey, &keys)
	if errors.Is(err, store.ErrNotFound) {
		return slices.Clone(a.fallback), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading allow-list: %w", err)
	}
	return keys, nil
}

// Contains reports whether token matches any entry. Hashed entries are
// bcrypt-verified only when their fingerprint matches the token's.
func (a *AllowList) Contains(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	keys, err := a.Keys(ctx)
	if err != nil {
		return false, err
	}
	fp := Fingerprint(token)
	for _, entry := range keys {
		if matchKey(entry, token, fp) {
			return true, nil
		}
	}
	return false, nil
}

// Add appends an entry. Adding an entry that is already present is a no-op.
func (a *AllowList) Add(ctx context.Context, entry string) error {
	keys, err := a.Keys(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(keys, entry) {
		return nil
	}
	return a.save(ctx, append(keys, entry))
}

// Remove deletes the entry equal to key, or the hashed entry key verifies against
func (a *AllowList) Remove(ctx context.Context, key string) error {
	keys, err := a.Keys(ctx)
	if err != nil {
		return err
	}
	fp := Fingerprint(key)
	kept := slices.DeleteFunc(slices.Clone(keys), func(entry string) bool {
		return entry == key || matchKey(entry, key, fp)
	})
	if len(kept) == len(keys) {
		return ErrKeyNotFound
	}
	return a.save(ctx, kept)
}

func (a *AllowList) save(ctx context.Context, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	if err := store.PutJSON(ctx, a.kv, KeysKey, keys, 0); err != nil {
		return fmt.Errorf("saving allow-list: %w", err)
	}
	return nil
}

// HashKey returns an allow-list entry for key: its fingerprint followed by a
// bcrypt hash, so a lookup runs at most one bcrypt comparison per matching
// fingerprint.
func HashKey(key string) (string, error) {
	return hashKeyCost(key, bcrypt.DefaultCost)
}

func hashKeyCost(key string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("hashing key: %w", err)
	}
	return hashedPrefix + Fingerprint(key) + ":" + string(hash), nil
}

// Fingerprint returns a short, non-reversible identifier for a key, safe to log
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}

// EntryFingerprint returns the fingerprint recorded in a hashed entry
func EntryFingerprint(entry string) (string, bool) {
	fp, _, ok := splitHashed(entry)
	return fp, ok
}

// IsHashed reports whether entry is stored as a hash rather than a literal key
func IsHashed(entry string) bool {
	_, _, ok := splitHashed(entry)
	return ok || isBcryptHash(entry)
}

func splitHashed(entry string) (fp, hash string, ok bool) {
	rest, ok := strings.CutPrefix(entry, hashedPrefix)
	if !ok {
		return "", "", false
	}
	fp, hash, ok = strings.Cut(rest, ":")
	return fp, hash, ok && isBcryptHash(hash)
}

func isBcryptHash(entry string) bool {
	return strings.HasPrefix(entry, "$2a$") ||
		strings.HasPrefix(entry, "$2b$") ||
		strings.HasPrefix(entry, "$2y$")
}

// matchKey checks token (with fingerprint tokenFP) against one entry. Bare
// bcrypt hashes written by hand are still accepted but always cost a compare.
func matchKey(entry, token, tokenFP string) bool {
	if fp, hash, ok := splitHashed(entry); ok {
		if subtle.ConstantTimeCompare([]byte(fp), []byte(tokenFP)) != 1 {
			return false
		}
		return compareHash([]byte(hash), []byte(token)) == nil
	}
	if isBcryptHash(entry) {
		return compareHash([]byte(entry), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(entry), []byte(token)) == 1
}
