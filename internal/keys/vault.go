package keys

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/tink-crypto/tink-go/v2/daead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	aes_sivpb "github.com/tink-crypto/tink-go/v2/proto/aes_siv_go_proto"
	tinkpb "github.com/tink-crypto/tink-go/v2/proto/tink_go_proto"

	"google.golang.org/protobuf/proto"
)

const (
	// aesSivKeySize is the key size AES-SIV needs: two AES-256 keys.
	aesSivKeySize = 64
	saltSize      = 16

	maxArgonTime   = 1 << 8
	maxArgonMemory = 1 << 22
)

// Cost are the Argon2id parameters used to stretch a passphrase.
type Cost struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultCost is used by NewVault.
var DefaultCost = Cost{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}

func (c Cost) validate() error {
	if c.Time == 0 || c.Time > maxArgonTime || c.MemoryKiB < 8*uint32(c.Threads) || c.MemoryKiB > maxArgonMemory || c.Threads == 0 {
		return fmt.Errorf("%w: argon2 cost out of range: %+v", ErrMalformed, c)
	}

	return nil
}

// Vault seals private seeds under a passphrase with AES-SIV.
//
// Argon2id runs once per salt. A Vault picks one salt the first time it
// seals and reuses it, together with the derived key, for every later seal
// under the same Cost. Opening caches the key derived for each salt it meets,
// so a whole batch of artifacts costs one derivation. Safe for concurrent use.
type Vault struct {
	passphrase []byte

	// Cost applies to newly sealed keys; opening uses the cost recorded in the artifact.
	Cost Cost

	// Rand supplies salts.
	Rand io.Reader

	mu       sync.Mutex
	salt     []byte
	saltCost Cost
	derived  map[derivation]deterministicAEAD
	count    int
}

// derivation identifies one Argon2id run.
type derivation struct {
	salt string
	cost Cost
}

// NewVault copies passphrase into a new Vault.
func NewVault(passphrase []byte) (*Vault, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}

	return &Vault{
		passphrase: bytes.Clone(passphrase),
		Cost:       DefaultCost,
		Rand:       rand.Reader,
		derived:    make(map[derivation]deterministicAEAD),
	}, nil
}

// Seal encrypts secret, binding it to associatedData.
func (v *Vault) Seal(secret, associatedData []byte) (*Sealed, error) {
	if err := v.Cost.validate(); err != nil {
		return nil, err
	}

	cost := v.Cost

	salt, err := v.sealingSalt(cost)
	if err != nil {
		return nil, err
	}

	primitive, err := v.primitive(salt, cost)
	if err != nil {
		return nil, err
	}

	ciphertext, err := primitive.EncryptDeterministically(secret, associatedData)
	if err != nil {
		return nil, fmt.Errorf("sealing: %w", err)
	}

	return &Sealed{
		Ciphertext: ciphertext,
		Salt:       salt,
		Time:       cost.Time,
		MemoryKiB:  cost.MemoryKiB,
		Threads:    cost.Threads,
	}, nil
}

// sealingSalt returns the salt new seals use under cost, drawing a fresh one
// when none exists yet or the cost changed.
func (v *Vault) sealingSalt(cost Cost) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.salt != nil && v.saltCost == cost {
		return bytes.Clone(v.salt), nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(v.Rand, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	v.salt, v.saltCost = salt, cost

	return bytes.Clone(salt), nil
}

// Open decrypts a sealed secret. A wrong passphrase or mismatched
// associatedData fails with ErrUnseal.
func (v *Vault) Open(sealed *Sealed, associatedData []byte) ([]byte, error) {
	cost := Cost{Time: sealed.Time, MemoryKiB: sealed.MemoryKiB, Threads: sealed.Threads}
	if err := cost.validate(); err != nil {
		return nil, err
	}

	primitive, err := v.primitive(sealed.Salt, cost)
	if err != nil {
		return nil, err
	}

	secret, err := primitive.DecryptDeterministically(sealed.Ciphertext, associatedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnseal, err)
	}

	return secret, nil
}

// Derivations reports how many times Argon2id has run.
func (v *Vault) Derivations() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.count
}

// Wipe zeroes the stored passphrase and drops every derived key.
func (v *Vault) Wipe() {
	v.mu.Lock()
	defer v.mu.Unlock()

	ZeroBytes(v.passphrase)
	clear(v.derived)

	v.salt = nil
}

type deterministicAEAD interface {
	EncryptDeterministically(plaintext, associatedData []byte) ([]byte, error)
	DecryptDeterministically(ciphertext, associatedData []byte) ([]byte, error)
}

// primitive returns the cached AEAD for salt and cost, deriving it on first
// use. The lock is held across the derivation so each salt is derived once.
func (v *Vault) primitive(salt []byte, cost Cost) (deterministicAEAD, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := derivation{salt: string(salt), cost: cost}

	if cached, ok := v.derived[id]; ok {
		return cached, nil
	}

	if v.derived == nil {
		v.derived = make(map[derivation]deterministicAEAD)
	}

	v.count++

	key := argon2.IDKey(v.passphrase, salt, cost.Time, cost.MemoryKiB, cost.Threads, aesSivKeySize)
	defer ZeroBytes(key)

	kh, err := newDeterministicAEADKeyHandle(key)
	if err != nil {
		return nil, err
	}

	primitive, err := daead.New(kh)
	if err != nil {
		return nil, fmt.Errorf("creating DeterministicAEAD: %w", err)
	}

	v.derived[id] = primitive

	return primitive, nil
}

// newDeterministicAEADKeyHandle creates a Tink keyset handle for AES-SIV from raw key bytes.
func newDeterministicAEADKeyHandle(key []byte) (*keyset.Handle, error) {
	aesSivKey := &aes_sivpb.AesSivKey{
		Version:  0,
		KeyValue: key,
	}

	serializedKey, err := proto.Marshal(aesSivKey)
	if err != nil {
		return nil, fmt.Errorf("serializing AesSivKey: %w", err)
	}

	keySet := &tinkpb.Keyset{
		PrimaryKeyId: 1,
		Key: []*tinkpb.Keyset_Key{
			{
				KeyData: &tinkpb.KeyData{
					TypeUrl:         "type.googleapis.com/google.crypto.tink.AesSivKey",
					Value:           serializedKey,
					KeyMaterialType: tinkpb.KeyData_SYMMETRIC,
				},
				Status:           tinkpb.KeyStatusType_ENABLED,
				KeyId:            1,
				OutputPrefixType: tinkpb.OutputPrefixType_RAW,
			},
		},
	}

	serializedKeyset, err := proto.Marshal(keySet)
	if err != nil {
		return nil, fmt.Errorf("serializing keyset: %w", err)
	}

	handle, err := insecurecleartextkeyset.Read(keyset.NewBinaryReader(bytes.NewReader(serializedKeyset)))
	if err != nil {
		return nil, fmt.Errorf("creating keyset handle: %w", err)
	}

	return handle, nil
}
