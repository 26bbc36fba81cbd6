package testutil

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// DefaultConcurrency is the goroutine fan-out used by concurrency tests.
	DefaultConcurrency = 100

	// NightlyConcurrency is used when TEST_MODE=nightly.
	NightlyConcurrency = 1000

	// TestChainID is the chain id used by wallet and queue tests.
	TestChainID = 1337
)

// IsNightlyMode reports whether TEST_MODE=nightly is set.
func IsNightlyMode() bool {
	return os.Getenv("TEST_MODE") == "nightly"
}

// GetTestConcurrency returns the goroutine fan-out for concurrency tests.
func GetTestConcurrency() int {
	if IsNightlyMode() {
		return NightlyConcurrency
	}
	return DefaultConcurrency
}

// GenerateDeterministicBytes returns length bytes derived from seed.
// The same seed always yields the same bytes.
func GenerateDeterministicBytes(seed int, length int) []byte {
	out := make([]byte, 0, length)
	var counter uint64
	for len(out) < length {
		var buf [16]byte
		binary.BigEndian.PutUint64(buf[:8], uint64(seed))
		binary.BigEndian.PutUint64(buf[8:], counter)
		sum := sha256.Sum256(buf[:])
		out = append(out, sum[:]...)
		counter++
	}
	return out[:length]
}

// GenerateDeterministicString returns a lowercase hex string of length chars.
func GenerateDeterministicString(seed int, length int) string {
	return hex.EncodeToString(GenerateDeterministicBytes(seed, (length+1)/2))[:length]
}

// GenerateDeterministicSessionID returns a stable session id for seed.
func GenerateDeterministicSessionID(seed int) string {
	return fmt.Sprintf("session-%s", GenerateDeterministicString(seed, 16))
}

// TestPrivateKey returns a valid secp256k1 key derived from seed.
func TestPrivateKey(seed int) *ecdsa.PrivateKey {
	for i := 0; ; i++ {
		key, err := crypto.ToECDSA(GenerateDeterministicBytes(seed*1000+i, 32))
		if err == nil {
			return key
		}
	}
}

// TestPrivateKeyHex returns the hex encoding of TestPrivateKey(seed) without 0x.
func TestPrivateKeyHex(seed int) string {
	return hex.EncodeToString(crypto.FromECDSA(TestPrivateKey(seed)))
}

// TestAddress returns the checksummed address of TestPrivateKey(seed).
func TestAddress(seed int) string {
	return crypto.PubkeyToAddress(TestPrivateKey(seed).PublicKey).Hex()
}

// Wei converts a whole ether amount to wei.
func Wei(ether int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(ether), big.NewInt(1_000_000_000_000_000_000))
}
