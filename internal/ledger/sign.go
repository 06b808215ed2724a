package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Keypair is a freshly generated secp256k1 signing key. PrivateKey is the
// 32-byte scalar; PublicKey is the hex-encoded compressed point; Address is
// the derived chain address.
type Keypair struct {
	PrivateKey []byte
	PublicKey  string
	Address    string
}

// GenerateKeypair creates a new secp256k1 keypair for a custodial wallet.
func GenerateKeypair() (Keypair, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("ledger: generate key: %w", err)
	}
	return Keypair{
		PrivateKey: ethcrypto.FromECDSA(pk),
		PublicKey:  hex.EncodeToString(ethcrypto.CompressPubkey(&pk.PublicKey)),
		Address:    ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
	}, nil
}

// signPayload hashes the canonical JSON encoding of the payload with
// keccak256 and signs it with the given 32-byte secp256k1 key. It returns
// the hex signature and the hex compressed public key.
func signPayload(payload txPayload, privateKey []byte) (sig string, pub string, err error) {
	pk, err := ethcrypto.ToECDSA(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("ledger: parse signing key: %w", err)
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("ledger: encode payload: %w", err)
	}

	digest := ethcrypto.Keccak256(canonical)
	sigBytes, err := ethcrypto.Sign(digest, pk)
	if err != nil {
		return "", "", fmt.Errorf("ledger: sign payload: %w", err)
	}

	return hex.EncodeToString(sigBytes),
		hex.EncodeToString(ethcrypto.CompressPubkey(&pk.PublicKey)),
		nil
}
