// Package signer abstracts the custodial keys of the bridge. Keys never
// leave the signing backend: the rest of the daemon only ever submits
// 32-byte digests and receives (r, s) pairs back.
package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs 32-byte digests with a custodial secp256k1 key.
type Signer interface {
	// Address returns the address derived from the signing key.
	Address() common.Address

	// PublicKey returns the compressed public key of the signing key.
	PublicKey() []byte

	// SignDigest signs the given 32-byte digest. The returned s is always in
	// the lower half of the curve order.
	SignDigest(ctx context.Context, digest []byte) (r, s *big.Int, err error)
}

type ecdsaSignature struct {
	R, S *big.Int
}

// EncodeDER returns the DER encoding of the signature.
func EncodeDER(r, s *big.Int) ([]byte, error) {
	return asn1.Marshal(ecdsaSignature{R: r, S: s})
}

// SignTx signs an Ethereum transaction with the given signer. The recovery
// id is found by recovering both candidates and comparing against the signer
// address.
func SignTx(ctx context.Context, signer Signer, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	ethSigner := types.LatestSignerForChainID(chainID)
	digest := ethSigner.Hash(tx)

	r, s, err := signer.SignDigest(ctx, digest[:])
	if err != nil {
		return nil, err
	}

	signature := make([]byte, crypto.SignatureLength)
	r.FillBytes(signature[:32])
	s.FillBytes(signature[32:64])
	for _, v := range []byte{0, 1} {
		signature[64] = v
		pubkey, err := crypto.Ecrecover(digest[:], signature)
		if err != nil {
			continue
		}
		address := common.BytesToAddress(crypto.Keccak256(pubkey[1:])[12:])
		if address == signer.Address() {
			return tx.WithSignature(ethSigner, signature)
		}
	}
	return nil, fmt.Errorf("cannot recover a signature matching %v", signer.Address())
}

type memorySigner struct {
	key *ecdsa.PrivateKey
}

// NewMemory returns a signer holding the key in process memory. It is meant
// for tests and local development.
func NewMemory(key *ecdsa.PrivateKey) Signer {
	return memorySigner{key: key}
}

func (signer memorySigner) Address() common.Address {
	return crypto.PubkeyToAddress(signer.key.PublicKey)
}

func (signer memorySigner) PublicKey() []byte {
	return crypto.CompressPubkey(&signer.key.PublicKey)
}

func (signer memorySigner) SignDigest(ctx context.Context, digest []byte) (*big.Int, *big.Int, error) {
	signature, err := crypto.Sign(digest, signer.key)
	if err != nil {
		return nil, nil, err
	}
	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])
	return r, s, nil
}
