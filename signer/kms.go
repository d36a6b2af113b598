package signer

import (
	"context"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// secp256k1HalfN is half the order of the curve. Signatures with s above
// this value are normalized so that every backend yields the canonical
// low-s form.
var secp256k1HalfN = new(big.Int).Rsh(crypto.S256().Params().N, 1)

type spki struct {
	Algorithm asn1.RawValue
	PublicKey asn1.BitString
}

type kmsSigner struct {
	client  *kms.Client
	keyID   string
	pubkey  []byte // compressed
	address common.Address
}

// NewKMS returns a signer backed by an AWS KMS secp256k1 key. The public key
// is fetched once at construction; signing requests are sent per digest.
func NewKMS(ctx context.Context, keyID, region string) (Signer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("cannot load aws config: %v", err)
	}
	client := kms.NewFromConfig(cfg)

	output, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot fetch public key of %v: %v", keyID, err)
	}

	var info spki
	if _, err := asn1.Unmarshal(output.PublicKey, &info); err != nil {
		return nil, fmt.Errorf("cannot parse public key of %v: %v", keyID, err)
	}
	pubkey, err := crypto.UnmarshalPubkey(info.PublicKey.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unexpected public key of %v: %v", keyID, err)
	}

	return kmsSigner{
		client:  client,
		keyID:   keyID,
		pubkey:  crypto.CompressPubkey(pubkey),
		address: crypto.PubkeyToAddress(*pubkey),
	}, nil
}

func (signer kmsSigner) Address() common.Address {
	return signer.address
}

func (signer kmsSigner) PublicKey() []byte {
	return signer.pubkey
}

func (signer kmsSigner) SignDigest(ctx context.Context, digest []byte) (*big.Int, *big.Int, error) {
	output, err := signer.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(signer.keyID),
		Message:          digest,
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("cannot sign with %v: %v", signer.keyID, err)
	}

	var signature ecdsaSignature
	if _, err := asn1.Unmarshal(output.Signature, &signature); err != nil {
		return nil, nil, fmt.Errorf("cannot parse signature from %v: %v", signer.keyID, err)
	}
	if signature.S.Cmp(secp256k1HalfN) > 0 {
		signature.S = new(big.Int).Sub(crypto.S256().Params().N, signature.S)
	}
	return signature.R, signature.S, nil
}
