package crypto

import (
	"fmt"
)

// ExternalSignature is a third-party attestation over a block. The
// signer's public key is interned in the token's public key table so
// rules can be scoped to it.
type ExternalSignature struct {
	Signature []byte
	PublicKey PublicKey
}

// SignedBlock is one link of the chain: the serialized block, the
// public half of the next keypair, and a signature binding both to
// the previous key.
type SignedBlock struct {
	Payload   []byte
	NextKey   PublicKey
	Signature []byte
	External  *ExternalSignature
}

// Proof finishes the chain. Exactly one field is set: NextSecret for
// an unsealed token (proving possession of the last published key),
// FinalSignature for a sealed one.
type Proof struct {
	NextSecret     *Keypair
	FinalSignature []byte
}

// Sealed reports whether the proof is a seal signature.
func (p Proof) Sealed() bool {
	return p.FinalSignature != nil
}

// SignBlock signs blockBytes with signer, publishing nextKey as the
// key the following block must be signed with.
func SignBlock(signer *Keypair, blockBytes []byte, nextKey PublicKey) (SignedBlock, error) {
	sig, err := signer.Sign(SignaturePayload(blockBytes, nextKey, nil))
	if err != nil {
		return SignedBlock{}, err
	}
	return SignedBlock{Payload: blockBytes, NextKey: nextKey, Signature: sig}, nil
}

// SignExternal produces a third-party signature over a block. The
// payload additionally binds the previous block's published key so
// the signature cannot be replayed into another token.
func SignExternal(external *Keypair, blockBytes []byte, nextKey, prevKey PublicKey) (*ExternalSignature, error) {
	sig, err := external.Sign(SignaturePayload(blockBytes, nextKey, &prevKey))
	if err != nil {
		return nil, err
	}
	return &ExternalSignature{Signature: sig, PublicKey: external.Public()}, nil
}

// Chain is the verified signature state of a token: the authority
// block, the appended blocks, and the proof.
type Chain struct {
	Authority SignedBlock
	Blocks    []SignedBlock
	Proof     Proof
}

// NewChain signs the authority block with the root keypair. nextSeed
// seeds the ephemeral next keypair; pass nil for a random one.
func NewChain(root *Keypair, authorityBytes []byte, nextSeed []byte) (*Chain, error) {
	next, err := Generate(root.Algorithm(), nextSeed)
	if err != nil {
		return nil, err
	}
	authority, err := SignBlock(root, authorityBytes, next.Public())
	if err != nil {
		return nil, err
	}
	return &Chain{Authority: authority, Proof: Proof{NextSecret: next}}, nil
}

// Append signs a new block with the chain's current ephemeral key
// and advances the proof. externalSigner, when non-nil, additionally
// attests the block as a third party; its signature binds both the
// freshly generated next key and the key signing this block.
func (c *Chain) Append(blockBytes []byte, externalSigner *Keypair, nextSeed []byte) (*Chain, error) {
	if c.Proof.Sealed() {
		return nil, ErrAlreadySealed
	}
	signer := c.Proof.NextSecret
	next, err := Generate(signer.Algorithm(), nextSeed)
	if err != nil {
		return nil, err
	}
	block, err := SignBlock(signer, blockBytes, next.Public())
	if err != nil {
		return nil, err
	}
	if externalSigner != nil {
		ext, err := SignExternal(externalSigner, blockBytes, next.Public(), signer.Public())
		if err != nil {
			return nil, err
		}
		block.External = ext
	}

	blocks := make([]SignedBlock, 0, len(c.Blocks)+1)
	blocks = append(blocks, c.Blocks...)
	blocks = append(blocks, block)
	return &Chain{Authority: c.Authority, Blocks: blocks, Proof: Proof{NextSecret: next}}, nil
}

// Seal replaces the proof with a signature over the last block's
// signature, freezing the chain against further append.
func (c *Chain) Seal() (*Chain, error) {
	if c.Proof.Sealed() {
		return nil, ErrAlreadySealed
	}
	last := c.lastBlock()
	sealSig, err := c.Proof.NextSecret.Sign(last.Signature)
	if err != nil {
		return nil, err
	}
	return &Chain{Authority: c.Authority, Blocks: c.Blocks, Proof: Proof{FinalSignature: sealSig}}, nil
}

func (c *Chain) lastBlock() SignedBlock {
	if len(c.Blocks) == 0 {
		return c.Authority
	}
	return c.Blocks[len(c.Blocks)-1]
}

// Verify walks the chain: each block's signature is checked against
// the key published by its predecessor (the root key for the
// authority block), third-party signatures are checked against their
// embedded key, and finally the proof is validated.
func (c *Chain) Verify(root PublicKey) error {
	if err := verifyBlock(root, c.Authority, true); err != nil {
		return fmt.Errorf("authority block: %w", err)
	}
	prev := c.Authority.NextKey

	for i, block := range c.Blocks {
		if err := verifyBlock(prev, block, false); err != nil {
			return fmt.Errorf("block %d: %w", i+1, err)
		}
		prev = block.NextKey
	}

	switch {
	case c.Proof.NextSecret != nil:
		if !c.Proof.NextSecret.Public().Equal(prev) {
			return fmt.Errorf("%w: proof key does not match the published next key", ErrInvalidFormat)
		}
	case c.Proof.FinalSignature != nil:
		last := c.lastBlock()
		if err := prev.Verify(last.Signature, c.Proof.FinalSignature); err != nil {
			return fmt.Errorf("%w: %v", ErrSealedSignature, err)
		}
	default:
		return fmt.Errorf("%w: missing proof", ErrInvalidFormat)
	}
	return nil
}

// verifyBlock checks one link. signer is the key published by the
// predecessor; the third-party payload binds that same key, so an
// external signature cannot be replayed into another token.
func verifyBlock(signer PublicKey, block SignedBlock, isAuthority bool) error {
	payload := SignaturePayload(block.Payload, block.NextKey, nil)
	if err := signer.Verify(payload, block.Signature); err != nil {
		return err
	}
	if block.External != nil {
		if isAuthority {
			return fmt.Errorf("%w: authority block cannot carry an external signature", ErrInvalidFormat)
		}
		extPayload := SignaturePayload(block.Payload, block.NextKey, &signer)
		if err := block.External.PublicKey.Verify(extPayload, block.External.Signature); err != nil {
			return fmt.Errorf("external signature: %w", err)
		}
	}
	return nil
}
