package token

import (
	"fmt"
	"strings"

	"github.com/cordon-auth/cordon/crypto"
	"github.com/cordon-auth/cordon/datalog"
	"github.com/cordon-auth/cordon/wire"
)

// Biscuit is an immutable parsed token: the verified signature chain
// plus the decoded blocks and accumulated tables. Attenuation and
// sealing return new tokens.
type Biscuit struct {
	rootKeyID *uint32
	chain     *crypto.Chain
	symbols   *datalog.SymbolTable
	keys      *datalog.PublicKeyTable
	authority *Block
	blocks    []*Block
}

// RootKeyResolver maps an optional root key id hint to the public
// key expected to sign the authority block.
type RootKeyResolver func(keyID *uint32) (crypto.PublicKey, error)

// Parse verifies and decodes a serialized token against the given
// root public key.
func Parse(data []byte, root crypto.PublicKey) (*Biscuit, error) {
	return ParseWithResolver(data, func(*uint32) (crypto.PublicKey, error) {
		return root, nil
	})
}

// ParseWithResolver verifies and decodes a serialized token,
// resolving the root key through the token's root key id hint.
func ParseWithResolver(data []byte, resolve RootKeyResolver) (*Biscuit, error) {
	container, err := wire.UnmarshalBiscuit(data)
	if err != nil {
		return nil, err
	}

	chain, err := chainFromWire(container)
	if err != nil {
		return nil, err
	}

	root, err := resolve(container.RootKeyID)
	if err != nil {
		return nil, err
	}
	if err := chain.Verify(root); err != nil {
		return nil, err
	}

	symbols := datalog.NewSymbolTable()
	keys := datalog.NewPublicKeyTable()

	wireAuthority, err := wire.UnmarshalBlock(chain.Authority.Payload)
	if err != nil {
		return nil, err
	}
	authority, err := blockFromWire(wireAuthority, symbols, keys)
	if err != nil {
		return nil, err
	}

	blocks := make([]*Block, 0, len(chain.Blocks))
	for i, sb := range chain.Blocks {
		wireBlock, err := wire.UnmarshalBlock(sb.Payload)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
		block, err := blockFromWire(wireBlock, symbols, keys)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i+1, err)
		}
		if sb.External != nil {
			pk := sb.External.PublicKey
			block.externalKey = &pk
			keys.Insert(encodePublicKey(pk))
		}
		blocks = append(blocks, block)
	}

	return &Biscuit{
		rootKeyID: container.RootKeyID,
		chain:     chain,
		symbols:   symbols,
		keys:      keys,
		authority: authority,
		blocks:    blocks,
	}, nil
}

func chainFromWire(container *wire.Biscuit) (*crypto.Chain, error) {
	toSigned := func(sb *wire.SignedBlock) (crypto.SignedBlock, error) {
		next, err := crypto.NewPublicKey(crypto.Algorithm(sb.NextKey.Algorithm), sb.NextKey.Key)
		if err != nil {
			return crypto.SignedBlock{}, err
		}
		out := crypto.SignedBlock{Payload: sb.Block, NextKey: next, Signature: sb.Signature}
		if sb.External != nil {
			if sb.External.PublicKey == nil {
				return crypto.SignedBlock{}, fmt.Errorf("%w: external signature without key", ErrSignatureInvalidFormat)
			}
			extKey, err := crypto.NewPublicKey(crypto.Algorithm(sb.External.PublicKey.Algorithm), sb.External.PublicKey.Key)
			if err != nil {
				return crypto.SignedBlock{}, err
			}
			out.External = &crypto.ExternalSignature{Signature: sb.External.Signature, PublicKey: extKey}
		}
		return out, nil
	}

	authority, err := toSigned(container.Authority)
	if err != nil {
		return nil, err
	}
	chain := &crypto.Chain{Authority: authority}
	for _, sb := range container.Blocks {
		signed, err := toSigned(sb)
		if err != nil {
			return nil, err
		}
		chain.Blocks = append(chain.Blocks, signed)
	}

	lastKey := authority.NextKey
	if n := len(chain.Blocks); n > 0 {
		lastKey = chain.Blocks[n-1].NextKey
	}
	switch {
	case container.Proof.NextSecret != nil:
		proofKey, err := crypto.FromPrivateBytes(lastKey.Algorithm(), container.Proof.NextSecret)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalidFormat, err)
		}
		chain.Proof = crypto.Proof{NextSecret: proofKey}
	default:
		chain.Proof = crypto.Proof{FinalSignature: container.Proof.FinalSignature}
	}
	return chain, nil
}

// Serialize encodes the token to its wire form.
func (b *Biscuit) Serialize() ([]byte, error) {
	container := &wire.Biscuit{RootKeyID: b.rootKeyID}

	fromSigned := func(sb crypto.SignedBlock) *wire.SignedBlock {
		out := &wire.SignedBlock{
			Block: sb.Payload,
			NextKey: &wire.PublicKey{
				Algorithm: int32(sb.NextKey.Algorithm()),
				Key:       sb.NextKey.Bytes(),
			},
			Signature: sb.Signature,
		}
		if sb.External != nil {
			out.External = &wire.ExternalSignature{
				Signature: sb.External.Signature,
				PublicKey: &wire.PublicKey{
					Algorithm: int32(sb.External.PublicKey.Algorithm()),
					Key:       sb.External.PublicKey.Bytes(),
				},
			}
		}
		return out
	}

	container.Authority = fromSigned(b.chain.Authority)
	for _, sb := range b.chain.Blocks {
		container.Blocks = append(container.Blocks, fromSigned(sb))
	}
	if b.chain.Proof.Sealed() {
		container.Proof = &wire.Proof{FinalSignature: b.chain.Proof.FinalSignature}
	} else {
		container.Proof = &wire.Proof{NextSecret: b.chain.Proof.NextSecret.PrivateBytes()}
	}
	return wire.MarshalBiscuit(container)
}

// AppendBlock attenuates the token with a new block, returning a new
// token. seed, when non-nil, seeds the next ephemeral keypair.
func (b *Biscuit) AppendBlock(bb *BlockBuilder, seed []byte) (*Biscuit, error) {
	return b.appendBlock(bb, nil, seed)
}

// AppendThirdPartyBlock attenuates the token with a block co-signed
// by external; rules elsewhere in the token can then trust the
// block through the signer's public key.
func (b *Biscuit) AppendThirdPartyBlock(bb *BlockBuilder, external *crypto.Keypair, seed []byte) (*Biscuit, error) {
	if external == nil {
		return nil, fmt.Errorf("%w: nil external keypair", ErrInvalidArgument)
	}
	return b.appendBlock(bb, external, seed)
}

func (b *Biscuit) appendBlock(bb *BlockBuilder, external *crypto.Keypair, seed []byte) (*Biscuit, error) {
	if b.chain.Proof.Sealed() {
		return nil, ErrAlreadySealed
	}

	symbols := b.symbols.Clone()
	keys := b.keys.Clone()
	block, symbolContribution, keyContribution, err := bb.build(symbols, keys)
	if err != nil {
		return nil, err
	}
	wireBlock, err := blockToWire(block, symbolContribution, keyContribution)
	if err != nil {
		return nil, err
	}
	blockBytes, err := wire.MarshalBlock(wireBlock)
	if err != nil {
		return nil, err
	}
	chain, err := b.chain.Append(blockBytes, external, seed)
	if err != nil {
		return nil, err
	}
	if external != nil {
		pk := external.Public()
		block.externalKey = &pk
		keys.Insert(encodePublicKey(pk))
	}

	blocks := make([]*Block, 0, len(b.blocks)+1)
	blocks = append(blocks, b.blocks...)
	blocks = append(blocks, block)
	return &Biscuit{
		rootKeyID: b.rootKeyID,
		chain:     chain,
		symbols:   symbols,
		keys:      keys,
		authority: b.authority,
		blocks:    blocks,
	}, nil
}

// Seal freezes the token against further attenuation.
func (b *Biscuit) Seal() (*Biscuit, error) {
	chain, err := b.chain.Seal()
	if err != nil {
		return nil, err
	}
	return &Biscuit{
		rootKeyID: b.rootKeyID,
		chain:     chain,
		symbols:   b.symbols,
		keys:      b.keys,
		authority: b.authority,
		blocks:    b.blocks,
	}, nil
}

// Sealed reports whether the token is sealed.
func (b *Biscuit) Sealed() bool {
	return b.chain.Proof.Sealed()
}

// BlockCount returns the number of blocks including the authority.
func (b *Biscuit) BlockCount() int {
	return 1 + len(b.blocks)
}

// RootKeyID returns the token's root key id hint, if present.
func (b *Biscuit) RootKeyID() *uint32 {
	return b.rootKeyID
}

// RevocationIDs returns each block's signature bytes in order. Any
// of them appearing in a revocation store invalidates the token.
func (b *Biscuit) RevocationIDs() [][]byte {
	out := make([][]byte, 0, b.BlockCount())
	appendID := func(sig []byte) {
		id := make([]byte, len(sig))
		copy(id, sig)
		out = append(out, id)
	}
	appendID(b.chain.Authority.Signature)
	for _, sb := range b.chain.Blocks {
		appendID(sb.Signature)
	}
	return out
}

// PrintBlockSource renders block i (0 = authority) back to canonical
// Datalog text.
func (b *Biscuit) PrintBlockSource(i int) (string, error) {
	block, err := b.blockAt(i)
	if err != nil {
		return "", err
	}
	return block.source(b.symbols, b.keys)
}

func (b *Biscuit) blockAt(i int) (*Block, error) {
	if i == 0 {
		return b.authority, nil
	}
	if i < 0 || i > len(b.blocks) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockID, i)
	}
	return b.blocks[i-1], nil
}

// String renders every block's source, separated by block headers.
func (b *Biscuit) String() string {
	var sb strings.Builder
	for i := 0; i < b.BlockCount(); i++ {
		if i == 0 {
			sb.WriteString("// authority\n")
		} else {
			fmt.Fprintf(&sb, "// block %d", i)
			if block, _ := b.blockAt(i); block != nil && block.externalKey != nil {
				fmt.Fprintf(&sb, " (third party: %s)", block.externalKey.String())
			}
			sb.WriteString("\n")
		}
		src, err := b.PrintBlockSource(i)
		if err != nil {
			fmt.Fprintf(&sb, "// error: %v\n", err)
			continue
		}
		sb.WriteString(src)
	}
	return sb.String()
}
