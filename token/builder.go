package token

import (
	"fmt"

	"github.com/cordon-auth/cordon/crypto"
	"github.com/cordon-auth/cordon/datalog"
	"github.com/cordon-auth/cordon/parser"
	"github.com/cordon-auth/cordon/wire"
)

// BlockBuilder accumulates the surface-level contents of one block.
// Items can be added programmatically or parsed from source with
// AddCode.
type BlockBuilder struct {
	facts   []parser.Fact
	rules   []parser.Rule
	checks  []parser.Check
	scopes  []parser.Scope
	context string
}

// NewBlockBuilder returns an empty block builder.
func NewBlockBuilder() *BlockBuilder {
	return &BlockBuilder{}
}

// AddFact appends a fact.
func (bb *BlockBuilder) AddFact(f parser.Fact) *BlockBuilder {
	bb.facts = append(bb.facts, f)
	return bb
}

// AddRule appends a rule.
func (bb *BlockBuilder) AddRule(r parser.Rule) *BlockBuilder {
	bb.rules = append(bb.rules, r)
	return bb
}

// AddCheck appends a check.
func (bb *BlockBuilder) AddCheck(c parser.Check) *BlockBuilder {
	bb.checks = append(bb.checks, c)
	return bb
}

// AddScope appends a block-wide scope element.
func (bb *BlockBuilder) AddScope(s parser.Scope) *BlockBuilder {
	bb.scopes = append(bb.scopes, s)
	return bb
}

// SetContext sets the block's free-form context string.
func (bb *BlockBuilder) SetContext(ctx string) *BlockBuilder {
	bb.context = ctx
	return bb
}

// AddCode parses block source and merges its contents.
func (bb *BlockBuilder) AddCode(src string) error {
	block, err := parser.ParseBlock(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLanguageError, err)
	}
	bb.facts = append(bb.facts, block.Facts...)
	bb.rules = append(bb.rules, block.Rules...)
	bb.checks = append(bb.checks, block.Checks...)
	bb.scopes = append(bb.scopes, block.Scopes...)
	return nil
}

// build interns the builder's contents through the accumulated
// tables and returns the block plus the symbol and key contributions
// it added.
func (bb *BlockBuilder) build(symbols *datalog.SymbolTable, keys *datalog.PublicKeyTable) (*Block, []string, [][]byte, error) {
	symbolMark := symbols.Len()
	keyMark := keys.Len()

	out := &Block{context: bb.context, version: wire.CurrentVersion}
	for _, f := range bb.facts {
		df, err := factToDatalog(f, symbols)
		if err != nil {
			return nil, nil, nil, err
		}
		out.facts = append(out.facts, df)
	}
	for _, r := range bb.rules {
		dr, err := ruleToDatalog(r, symbols, keys)
		if err != nil {
			return nil, nil, nil, err
		}
		out.rules = append(out.rules, dr)
	}
	for _, c := range bb.checks {
		dc, err := checkToDatalog(c, symbols, keys)
		if err != nil {
			return nil, nil, nil, err
		}
		out.checks = append(out.checks, dc)
	}
	var err error
	out.scopes, err = scopesToDatalog(bb.scopes, keys)
	if err != nil {
		return nil, nil, nil, err
	}
	return out, symbols.SplitOff(symbolMark), keys.SplitOff(keyMark), nil
}

// Builder assembles a token's authority block. Builders are one-shot
// handles: Build consumes the builder and a second Build call fails.
type Builder struct {
	block     *BlockBuilder
	rootKeyID *uint32
	built     bool
}

// NewBuilder returns an empty token builder.
func NewBuilder() *Builder {
	return &Builder{block: NewBlockBuilder()}
}

// AddFact appends an authority fact.
func (b *Builder) AddFact(f parser.Fact) *Builder {
	b.block.AddFact(f)
	return b
}

// AddRule appends an authority rule.
func (b *Builder) AddRule(r parser.Rule) *Builder {
	b.block.AddRule(r)
	return b
}

// AddCheck appends an authority check.
func (b *Builder) AddCheck(c parser.Check) *Builder {
	b.block.AddCheck(c)
	return b
}

// AddCode parses authority block source and merges it.
func (b *Builder) AddCode(src string) error {
	return b.block.AddCode(src)
}

// SetContext sets the authority block's context string.
func (b *Builder) SetContext(ctx string) *Builder {
	b.block.SetContext(ctx)
	return b
}

// SetRootKeyID records a hint identifying which root key signs the
// token.
func (b *Builder) SetRootKeyID(id uint32) *Builder {
	b.rootKeyID = &id
	return b
}

// Build signs the authority block with root and produces the token.
// seed, when non-nil, seeds the first ephemeral keypair. The builder
// is consumed.
func (b *Builder) Build(root *crypto.Keypair, seed []byte) (*Biscuit, error) {
	if b.built {
		return nil, fmt.Errorf("%w: builder already consumed", ErrInvalidArgument)
	}
	b.built = true

	symbols := datalog.NewSymbolTable()
	keys := datalog.NewPublicKeyTable()
	block, symbolContribution, keyContribution, err := b.block.build(symbols, keys)
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
	chain, err := crypto.NewChain(root, blockBytes, seed)
	if err != nil {
		return nil, err
	}
	return &Biscuit{
		rootKeyID: b.rootKeyID,
		chain:     chain,
		symbols:   symbols,
		keys:      keys,
		authority: block,
	}, nil
}
