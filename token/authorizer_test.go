package token

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordon-auth/cordon/crypto"
	"github.com/cordon-auth/cordon/datalog"
)

func relaxed() datalog.RunLimits {
	return datalog.RunLimits{MaxFacts: 10000, MaxIterations: 100, Deadline: time.Second}
}

func authorize(t *testing.T, token *Biscuit, authorizerCode string) (Decision, error) {
	t.Helper()
	ab := NewAuthorizerBuilder()
	ab.SetLimits(relaxed())
	require.NoError(t, ab.AddCode(authorizerCode))
	if token != nil {
		require.NoError(t, ab.AddToken(token))
	}
	az, err := ab.Build()
	require.NoError(t, err)
	return az.Authorize()
}

func TestAllowAll(t *testing.T) {
	root := rootKeypair(t)
	builder := NewBuilder()
	token, err := builder.Build(root, nil)
	require.NoError(t, err)

	data, err := token.Serialize()
	require.NoError(t, err)
	parsed, err := Parse(data, root.Public())
	require.NoError(t, err)

	decision, err := authorize(t, parsed, `allow if true;`)
	require.NoError(t, err)
	assert.Equal(t, 0, decision.PolicyID)
}

func TestRightAttenuation(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `right("file1", "read");`)

	bb := NewBlockBuilder()
	require.NoError(t, bb.AddCode(`check if operation("read");`))
	attenuated, err := token.AppendBlock(bb, nil)
	require.NoError(t, err)

	policy := `
		resource("file1");
		operation("read");
		allow if right($f, $op), operation($op), resource($f);
	`
	decision, err := authorize(t, attenuated, policy)
	require.NoError(t, err)
	assert.Equal(t, 0, decision.PolicyID)

	// Same token with a write operation: the appended check fails
	writePolicy := `
		resource("file1");
		operation("write");
		allow if right($f, $op), operation($op), resource($f);
	`
	_, err = authorize(t, attenuated, writePolicy)
	var unauthorized *UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
	require.Len(t, unauthorized.Failed, 1)
	assert.Equal(t, 1, unauthorized.Failed[0].BlockID)
	assert.Equal(t, 0, unauthorized.Failed[0].CheckID)
	assert.False(t, unauthorized.Failed[0].IsAuthorizer)
	assert.Contains(t, unauthorized.Failed[0].RuleSource, `check if operation("read")`)
}

func TestDenyPolicy(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `right("file1", "read");`)

	_, err := authorize(t, token, `
		operation("write");
		deny if operation("write");
		allow if true;
	`)
	var unauthorized *UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, 0, unauthorized.DenyPolicyID)
	assert.Empty(t, unauthorized.Failed)
}

func TestNoMatchingPolicy(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `right("file1", "read");`)

	_, err := authorize(t, token, `allow if operation("admin");`)
	assert.ErrorIs(t, err, ErrNoMatchingPolicy)
}

func TestPolicyOrderFirstMatchWins(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `right("file1", "read");`)

	decision, err := authorize(t, token, `
		allow if operation("admin");
		allow if true;
		deny if true;
	`)
	require.NoError(t, err)
	assert.Equal(t, 1, decision.PolicyID)
}

func TestAuthorizerChecksRunFirst(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `check if never();`)

	_, err := authorize(t, token, `
		check if missing();
		allow if true;
	`)
	var unauthorized *UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
	require.Len(t, unauthorized.Failed, 2)
	assert.True(t, unauthorized.Failed[0].IsAuthorizer, "authorizer checks come first")
	assert.False(t, unauthorized.Failed[1].IsAuthorizer)
}

func TestCheckAllSemantics(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `
		limit(5);
		limit(15);
		check all limit($l), $l < 20;
	`)
	decision, err := authorize(t, token, `allow if true;`)
	require.NoError(t, err)
	assert.Equal(t, 0, decision.PolicyID)

	strict := buildToken(t, root, `
		limit(5);
		limit(15);
		check all limit($l), $l < 10;
	`)
	_, err = authorize(t, strict, `allow if true;`)
	assert.ErrorIs(t, err, ErrUnauthorized)

	empty := buildToken(t, root, `check all limit($l), $l < 10;`)
	_, err = authorize(t, empty, `allow if true;`)
	assert.ErrorIs(t, err, ErrUnauthorized, "check all with no bindings fails")
}

func TestBlockRulesDeriveFacts(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `
		user("alice");
		admin($u) <- user($u);
	`)
	decision, err := authorize(t, token, `allow if admin("alice");`)
	require.NoError(t, err)
	assert.Equal(t, 0, decision.PolicyID)
}

func TestOriginIsolationBetweenBlocks(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `right("file1", "read");`)

	// Block 1 carries a private fact
	bb := NewBlockBuilder()
	require.NoError(t, bb.AddCode(`internal("secret");`))
	token, err := token.AppendBlock(bb, nil)
	require.NoError(t, err)

	// Block 2's rule must not see block 1's facts under default scope
	bb = NewBlockBuilder()
	require.NoError(t, bb.AddCode(`leaked($x) <- internal($x);`))
	token, err = token.AppendBlock(bb, nil)
	require.NoError(t, err)

	_, err = authorize(t, token, `allow if leaked($x);`)
	assert.ErrorIs(t, err, ErrNoMatchingPolicy, "block 2 cannot read block 1's facts")
}

func TestAuthorizerSeesBlockFactsViaPrevious(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `right("file1", "read");`)

	bb := NewBlockBuilder()
	require.NoError(t, bb.AddCode(`extra("fact");`))
	token, err := token.AppendBlock(bb, nil)
	require.NoError(t, err)

	// Default authorizer scope only trusts the authority block
	_, err = authorize(t, token, `allow if extra($x);`)
	assert.ErrorIs(t, err, ErrNoMatchingPolicy)

	// trusting previous opens up every block
	decision, err := authorize(t, token, `allow if extra($x) trusting previous;`)
	require.NoError(t, err)
	assert.Equal(t, 0, decision.PolicyID)
}

func TestThirdPartyTrust(t *testing.T) {
	root := rootKeypair(t)
	external, err := crypto.Generate(crypto.Ed25519, nil)
	require.NoError(t, err)

	token := buildToken(t, root, `right("file1", "read");`)

	bb := NewBlockBuilder()
	require.NoError(t, bb.AddCode(`owner("alice");`))
	token, err = token.AppendThirdPartyBlock(bb, external, nil)
	require.NoError(t, err)

	data, err := token.Serialize()
	require.NoError(t, err)
	parsed, err := Parse(data, root.Public())
	require.NoError(t, err)

	extHex := parsed.blocks[0].ExternalKey().String()

	// Without trusting the external key, the fact is invisible
	_, err = authorize(t, parsed, `allow if owner($u);`)
	assert.ErrorIs(t, err, ErrNoMatchingPolicy)

	// With the trusting annotation the fact becomes derivable
	decision, err := authorize(t, parsed, `allow if owner($u) trusting `+extHex+`;`)
	require.NoError(t, err)
	assert.Equal(t, 0, decision.PolicyID)
}

func TestTimeoutSurfaces(t *testing.T) {
	root := rootKeypair(t)
	builder := NewBuilder()
	src := ""
	for i := 0; i < 50; i++ {
		src += `edge(` + strconv.Itoa(i) + `, ` + strconv.Itoa(i+1) + `);`
	}
	src += `path($x) <- start($x); path($y) <- path($x), edge($x, $y);start(0);`
	require.NoError(t, builder.AddCode(src))
	token, err := builder.Build(root, nil)
	require.NoError(t, err)

	ab := NewAuthorizerBuilder()
	ab.SetLimits(datalog.RunLimits{MaxFacts: 100000, MaxIterations: 100000, Deadline: time.Microsecond})
	require.NoError(t, ab.AddCode(`allow if true;`))
	require.NoError(t, ab.AddToken(token))
	az, err := ab.Build()
	require.NoError(t, err)
	_, err = az.Authorize()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFactOverflowSurfaces(t *testing.T) {
	root := rootKeypair(t)
	builder := NewBuilder()
	src := ""
	for i := 0; i < 120; i++ {
		src += `seed(` + strconv.Itoa(i) + `);`
	}
	src += `copy($x) <- seed($x);`
	require.NoError(t, builder.AddCode(src))
	token, err := builder.Build(root, nil)
	require.NoError(t, err)

	ab := NewAuthorizerBuilder()
	ab.SetLimits(datalog.RunLimits{MaxFacts: 100, MaxIterations: 1000, Deadline: time.Minute})
	require.NoError(t, ab.AddCode(`allow if true;`))
	require.NoError(t, ab.AddToken(token))
	az, err := ab.Build()
	require.NoError(t, err)
	_, err = az.Authorize()
	assert.ErrorIs(t, err, ErrTooManyFacts)
}

func TestAuthorizerNotEmpty(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `right("file1", "read");`)

	ab := NewAuthorizerBuilder()
	require.NoError(t, ab.AddToken(token))
	assert.ErrorIs(t, ab.AddToken(token), ErrAuthorizerNotEmpty)
}

func TestAuthorizerBuilderClone(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `right("file1", "read");`)

	base := NewAuthorizerBuilder()
	base.SetLimits(relaxed())
	require.NoError(t, base.AddCode(`allow if right($f, "read");`))

	for i := 0; i < 3; i++ {
		ab := base.Clone()
		require.NoError(t, ab.AddToken(token))
		az, err := ab.Build()
		require.NoError(t, err)
		decision, err := az.Authorize()
		require.NoError(t, err)
		assert.Equal(t, 0, decision.PolicyID)
	}
}

func TestQueryAfterAuthorize(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `
		user("alice");
		user("bob");
	`)
	ab := NewAuthorizerBuilder()
	ab.SetLimits(relaxed())
	require.NoError(t, ab.AddCode(`allow if true;`))
	require.NoError(t, ab.AddToken(token))
	az, err := ab.Build()
	require.NoError(t, err)
	_, err = az.Authorize()
	require.NoError(t, err)

	facts, err := az.Query(`known($u) <- user($u);`)
	require.NoError(t, err)
	assert.Len(t, facts, 2)
}

func TestWorldDump(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `user("alice");`)
	ab := NewAuthorizerBuilder()
	ab.SetLimits(relaxed())
	require.NoError(t, ab.AddCode(`time(2023-05-01T00:00:00Z); allow if true;`))
	require.NoError(t, ab.AddToken(token))
	az, err := ab.Build()
	require.NoError(t, err)
	_, err = az.Authorize()
	require.NoError(t, err)

	dump := az.WorldDump()
	assert.Contains(t, dump, `user("alice")`)
	assert.Contains(t, dump, "authority")
	assert.Contains(t, dump, "authorizer")
	assert.Contains(t, dump, "2 facts")
}

func TestCancellation(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `user("alice");`)
	ab := NewAuthorizerBuilder()
	ab.SetLimits(relaxed())
	require.NoError(t, ab.AddCode(`allow if true;`))
	require.NoError(t, ab.AddToken(token))
	az, err := ab.Build()
	require.NoError(t, err)

	az.Cancel()
	_, err = az.Authorize()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecutionErrorSurfaces(t *testing.T) {
	root := rootKeypair(t)
	token := buildToken(t, root, `value(9223372036854775807);`)

	_, err := authorize(t, token, `allow if value($v), $v + 1 > 0;`)
	var execErr *datalog.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestInvalidBlockRuleDetectedAtLoad(t *testing.T) {
	root := rootKeypair(t)
	external, err := crypto.Generate(crypto.Ed25519, nil)
	require.NoError(t, err)

	token := buildToken(t, root, `right("file1", "read");`)

	// Block 1 carries a rule trusting the external key before any
	// block signed by it exists.
	bb := NewBlockBuilder()
	require.NoError(t, bb.AddCode(`mirror($x) <- owner($x) trusting `+external.Public().String()+`;`))
	token, err = token.AppendBlock(bb, nil)
	require.NoError(t, err)

	// Block 2 is then signed by that key: block 1's rule would read
	// facts from a block appended after it.
	bb = NewBlockBuilder()
	require.NoError(t, bb.AddCode(`owner("alice");`))
	token, err = token.AppendThirdPartyBlock(bb, external, nil)
	require.NoError(t, err)

	ab := NewAuthorizerBuilder()
	ab.SetLimits(relaxed())
	require.NoError(t, ab.AddCode(`allow if true;`))
	require.NoError(t, ab.AddToken(token))
	_, err = ab.Build()
	assert.ErrorIs(t, err, ErrInvalidBlockRule)
}
