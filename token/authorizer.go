package token

import (
	"fmt"
	"time"

	"github.com/cordon-auth/cordon/datalog"
	"github.com/cordon-auth/cordon/parser"
)

// RevocationChecker reports whether a block revocation id has been
// revoked. The revocation package provides a badger-backed
// implementation.
type RevocationChecker interface {
	IsRevoked(id []byte) (bool, error)
}

// AuthorizerBuilder accumulates the authorizer's own facts, rules,
// checks and policies, plus the token under authorization.
type AuthorizerBuilder struct {
	facts    []parser.Fact
	rules    []parser.Rule
	checks   []parser.Check
	policies []parser.Policy
	limits   datalog.RunLimits
	token    *Biscuit
	revoker  RevocationChecker
}

// NewAuthorizerBuilder returns a builder with default run limits.
func NewAuthorizerBuilder() *AuthorizerBuilder {
	return &AuthorizerBuilder{limits: datalog.DefaultRunLimits()}
}

// AddFact appends an authorizer fact.
func (ab *AuthorizerBuilder) AddFact(f parser.Fact) *AuthorizerBuilder {
	ab.facts = append(ab.facts, f)
	return ab
}

// AddRule appends an authorizer rule.
func (ab *AuthorizerBuilder) AddRule(r parser.Rule) *AuthorizerBuilder {
	ab.rules = append(ab.rules, r)
	return ab
}

// AddCheck appends an authorizer check.
func (ab *AuthorizerBuilder) AddCheck(c parser.Check) *AuthorizerBuilder {
	ab.checks = append(ab.checks, c)
	return ab
}

// AddPolicy appends a policy; policies are consulted in insertion
// order.
func (ab *AuthorizerBuilder) AddPolicy(p parser.Policy) *AuthorizerBuilder {
	ab.policies = append(ab.policies, p)
	return ab
}

// AddCode parses authorizer source and merges it.
func (ab *AuthorizerBuilder) AddCode(src string) error {
	az, err := parser.ParseAuthorizer(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLanguageError, err)
	}
	ab.facts = append(ab.facts, az.Facts...)
	ab.rules = append(ab.rules, az.Rules...)
	ab.checks = append(ab.checks, az.Checks...)
	ab.policies = append(ab.policies, az.Policies...)
	return nil
}

// SetLimits overrides the default run limits.
func (ab *AuthorizerBuilder) SetLimits(limits datalog.RunLimits) *AuthorizerBuilder {
	ab.limits = limits
	return ab
}

// SetRevocationChecker installs a revocation store consulted at
// build time against the token's revocation ids.
func (ab *AuthorizerBuilder) SetRevocationChecker(rc RevocationChecker) *AuthorizerBuilder {
	ab.revoker = rc
	return ab
}

// AddToken attaches the token under authorization. Only one token
// may be attached.
func (ab *AuthorizerBuilder) AddToken(t *Biscuit) error {
	if ab.token != nil {
		return ErrAuthorizerNotEmpty
	}
	ab.token = t
	return nil
}

// Clone returns an independent copy, letting a fixed policy set be
// reused across requests.
func (ab *AuthorizerBuilder) Clone() *AuthorizerBuilder {
	out := &AuthorizerBuilder{limits: ab.limits, token: ab.token, revoker: ab.revoker}
	out.facts = append([]parser.Fact(nil), ab.facts...)
	out.rules = append([]parser.Rule(nil), ab.rules...)
	out.checks = append([]parser.Check(nil), ab.checks...)
	out.policies = append([]parser.Policy(nil), ab.policies...)
	return out
}

// loadedCheck pairs a converted check with its provenance for error
// reporting.
type loadedCheck struct {
	check        datalog.Check
	source       string
	blockID      int
	origin       uint64
	isAuthorizer bool
}

// loadedPolicy pairs a converted policy with its printed source.
type loadedPolicy struct {
	policy datalog.Policy
	source string
}

// authorizerState tracks the authorizer lifecycle.
type authorizerState int

const (
	stateLoaded authorizerState = iota
	stateEvaluated
	stateDecided
)

// Authorizer evaluates one token against the authorizer's program
// under bounded saturation. Instances are single-use and
// single-threaded.
type Authorizer struct {
	world      *datalog.World
	symbols    *datalog.SymbolTable
	keys       *datalog.PublicKeyTable
	blockCount uint64
	extKeys    map[uint64]uint64
	checks     []loadedCheck
	policies   []loadedPolicy
	limits     datalog.RunLimits
	state      authorizerState
}

// Build materializes the combined symbol table and fact store,
// performing the load-time semantic checks.
func (ab *AuthorizerBuilder) Build() (*Authorizer, error) {
	var (
		symbols *datalog.SymbolTable
		keys    *datalog.PublicKeyTable
	)
	if ab.token != nil {
		symbols = ab.token.symbols.Clone()
		keys = ab.token.keys.Clone()
	} else {
		symbols = datalog.NewSymbolTable()
		keys = datalog.NewPublicKeyTable()
	}

	if ab.token != nil && ab.revoker != nil {
		for _, id := range ab.token.RevocationIDs() {
			revoked, err := ab.revoker.IsRevoked(id)
			if err != nil {
				return nil, fmt.Errorf("%w: revocation check: %v", ErrInternal, err)
			}
			if revoked {
				return nil, fmt.Errorf("%w: block id %x", ErrRevoked, id)
			}
		}
	}

	az := &Authorizer{
		world:   datalog.NewWorld(symbols),
		symbols: symbols,
		keys:    keys,
		limits:  ab.limits,
		extKeys: make(map[uint64]uint64),
	}

	if ab.token != nil {
		az.blockCount = uint64(ab.token.BlockCount())
		for i, block := range ab.token.blocks {
			if block.externalKey != nil {
				id, ok := keys.Lookup(encodePublicKey(*block.externalKey))
				if !ok {
					return nil, fmt.Errorf("%w: third party key not interned", ErrInternal)
				}
				az.extKeys[uint64(i+1)] = id
			}
		}
		if err := az.loadBlock(ab.token.authority, 0); err != nil {
			return nil, err
		}
		for i, block := range ab.token.blocks {
			if err := az.loadBlock(block, uint64(i+1)); err != nil {
				return nil, err
			}
		}
	}

	if err := az.loadAuthorizer(ab); err != nil {
		return nil, err
	}
	return az, nil
}

// loadBlock adds one token block's facts, rules and checks under its
// block index.
func (az *Authorizer) loadBlock(block *Block, index uint64) error {
	origin := datalog.NewOrigin(index)
	for _, f := range block.facts {
		az.world.AddFact(origin, f)
	}
	for _, r := range block.rules {
		scopes := r.Scopes
		if len(scopes) == 0 {
			scopes = block.scopes
		}
		trusted, err := az.resolveTrust(scopes, index)
		if err != nil {
			return err
		}
		if index != 0 {
			if err := validateBlockRuleTrust(trusted, index); err != nil {
				return err
			}
		}
		effective := r
		effective.Scopes = scopes
		az.world.AddRule(index, trusted, effective)
	}
	for _, c := range block.checks {
		source, err := checkFromDatalog(c, az.symbols, az.keys)
		if err != nil {
			return err
		}
		az.checks = append(az.checks, loadedCheck{
			check:   c,
			source:  source.String(),
			blockID: int(index),
			origin:  index,
		})
	}
	return nil
}

// validateBlockRuleTrust rejects a non-authority block rule whose
// scope reads blocks appended after it: deriving facts whose origin
// includes a later block would attribute them to blocks the rule's
// signer never saw.
func validateBlockRuleTrust(trusted datalog.TrustedOrigins, index uint64) error {
	for _, b := range trusted.Blocks() {
		if b > index && b != datalog.AuthorizerOrigin {
			return fmt.Errorf("%w: block %d rule trusts block %d", ErrInvalidBlockRule, index, b)
		}
	}
	return nil
}

func (az *Authorizer) loadAuthorizer(ab *AuthorizerBuilder) error {
	origin := datalog.NewOrigin(datalog.AuthorizerOrigin)
	for _, f := range ab.facts {
		df, err := factToDatalog(f, az.symbols)
		if err != nil {
			return err
		}
		az.world.AddFact(origin, df)
	}
	for _, r := range ab.rules {
		dr, err := ruleToDatalog(r, az.symbols, az.keys)
		if err != nil {
			return err
		}
		trusted, err := az.resolveTrust(dr.Scopes, datalog.AuthorizerOrigin)
		if err != nil {
			return err
		}
		az.world.AddRule(datalog.AuthorizerOrigin, trusted, dr)
	}
	for _, c := range ab.checks {
		dc, err := checkToDatalog(c, az.symbols, az.keys)
		if err != nil {
			return err
		}
		az.checks = append(az.checks, loadedCheck{
			check:        dc,
			source:       c.String(),
			origin:       datalog.AuthorizerOrigin,
			isAuthorizer: true,
		})
	}
	for _, p := range ab.policies {
		dp, err := policyToDatalog(p, az.symbols, az.keys)
		if err != nil {
			return err
		}
		az.policies = append(az.policies, loadedPolicy{policy: dp, source: p.String()})
	}

	// Authorizer checks run before block checks, in insertion order.
	// loadAuthorizer runs after the token blocks, so restore that
	// ordering here.
	authorizerFirst := make([]loadedCheck, 0, len(az.checks))
	for _, c := range az.checks {
		if c.isAuthorizer {
			authorizerFirst = append(authorizerFirst, c)
		}
	}
	for _, c := range az.checks {
		if !c.isAuthorizer {
			authorizerFirst = append(authorizerFirst, c)
		}
	}
	for i := range authorizerFirst {
		if authorizerFirst[i].isAuthorizer {
			authorizerFirst[i].blockID = 0
		}
	}
	az.checks = authorizerFirst
	return nil
}

func (az *Authorizer) resolveTrust(scopes []datalog.Scope, origin uint64) (datalog.TrustedOrigins, error) {
	trusted, err := datalog.TrustedOriginsFor(scopes, origin, az.blockCount, az.keys, az.extKeys)
	if err != nil {
		return datalog.TrustedOrigins{}, err
	}
	return trusted, nil
}

// Decision is a successful authorization outcome: the index of the
// allow policy that matched.
type Decision struct {
	PolicyID int
}

func (d Decision) String() string {
	return fmt.Sprintf("allow(policy = %d)", d.PolicyID)
}

// Cancel cooperatively aborts a running evaluation; the run surfaces
// ErrTimeout.
func (az *Authorizer) Cancel() {
	az.world.Cancel()
}

// Authorize runs saturation, evaluates checks (authorizer first,
// then per block in order), then consults the policies. The first
// matching policy decides.
func (az *Authorizer) Authorize() (Decision, error) {
	start := time.Now()

	if az.state == stateLoaded {
		if err := az.world.Run(az.limits); err != nil {
			return Decision{}, err
		}
		az.state = stateEvaluated
	}

	var failed []FailedCheck

	checkID := make(map[int]int)
	for _, lc := range az.checks {
		if time.Since(start) >= az.limits.Deadline {
			return Decision{}, datalog.ErrTimeout
		}
		id := checkID[lc.blockID]
		if lc.isAuthorizer {
			id = checkID[-1]
		}
		ok, err := az.checkPasses(lc)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			failed = append(failed, FailedCheck{
				BlockID:      lc.blockID,
				CheckID:      id,
				RuleSource:   lc.source,
				IsAuthorizer: lc.isAuthorizer,
			})
		}
		if lc.isAuthorizer {
			checkID[-1] = id + 1
		} else {
			checkID[lc.blockID] = id + 1
		}
	}

	if len(failed) > 0 {
		az.state = stateDecided
		return Decision{}, &UnauthorizedError{Failed: failed, DenyPolicyID: -1, AllowPolicyID: -1}
	}

	for i, lp := range az.policies {
		if time.Since(start) >= az.limits.Deadline {
			return Decision{}, datalog.ErrTimeout
		}
		matched, err := az.policyMatches(lp)
		if err != nil {
			return Decision{}, err
		}
		if !matched {
			continue
		}
		az.state = stateDecided
		if lp.policy.Kind == datalog.PolicyAllow {
			return Decision{PolicyID: i}, nil
		}
		return Decision{}, &UnauthorizedError{DenyPolicyID: i, AllowPolicyID: -1}
	}

	az.state = stateDecided
	return Decision{}, ErrNoMatchingPolicy
}

// checkPasses evaluates one check under its origin's trust scoping.
func (az *Authorizer) checkPasses(lc loadedCheck) (bool, error) {
	switch lc.check.Kind {
	case datalog.CheckOne:
		for _, q := range lc.check.Queries {
			trusted, err := az.resolveTrust(q.Scopes, lc.origin)
			if err != nil {
				return false, err
			}
			matches, err := az.world.QueryRule(trusted, q)
			if err != nil {
				return false, err
			}
			if len(matches) > 0 {
				return true, nil
			}
		}
		return false, nil
	case datalog.CheckAll:
		for _, q := range lc.check.Queries {
			trusted, err := az.resolveTrust(q.Scopes, lc.origin)
			if err != nil {
				return false, err
			}
			all, any, err := az.world.QueryRuleAll(trusted, q)
			if err != nil {
				return false, err
			}
			if !any || !all {
				return false, nil
			}
		}
		return true, nil
	}
	return false, fmt.Errorf("%w: unknown check kind %d", ErrInternal, lc.check.Kind)
}

// policyMatches reports whether any of the policy's queries has a
// satisfying answer.
func (az *Authorizer) policyMatches(lp loadedPolicy) (bool, error) {
	for _, q := range lp.policy.Queries {
		trusted, err := az.resolveTrust(q.Scopes, datalog.AuthorizerOrigin)
		if err != nil {
			return false, err
		}
		matches, err := az.world.QueryRule(trusted, q)
		if err != nil {
			return false, err
		}
		if len(matches) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Query runs a one-off rule against the evaluated world and returns
// the derived facts. The world must have been evaluated by a prior
// Authorize call; otherwise it is evaluated here.
func (az *Authorizer) Query(src string) ([]parser.Fact, error) {
	rule, err := parser.ParseRule(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLanguageError, err)
	}
	dr, err := ruleToDatalog(rule, az.symbols, az.keys)
	if err != nil {
		return nil, err
	}
	if az.state == stateLoaded {
		if err := az.world.Run(az.limits); err != nil {
			return nil, err
		}
		az.state = stateEvaluated
	}
	trusted, err := az.resolveTrust(dr.Scopes, datalog.AuthorizerOrigin)
	if err != nil {
		return nil, err
	}
	matches, err := az.world.QueryRule(trusted, dr)
	if err != nil {
		return nil, err
	}
	out := make([]parser.Fact, 0, len(matches))
	for _, m := range matches {
		pf, err := factFromDatalog(m.Fact, az.symbols)
		if err != nil {
			return nil, err
		}
		out = append(out, pf)
	}
	return out, nil
}
