package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marlinbank/sift/internal/fraud"
	"github.com/marlinbank/sift/internal/kvcache"
)

// Policy check names, in evaluation order.
const (
	CheckRoleAuthorization = "role_authorization"
	CheckAmountLimits      = "amount_limits"
	CheckCustomerStatus    = "customer_status"
	CheckRateLimits        = "rate_limits"
	CheckBusinessHours     = "business_hours"
	CheckEscalation        = "escalation"
)

const otpScoreFloor = 70

var freezeAmountLimit = decimal.NewFromInt(100000) // $1000

// ProposeActionAgent maps the run's findings to a final action and gates it
// behind six compliance checks. The first failing check blocks the action.
// Each check cites the stored policy governing its concern.
type ProposeActionAgent struct {
	store   fraud.Store
	limiter *kvcache.Limiter
	tz      *time.Location
}

// NewProposeActionAgent builds the proposeAction step. store provides the
// policy table for citations and may be nil. tz is the business hours
// timezone; nil means UTC.
func NewProposeActionAgent(store fraud.Store, limiter *kvcache.Limiter, tz *time.Location) *ProposeActionAgent {
	if tz == nil {
		tz = time.UTC
	}
	return &ProposeActionAgent{store: store, limiter: limiter, tz: tz}
}

// Name implements Agent.
func (a *ProposeActionAgent) Name() StepName { return StepProposeAction }

// Critical implements Agent.
func (a *ProposeActionAgent) Critical() bool { return false }

// Run implements Agent.
func (a *ProposeActionAgent) Run(ctx context.Context, rc *RunContext) (StepDetail, error) {
	if rc.Signals == nil {
		return nil, fmt.Errorf("propose: no risk signals available")
	}

	score := rc.Signals.Score
	action := actionForScore(score)
	role := rc.Request.Role
	amount := decimal.NewFromInt(rc.Suspect.AmountMinorUnits)

	confidence := 0.0
	if rc.Insights != nil {
		confidence = rc.Insights.Confidence
	}

	checks := []PolicyCheck{
		a.checkRole(action, role),
		a.checkAmount(action, role, amount),
		a.checkCustomerStatus(rc.Customer),
		a.checkRateLimit(ctx, rc.Request.ClientID, action),
		a.checkBusinessHours(action, role, rc.Now),
		a.checkEscalation(score, confidence, role),
	}
	a.citePolicies(ctx, checks)

	p := &Proposal{
		Action:      action,
		Approved:    true,
		RequiresOTP: requiresOTP(action, score),
		Checks:      checks,
	}
	for _, c := range checks {
		if !c.Passed {
			p.Approved = false
			p.BlockedBy = c.Name
			break
		}
	}
	return p, nil
}

// actionForScore picks the remediation matching the composite score.
func actionForScore(score int) string {
	switch {
	case score >= 80:
		return ActionFreezeCard
	case score >= 50:
		return ActionOpenDispute
	case score >= 35:
		return ActionContactCustomer
	default:
		return ActionFalsePositive
	}
}

func requiresOTP(action string, score int) bool {
	switch action {
	case ActionFreezeCard:
		return true
	case ActionOpenDispute:
		return score >= otpScoreFloor
	default:
		return false
	}
}

// checkPolicyTopics maps each check to the keywords that identify its
// governing policy by code or title.
var checkPolicyTopics = map[string][]string{
	CheckRoleAuthorization: {"role"},
	CheckAmountLimits:      {"amount", "amt"},
	CheckCustomerStatus:    {"kyc", "customer"},
	CheckRateLimits:        {"rate"},
	CheckBusinessHours:     {"hour"},
	CheckEscalation:        {"escalat"},
}

// citePolicies annotates each check with the code of the stored policy
// covering its concern. Lookup is best-effort: the checks stand on their own
// when the table is empty or the read fails.
func (a *ProposeActionAgent) citePolicies(ctx context.Context, checks []PolicyCheck) {
	if a.store == nil {
		return
	}
	policies, err := a.store.ListPolicies(ctx)
	if err != nil || len(policies) == 0 {
		return
	}
	for i := range checks {
		pol, ok := policyFor(policies, checks[i].Name)
		if !ok {
			continue
		}
		if checks[i].Detail == "" {
			checks[i].Detail = "per policy " + pol.Code
		} else {
			checks[i].Detail += " (policy " + pol.Code + ")"
		}
	}
}

// policyFor returns the highest-priority policy matching a check's topics.
func policyFor(policies []fraud.Policy, check string) (fraud.Policy, bool) {
	for _, p := range policies {
		hay := strings.ToLower(p.Code + " " + p.Title)
		for _, topic := range checkPolicyTopics[check] {
			if strings.Contains(hay, topic) {
				return p, true
			}
		}
	}
	return fraud.Policy{}, false
}

func (a *ProposeActionAgent) checkRole(action string, role fraud.Role) PolicyCheck {
	c := PolicyCheck{Name: CheckRoleAuthorization, Passed: true}
	if action == ActionFreezeCard && role != fraud.RoleLead {
		c.Passed = false
		c.Detail = "freeze_card requires lead role"
	}
	return c
}

// checkAmount blocks large-amount actions. A lead may freeze above the limit;
// the dispute ceiling applies to everyone.
func (a *ProposeActionAgent) checkAmount(action string, role fraud.Role, amount decimal.Decimal) PolicyCheck {
	c := PolicyCheck{Name: CheckAmountLimits, Passed: true}
	switch action {
	case ActionFreezeCard:
		if amount.GreaterThan(freezeAmountLimit) && role != fraud.RoleLead {
			c.Passed = false
			c.Detail = "suspect amount above freeze limit for agent role"
		}
	case ActionOpenDispute:
		if amount.GreaterThan(disputeLimit) {
			c.Passed = false
			c.Detail = "suspect amount above dispute limit"
		}
	}
	return c
}

func (a *ProposeActionAgent) checkCustomerStatus(customer *fraud.Customer) PolicyCheck {
	c := PolicyCheck{Name: CheckCustomerStatus, Passed: true}
	if customer != nil && customer.KYCLevel == fraud.KYCRestricted {
		c.Passed = false
		c.Detail = "customer is KYC-restricted; write actions blocked"
	}
	return c
}

func (a *ProposeActionAgent) checkRateLimit(ctx context.Context, clientID, action string) PolicyCheck {
	c := PolicyCheck{Name: CheckRateLimits, Passed: true}
	if a.limiter == nil || clientID == "" {
		return c
	}
	if d := a.limiter.Allow(ctx, clientID+":"+action); !d.Allowed {
		c.Passed = false
		c.Detail = fmt.Sprintf("per-user action rate exceeded, retry in %s", d.RetryAfter)
	}
	return c
}

func (a *ProposeActionAgent) checkBusinessHours(action string, role fraud.Role, now time.Time) PolicyCheck {
	c := PolicyCheck{Name: CheckBusinessHours, Passed: true}
	if action != ActionFreezeCard || role == fraud.RoleLead {
		return c
	}
	local := now.In(a.tz)
	wd := local.Weekday()
	h := local.Hour()
	if wd == time.Saturday || wd == time.Sunday || h < 9 || h >= 17 {
		c.Passed = false
		c.Detail = "freeze_card outside business hours requires lead override"
	}
	return c
}

func (a *ProposeActionAgent) checkEscalation(score int, confidence float64, role fraud.Role) PolicyCheck {
	c := PolicyCheck{Name: CheckEscalation, Passed: true}
	if score >= 80 && confidence < 60 && role == fraud.RoleAgent {
		c.Passed = false
		c.Detail = "high score with low confidence requires lead review"
	}
	return c
}
