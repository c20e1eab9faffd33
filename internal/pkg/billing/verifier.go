package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/LinkFox/app/models"
)

// defaultSessionLookupLimit bounds how many recent checkout sessions Reconcile
// inspects.
const defaultSessionLookupLimit = 10

type VerifyResult struct {
	Updated   bool   `json:"updated"`
	SessionID string `json:"session_id,omitempty"`
}

// Verifier re-derives payment state from the gateway when the client returns
// from checkout before the webhook arrived. It builds the same facts as the
// Ingestor and hands them to the same Applier.
type Verifier struct {
	store      EntitlementStore
	gateway    Gateway
	customers  *customerResolver
	applier    *Applier
	reconciler *Reconciler
	limit      int64
	group      singleflight.Group
}

// Reconcile looks for the user's most recent paid checkout session and applies
// it. Concurrent calls for the same user share one gateway round trip, which
// is detached from the first caller's cancellation.
func (v *Verifier) Reconcile(ctx context.Context, userID uint) (VerifyResult, error) {
	shared := context.WithoutCancel(ctx)
	out, err, _ := v.group.Do("reconcile:"+strconv.FormatUint(uint64(userID), 10), func() (interface{}, error) {
		return v.reconcile(shared, userID)
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return out.(VerifyResult), nil
}

func (v *Verifier) reconcile(ctx context.Context, userID uint) (VerifyResult, error) {
	user, err := v.store.GetUserByID(ctx, userID)
	if err != nil {
		return VerifyResult{}, err
	}
	if user.Entitlement.IsPremium {
		return VerifyResult{}, nil
	}

	customerID, err := v.customers.lookup(ctx, user)
	if err != nil {
		return VerifyResult{}, err
	}
	if customerID == "" {
		return VerifyResult{}, nil
	}

	limit := v.limit
	if limit <= 0 {
		limit = defaultSessionLookupLimit
	}
	sessions, err := v.gateway.ListCheckoutSessions(ctx, customerID, limit)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("list checkout sessions for %s: %w", customerID, err)
	}

	var latest *CheckoutSession
	for idx := range sessions {
		s := &sessions[idx]
		if !s.Paid() {
			continue
		}
		if latest == nil || s.Created.After(latest.Created) {
			latest = s
		}
	}
	if latest == nil {
		return VerifyResult{}, nil
	}

	return v.applySession(ctx, user, latest, SourceCheckPaymentStatus)
}

// VerifySession applies one named checkout session after checking it belongs
// to the user.
func (v *Verifier) VerifySession(ctx context.Context, userID uint, sessionID string) (VerifyResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return VerifyResult{}, validationError("sessionId is required")
	}

	key := "verify:" + strconv.FormatUint(uint64(userID), 10) + ":" + sessionID
	out, err, _ := v.group.Do(key, func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		user, err := v.store.GetUserByID(ctx, userID)
		if err != nil {
			return VerifyResult{}, err
		}
		session, err := v.gateway.RetrieveCheckoutSession(ctx, sessionID)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("retrieve checkout session %s: %w", sessionID, err)
		}
		if !sessionBelongsTo(session, user) {
			log.Warnf("[Billing] user %d tried to verify foreign checkout session %s", user.ID, sessionID)
			return VerifyResult{}, ErrSessionMismatch
		}
		if !session.Paid() {
			return VerifyResult{}, ErrSessionNotPaid
		}
		return v.applySession(ctx, user, session, SourceVerifySession)
	})
	if err != nil {
		return VerifyResult{}, err
	}
	return out.(VerifyResult), nil
}

func (v *Verifier) applySession(ctx context.Context, user *models.User, session *CheckoutSession, source string) (VerifyResult, error) {
	plan := planFromMetadata(session.Metadata, session.Mode)
	if plan == "" {
		log.Warnf("[Billing] checkout session %s has no recognizable plan", session.ID)
		return VerifyResult{}, nil
	}

	fact := Fact{
		Kind:             FactCheckoutCompleted,
		ExternalID:       session.ID,
		UserEmail:        user.Email,
		PlanType:         plan,
		AmountMinorUnits: session.AmountTotal,
		Currency:         session.Currency,
		CustomerID:       session.CustomerID,
		SubscriptionID:   session.SubscriptionID,
		Source:           source,
	}

	if session.SubscriptionID != "" {
		sub, err := v.gateway.RetrieveSubscription(ctx, session.SubscriptionID)
		if err != nil && !errors.Is(err, ErrResourceMissing) {
			return VerifyResult{}, fmt.Errorf("retrieve subscription %s: %w", session.SubscriptionID, err)
		}
		if err != nil || !isEntitlingStatus(sub.Status) {
			log.Infof("[Billing] checkout session %s is paid but subscription %s is no longer active, not upgrading user %d",
				session.ID, session.SubscriptionID, user.ID)
			return VerifyResult{SessionID: session.ID}, nil
		}
		fact.PeriodEnd = sub.CurrentPeriodEnd
	}

	res, err := v.applier.Apply(ctx, fact, OutcomeSucceeded)
	if err != nil {
		return VerifyResult{}, err
	}

	updated := res.EntitlementUpdated
	if !res.Applied && !user.Entitlement.IsPremium {
		// The ledger already holds this session but the user never got the
		// entitlement, e.g. because the update after the webhook insert failed.
		if err := v.applier.Reaffirm(ctx, fact); err != nil {
			return VerifyResult{}, fmt.Errorf("reaffirm entitlement for user %d: %w", user.ID, err)
		}
		log.Infof("[Billing] entitlement for user %d restored from recorded session %s", user.ID, session.ID)
		updated = true
	}

	if res.Applied && v.reconciler != nil {
		if _, err := v.reconciler.Dedupe(ctx, user.Email); err != nil {
			log.Warnf("[Billing] dedupe after verification for %s failed: %v", user.Email, err)
		}
	}
	return VerifyResult{Updated: updated, SessionID: session.ID}, nil
}

func sessionBelongsTo(s *CheckoutSession, user *models.User) bool {
	if s.CustomerID != "" && s.CustomerID == user.Entitlement.GatewayCustomerID {
		return true
	}
	if s.ClientReference != "" && s.ClientReference == strconv.FormatUint(uint64(user.ID), 10) {
		return true
	}
	email := models.NormalizeEmail(user.Email)
	return email != "" && (models.NormalizeEmail(s.CustomerEmail) == email || models.NormalizeEmail(s.Metadata[metaUserEmail]) == email)
}
