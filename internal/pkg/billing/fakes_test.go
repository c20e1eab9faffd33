package billing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/LinkFox/app/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// memoryRepo is an in-memory Repository with the same uniqueness rules as the
// schema.
type memoryRepo struct {
	mu       sync.Mutex
	users    map[uint]*models.User
	ledger   []models.LedgerEntry
	events   []models.BillingWebhookEvent
	nextID   uint
	saveErr  error
	saves    int
	inserted int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[uint]*models.User{}}
}

func (r *memoryRepo) addUser(id uint, email string, e models.Entitlement) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.PlanType == "" {
		e.PlanType = models.PlanNone
	}
	u := &models.User{ID: id, Name: fmt.Sprintf("user%d", id), Email: email, Entitlement: e}
	r.users[id] = u
	return u
}

func (r *memoryRepo) user(id uint) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.users[id]
}

// seedLedger inserts rows without the uniqueness check, the way legacy data
// or a dropped index would leave them.
func (r *memoryRepo) seedLedger(entries ...models.LedgerEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.nextID++
		e.ID = r.nextID
		r.ledger = append(r.ledger, e)
	}
}

func (r *memoryRepo) ledgerFor(externalID string) []models.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range r.ledger {
		if e.ExternalID == externalID {
			out = append(out, e)
		}
	}
	return out
}

func (r *memoryRepo) ledgerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ledger)
}

func (r *memoryRepo) FindLedgerEntry(_ context.Context, externalID string) (*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.ledger {
		if e.ExternalID == externalID {
			entry := e
			return &entry, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) CreateLedgerEntryIfNotExists(_ context.Context, entry *models.LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.ledger {
		if e.ExternalID == entry.ExternalID {
			return false, nil
		}
	}
	r.nextID++
	entry.ID = r.nextID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = testNow.Add(time.Duration(r.nextID) * time.Second)
	}
	r.ledger = append(r.ledger, *entry)
	r.inserted++
	return true, nil
}

func (r *memoryRepo) ListLedgerEntriesByEmail(_ context.Context, email string) ([]models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range r.ledger {
		if e.UserEmail == email {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memoryRepo) ListEmailsWithDuplicateLedgerEntries(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int{}
	for _, e := range r.ledger {
		counts[e.ExternalID]++
	}
	seen := map[string]bool{}
	var emails []string
	for _, e := range r.ledger {
		if counts[e.ExternalID] > 1 && !seen[e.UserEmail] {
			seen[e.UserEmail] = true
			emails = append(emails, e.UserEmail)
		}
	}
	sort.Strings(emails)
	return emails, nil
}

func (r *memoryRepo) DeleteLedgerEntries(_ context.Context, ids []uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := map[uint]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var kept []models.LedgerEntry
	var n int64
	for _, e := range r.ledger {
		if drop[e.ID] {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.ledger = kept
	return n, nil
}

func (r *memoryRepo) GetUserByID(_ context.Context, id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memoryRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if models.NormalizeEmail(u.Email) == models.NormalizeEmail(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memoryRepo) SaveEntitlement(_ context.Context, userID uint, e models.Entitlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	e.GatewayCustomerID = u.Entitlement.GatewayCustomerID
	u.Entitlement = e
	r.saves++
	return nil
}

func (r *memoryRepo) SetGatewayCustomerID(_ context.Context, userID uint, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Entitlement.GatewayCustomerID = customerID
	return nil
}

func (r *memoryRepo) CreateWebhookEventIfNotExists(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			stored := e
			return false, &stored, nil
		}
	}
	r.nextID++
	event.ID = r.nextID
	r.events = append(r.events, *event)
	stored := *event
	return true, &stored, nil
}

func (r *memoryRepo) GetWebhookEvent(_ context.Context, provider, providerEventID string) (*models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Provider == provider && e.ProviderEventID == providerEventID {
			stored := e
			return &stored, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepo) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id {
			now := testNow
			r.events[i].ProcessedAt = &now
			r.events[i].ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *memoryRepo) event(providerEventID string) *models.BillingWebhookEvent {
	e, _ := r.GetWebhookEvent(context.Background(), models.BillingProviderStripe, providerEventID)
	return e
}

// fakeGateway is an in-memory Gateway.
type fakeGateway struct {
	mu            sync.Mutex
	customers     map[string]string
	sessions      map[string]*CheckoutSession
	subscriptions map[string]*Subscription
	nextID        int

	retrieveSubErr error
	cancelErr      error
	listErr        error

	createdCustomers int
	cancelCalls      int
	lastCheckout     CheckoutParams
	lastSubscription SubscriptionParams
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		customers:     map[string]string{},
		sessions:      map[string]*CheckoutSession{},
		subscriptions: map[string]*Subscription{},
	}
}

func (g *fakeGateway) addCustomer(id, email string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers[id] = email
}

func (g *fakeGateway) addSession(s CheckoutSession) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s.ID] = &s
}

func (g *fakeGateway) addSubscription(s Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions[s.ID] = &s
}

func (g *fakeGateway) CreateCustomer(_ context.Context, email string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := fmt.Sprintf("cus_new%d", g.nextID)
	g.customers[id] = email
	g.createdCustomers++
	return id, nil
}

func (g *fakeGateway) ListCustomers(_ context.Context, email string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for id, e := range g.customers {
		if e == email {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (g *fakeGateway) RetrieveCustomer(_ context.Context, id string) (*Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	email, ok := g.customers[id]
	if !ok {
		return nil, fmt.Errorf("retrieve customer: %w", ErrResourceMissing)
	}
	return &Customer{ID: id, Email: email}, nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, in CheckoutParams) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.lastCheckout = in
	s := &CheckoutSession{
		ID:         fmt.Sprintf("cs_new%d", g.nextID),
		URL:        fmt.Sprintf("https://checkout.test/cs_new%d", g.nextID),
		Status:     "open",
		CustomerID: in.CustomerID,
		Metadata:   map[string]string{metaPlan: string(in.Plan), metaUserEmail: in.UserEmail},
	}
	g.sessions[s.ID] = s
	return s, nil
}

func (g *fakeGateway) RetrieveCheckoutSession(_ context.Context, id string) (*CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, fmt.Errorf("retrieve checkout session: %w", ErrResourceMissing)
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) ListCheckoutSessions(_ context.Context, customerID string, limit int64) ([]CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	var out []CheckoutSession
	for _, s := range g.sessions {
		if s.CustomerID == customerID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, in SubscriptionParams) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.lastSubscription = in
	s := &Subscription{
		ID:           fmt.Sprintf("sub_new%d", g.nextID),
		Status:       "incomplete",
		CustomerID:   in.CustomerID,
		ClientSecret: "pi_secret_test",
	}
	g.subscriptions[s.ID] = s
	return s, nil
}

func (g *fakeGateway) RetrieveSubscription(_ context.Context, id string) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retrieveSubErr != nil {
		return nil, g.retrieveSubErr
	}
	s, ok := g.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("retrieve subscription: %w", ErrResourceMissing)
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string) (*Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	s, ok := g.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("cancel subscription: %w", ErrResourceMissing)
	}
	s.Status = "canceled"
	cp := *s
	return &cp, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	receipts  []string
	cancelled []string
}

func (n *recordingNotifier) PaymentReceived(_ context.Context, email string, entry models.LedgerEntry) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, email+":"+entry.ExternalID)
	return nil
}

func (n *recordingNotifier) SubscriptionCancelled(_ context.Context, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, email)
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }
