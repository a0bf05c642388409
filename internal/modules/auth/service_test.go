package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/oakmere/clientdesk/internal/apperror"
	"github.com/oakmere/clientdesk/internal/hasher"
	"github.com/oakmere/clientdesk/internal/metrics"
	"github.com/oakmere/clientdesk/internal/modules/audit"
	"github.com/oakmere/clientdesk/internal/modules/passwords"
	"github.com/oakmere/clientdesk/internal/modules/sessions"
	"github.com/oakmere/clientdesk/internal/modules/settings"
)

// fakeUsers is an in-memory UserRepository.
type fakeUsers struct {
	byID map[string]*User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]*User{}}
}

func (f *fakeUsers) add(u *User) { f.byID[u.ID] = u }

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("user not found")
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*User, error) {
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, apperror.NewNotFound("user not found")
}

func (f *fakeUsers) Insert(ctx context.Context, u *User) error {
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return apperror.NewConflict("an account with this email already exists")
		}
	}
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUsers) List(ctx context.Context) ([]User, error) {
	var out []User
	for _, u := range f.byID {
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeUsers) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	u := f.byID[id]
	u.FailedAttempts++
	return u.FailedAttempts, nil
}

func (f *fakeUsers) SetLock(ctx context.Context, id string, until time.Time) error {
	u := f.byID[id]
	cp := until
	u.LockedUntil = &cp
	return nil
}

func (f *fakeUsers) ClearLock(ctx context.Context, id string) error {
	u := f.byID[id]
	u.FailedAttempts = 0
	u.LockedUntil = nil
	return nil
}

func (f *fakeUsers) UpdatePassword(ctx context.Context, id, hash string, changedAt time.Time) error {
	u := f.byID[id]
	u.PasswordHash = hash
	cp := changedAt
	u.PasswordChangedAt = &cp
	return nil
}

// fakePolicies serves a fixed policy as settings.Service.
type fakePolicies struct {
	policy settings.Policy
}

func (f *fakePolicies) Get(ctx context.Context) (*settings.Policy, error) {
	p := f.policy
	return &p, nil
}

func (f *fakePolicies) Update(ctx context.Context, in settings.UpdateInput, meta audit.RequestMeta) (*settings.Policy, error) {
	return f.Get(ctx)
}

func (f *fakePolicies) Reset(ctx context.Context, meta audit.RequestMeta) (*settings.Policy, error) {
	return f.Get(ctx)
}

// recordingSleeper captures requested delays instead of serving them.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

// captureRecorder collects audit events.
type captureRecorder struct {
	events []*audit.Event
}

func (r *captureRecorder) Record(ctx context.Context, e *audit.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *captureRecorder) ofType(eventType string) []*audit.Event {
	var out []*audit.Event
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// fakeHistoryRepo records appended credentials.
type fakeHistoryRepo struct {
	entries []passwords.HistoryEntry
}

func (f *fakeHistoryRepo) Insert(ctx context.Context, userID, hash string) error {
	f.entries = append(f.entries, passwords.HistoryEntry{UserID: userID, PasswordHash: hash})
	return nil
}

func (f *fakeHistoryRepo) ListRecent(ctx context.Context, userID string, limit int) ([]passwords.HistoryEntry, error) {
	var out []passwords.HistoryEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.entries[i].UserID == userID {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeHistoryRepo) PurgeBeyond(ctx context.Context, userID string, keep int) (int64, error) {
	return 0, nil
}

type fixture struct {
	service  Service
	users    *fakeUsers
	store    *sessions.Store
	recorder *captureRecorder
	sleeper  *recordingSleeper
	history  *fakeHistoryRepo
	policy   settings.Policy
	mr       *miniredis.Miniredis
}

const testPassword = "Vermilion+Harbor93"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	policy := settings.Defaults()
	policy.HashIterations = hasher.MinIterations

	users := newFakeUsers()
	recorder := &captureRecorder{}
	sleeper := &recordingSleeper{}
	historyRepo := &fakeHistoryRepo{}
	history := passwords.NewHistory(historyRepo)
	policies := &fakePolicies{policy: policy}
	store := sessions.NewStore(rdb)

	svc := NewService(ServiceDeps{
		Users:    users,
		Policies: policies,
		Engine:   passwords.NewEngine(policies, history),
		History:  history,
		Store:    store,
		Recorder: recorder,
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Misses:   NewMissCounter(rdb),
		Sleep:    sleeper.sleep,
	})

	return &fixture{
		service:  svc,
		users:    users,
		store:    store,
		recorder: recorder,
		sleeper:  sleeper,
		history:  historyRepo,
		policy:   policy,
		mr:       mr,
	}
}

// seedUser creates an account with the test password.
func (f *fixture) seedUser(t *testing.T, id, email string) *User {
	t.Helper()
	h, err := hasher.New(hasher.MinIterations)
	if err != nil {
		t.Fatalf("hasher.New: %v", err)
	}
	rec, err := h.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	changed := time.Now().UTC().Add(-24 * time.Hour)
	u := &User{
		ID:                id,
		Email:             email,
		DisplayName:       "Casey",
		PasswordHash:      rec.Encode(),
		PasswordChangedAt: &changed,
	}
	f.users.add(u)
	return u
}

func loginInput(email, password string) LoginInput {
	return LoginInput{
		Email:     email,
		Password:  password,
		IP:        "203.0.113.7",
		UserAgent: "test-agent/1.0",
	}
}

func assertGenericUnauthorized(t *testing.T, err error) {
	t.Helper()
	appErr, ok := err.(*apperror.AppError)
	if !ok {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", appErr.Code)
	}
	if appErr.Message != "invalid email or password" {
		t.Errorf("credential failures must share one message, got %q", appErr.Message)
	}
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")

	result, err := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Token == "" {
		t.Error("expected session token")
	}
	if result.PasswordExpired {
		t.Error("fresh password must not be expired")
	}

	sess, err := f.store.Get(context.Background(), result.Token)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.UserID != "user-1" || sess.IP != "203.0.113.7" {
		t.Errorf("unexpected session: %+v", sess)
	}
	if len(f.recorder.ofType(audit.EventLoginSuccess)) != 1 {
		t.Error("expected login_success audit event")
	}
	if len(f.sleeper.delays) != 0 {
		t.Errorf("success must not delay, got %v", f.sleeper.delays)
	}
}

func TestLoginNormalizesEmail(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")

	if _, err := f.service.Login(context.Background(), loginInput("  Casey@Example.COM ", testPassword)); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Login(context.Background(), loginInput("nobody@example.com", "whatever"))
	assertGenericUnauthorized(t, err)

	events := f.recorder.ofType(audit.EventLoginFailed)
	if len(events) != 1 {
		t.Fatalf("expected 1 login_failed event, got %d", len(events))
	}
	if events[0].UserID != nil {
		t.Error("unknown identifier must not be attributed to a user")
	}
	if len(f.sleeper.delays) != 1 || f.sleeper.delays[0] != time.Second {
		t.Errorf("expected 1s first-miss delay, got %v", f.sleeper.delays)
	}

	// Repeated misses escalate like a real account's counter.
	f.service.Login(context.Background(), loginInput("nobody@example.com", "whatever"))
	f.service.Login(context.Background(), loginInput("nobody@example.com", "whatever"))
	if got := f.sleeper.delays[2]; got != 4*time.Second {
		t.Errorf("third miss delay = %v, want 4s", got)
	}
}

func TestLoginWrongPasswordEscalates(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")

	for i := 0; i < 3; i++ {
		_, err := f.service.Login(context.Background(), loginInput("casey@example.com", "wrong-guess"))
		assertGenericUnauthorized(t, err)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(f.sleeper.delays) != 3 {
		t.Fatalf("expected 3 delays, got %v", f.sleeper.delays)
	}
	for i, d := range want {
		if f.sleeper.delays[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, f.sleeper.delays[i], d)
		}
	}
	if f.users.byID["user-1"].FailedAttempts != 3 {
		t.Errorf("failed_attempts = %d, want 3", f.users.byID["user-1"].FailedAttempts)
	}
}

func TestLoginLocksAtThreshold(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")

	for i := 0; i < f.policy.MaxLoginAttempts; i++ {
		f.service.Login(context.Background(), loginInput("casey@example.com", "wrong-guess"))
	}

	u := f.users.byID["user-1"]
	if u.LockedUntil == nil {
		t.Fatal("expected lock at threshold")
	}
	if locked := f.recorder.ofType(audit.EventAccountLocked); len(locked) != 1 {
		t.Errorf("account_locked must fire exactly once, got %d", len(locked))
	}

	// Locked account: precheck rejects without touching the counter,
	// with the distinct lockout message.
	_, err := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))
	appErr, ok := err.(*apperror.AppError)
	if !ok {
		t.Fatalf("expected *apperror.AppError, got %T", err)
	}
	if appErr.Message != "account temporarily locked, try again later" {
		t.Errorf("unexpected lockout message %q", appErr.Message)
	}
	if u.FailedAttempts != f.policy.MaxLoginAttempts {
		t.Errorf("locked attempt must not increment, got %d", u.FailedAttempts)
	}

	failed := f.recorder.ofType(audit.EventLoginFailed)
	last := failed[len(failed)-1]
	if last.Details["reason"] != "account_locked" {
		t.Errorf("expected account_locked reason, got %v", last.Details)
	}
}

func TestLoginLazyUnlock(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "user-1", "casey@example.com")

	past := time.Now().UTC().Add(-time.Minute)
	u.FailedAttempts = f.policy.MaxLoginAttempts
	u.LockedUntil = &past

	result, err := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))
	if err != nil {
		t.Fatalf("expired lock must clear on next attempt: %v", err)
	}
	if result.Token == "" {
		t.Error("expected session token")
	}
	if u.LockedUntil != nil || u.FailedAttempts != 0 {
		t.Errorf("lock state must be cleared: attempts=%d locked=%v", u.FailedAttempts, u.LockedUntil)
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")

	f.service.Login(context.Background(), loginInput("casey@example.com", "wrong-guess"))
	f.service.Login(context.Background(), loginInput("casey@example.com", "wrong-guess"))

	if _, err := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword)); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if f.users.byID["user-1"].FailedAttempts != 0 {
		t.Errorf("success must reset counter, got %d", f.users.byID["user-1"].FailedAttempts)
	}
}

func TestLoginReportsExpiredPassword(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "user-1", "casey@example.com")
	old := time.Now().UTC().AddDate(0, 0, -(f.policy.PasswordExpiryDays + 1))
	u.PasswordChangedAt = &old

	result, err := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.PasswordExpired {
		t.Error("expected PasswordExpired")
	}
}

func TestFailureDelayFormula(t *testing.T) {
	tests := []struct {
		failed int
		want   time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 16 * time.Second},
		{50, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := failureDelay(tt.failed); got != tt.want {
			t.Errorf("failureDelay(%d) = %v, want %v", tt.failed, got, tt.want)
		}
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")

	result, err := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	meta := audit.RequestMeta{ActorID: "user-1", IPAddress: "203.0.113.7"}
	if err := f.service.Logout(context.Background(), result.Token, meta); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.store.Get(context.Background(), result.Token); err == nil {
		t.Error("session must be destroyed")
	}
	if len(f.recorder.ofType(audit.EventUserLogout)) != 1 {
		t.Error("expected user_logout audit event")
	}
}

func TestReauth(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")
	result, err := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	meta := audit.RequestMeta{ActorID: "user-1", IPAddress: "203.0.113.7"}

	if err := f.service.Reauth(context.Background(), result.Token, "user-1", "wrong", meta); err == nil {
		t.Fatal("wrong password must fail reauth")
	}
	if len(f.recorder.ofType(audit.EventReauthFailed)) != 1 {
		t.Error("expected reauth_failed audit event")
	}

	if err := f.service.Reauth(context.Background(), result.Token, "user-1", testPassword, meta); err != nil {
		t.Fatalf("Reauth: %v", err)
	}
	if len(f.recorder.ofType(audit.EventReauthSuccess)) != 1 {
		t.Error("expected reauth_success audit event")
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "user-1", "casey@example.com")
	oldHash := u.PasswordHash
	result, err := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	meta := audit.RequestMeta{ActorID: "user-1", IPAddress: "203.0.113.7", UserAgent: "test-agent/1.0"}

	newToken, _, err := f.service.ChangePassword(context.Background(),
		result.Token, "user-1", testPassword, "Cobalt&Meridian41", meta)
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if newToken == result.Token {
		t.Error("session token must rotate")
	}
	if _, err := f.store.Get(context.Background(), result.Token); err == nil {
		t.Error("old token must be dead")
	}
	if u.PasswordHash == oldHash {
		t.Error("stored hash must change")
	}
	if !hasher.Verify("Cobalt&Meridian41", u.PasswordHash) {
		t.Error("new password must verify")
	}
	if len(f.history.entries) != 1 || f.history.entries[0].PasswordHash != oldHash {
		t.Errorf("outgoing credential must be archived, got %+v", f.history.entries)
	}
	if len(f.recorder.ofType(audit.EventPasswordChanged)) != 1 {
		t.Error("expected password_changed audit event")
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")
	result, _ := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))

	_, _, err := f.service.ChangePassword(context.Background(),
		result.Token, "user-1", "wrong", "Cobalt&Meridian41", audit.RequestMeta{ActorID: "user-1"})
	appErr, ok := err.(*apperror.AppError)
	if !ok {
		t.Fatalf("expected *apperror.AppError, got %T", err)
	}
	if _, present := appErr.Fields["current_password"]; !present {
		t.Errorf("expected current_password field error, got %v", appErr.Fields)
	}
}

func TestChangePasswordRejectsCurrentAsNew(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")
	result, _ := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))

	_, _, err := f.service.ChangePassword(context.Background(),
		result.Token, "user-1", testPassword, testPassword, audit.RequestMeta{ActorID: "user-1"})
	if err == nil {
		t.Fatal("reusing the current password must fail")
	}
}

func TestChangePasswordRejectsHistoryReuse(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")
	result, _ := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))
	meta := audit.RequestMeta{ActorID: "user-1"}

	newToken, _, err := f.service.ChangePassword(context.Background(),
		result.Token, "user-1", testPassword, "Cobalt&Meridian41", meta)
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// The original password now sits in history.
	_, _, err = f.service.ChangePassword(context.Background(),
		newToken, "user-1", "Cobalt&Meridian41", testPassword, meta)
	appErr, ok := err.(*apperror.AppError)
	if !ok {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if _, present := appErr.Fields["new_password"]; !present {
		t.Errorf("expected new_password field error, got %v", appErr.Fields)
	}
}

func TestChangePasswordRejectsWeak(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "user-1", "casey@example.com")
	result, _ := f.service.Login(context.Background(), loginInput("casey@example.com", testPassword))

	_, _, err := f.service.ChangePassword(context.Background(),
		result.Token, "user-1", testPassword, "short", audit.RequestMeta{ActorID: "user-1"})
	appErr, ok := err.(*apperror.AppError)
	if !ok {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if _, present := appErr.Fields["new_password"]; !present {
		t.Errorf("expected new_password field error, got %v", appErr.Fields)
	}
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t)
	meta := audit.RequestMeta{ActorID: "admin-1", IPAddress: "203.0.113.7"}

	user, err := f.service.CreateUser(context.Background(), CreateUserInput{
		Email:       "New.Hire@Example.com",
		DisplayName: "New Hire",
		Password:    "Cobalt&Meridian41",
		IsAdmin:     false,
	}, meta)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Email != "new.hire@example.com" {
		t.Errorf("email must be normalized, got %q", user.Email)
	}
	if user.ID == "" {
		t.Error("expected generated id")
	}
	if !hasher.Verify("Cobalt&Meridian41", user.PasswordHash) {
		t.Error("stored hash must verify")
	}

	events := f.recorder.ofType(audit.EventUserCreated)
	if len(events) != 1 {
		t.Fatalf("expected user_created audit event")
	}
	if events[0].ActorID == nil || *events[0].ActorID != "admin-1" {
		t.Errorf("event must carry the acting admin, got %v", events[0].ActorID)
	}

	// Duplicate email conflicts.
	_, err = f.service.CreateUser(context.Background(), CreateUserInput{
		Email:       "new.hire@example.com",
		DisplayName: "Duplicate",
		Password:    "Vermilion+Harbor93",
	}, meta)
	if apperror.SafeCode(err) != http.StatusConflict {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	meta := audit.RequestMeta{ActorID: "admin-1"}

	_, err := f.service.CreateUser(context.Background(), CreateUserInput{
		Email:       "not-an-email",
		DisplayName: "X",
		Password:    "Cobalt&Meridian41",
	}, meta)
	if apperror.SafeCode(err) != http.StatusUnprocessableEntity {
		t.Errorf("expected validation error for email, got %v", err)
	}

	_, err = f.service.CreateUser(context.Background(), CreateUserInput{
		Email:       "valid@example.com",
		DisplayName: "Valid",
		Password:    "weak",
	}, meta)
	if apperror.SafeCode(err) != http.StatusUnprocessableEntity {
		t.Errorf("expected validation error for password, got %v", err)
	}
}

func TestUnlockAccount(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "user-1", "casey@example.com")
	future := time.Now().UTC().Add(time.Hour)
	u.FailedAttempts = 5
	u.LockedUntil = &future

	meta := audit.RequestMeta{ActorID: "admin-1", IPAddress: "203.0.113.7"}
	if err := f.service.UnlockAccount(context.Background(), "user-1", meta); err != nil {
		t.Fatalf("UnlockAccount: %v", err)
	}
	if u.LockedUntil != nil || u.FailedAttempts != 0 {
		t.Errorf("expected cleared lock, got attempts=%d locked=%v", u.FailedAttempts, u.LockedUntil)
	}

	events := f.recorder.ofType(audit.EventAccountUnlocked)
	if len(events) != 1 {
		t.Fatal("expected account_unlocked audit event")
	}
	if events[0].ActorID == nil || *events[0].ActorID != "admin-1" {
		t.Errorf("event must carry the acting admin, got %v", events[0].ActorID)
	}

	if err := f.service.UnlockAccount(context.Background(), "missing", meta); apperror.SafeCode(err) != http.StatusNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}
