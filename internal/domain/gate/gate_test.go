package gate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/domain/ads"
	"telegram-downloader/internal/domain/gate"
	"telegram-downloader/internal/domain/quota"
)

type memStore struct {
	mu    sync.Mutex
	users map[int64]account.User
}

func newMemStore() *memStore { return &memStore{users: make(map[int64]account.User)} }

func (m *memStore) FindUser(id int64) (*account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	cp := u
	return &cp, nil
}

func (m *memStore) UpsertUser(u *account.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.TelegramID] = *u
	return nil
}

func (m *memStore) UpdateUser(id int64, mutate func(*account.User) error) (*account.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	if err := mutate(&u); err != nil {
		return nil, err
	}
	m.users[id] = u
	cp := u
	return &cp, nil
}

type fakeMember struct {
	member bool
	err    error
}

func (f fakeMember) IsMember(context.Context, string, int64) (bool, error) {
	return f.member, f.err
}

type fakeForceSub struct{ channel string }

func (f fakeForceSub) ForceSubChannel() (string, error) { return f.channel, nil }

func now() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

type env struct {
	store    *memStore
	accounts *account.Service
	pipeline *gate.Pipeline
}

func newEnv(t *testing.T, member fakeMember, channel string, adLimit int) env {
	t.Helper()

	store := newMemStore()
	accounts := account.NewService(store, 0, now)
	ledger := quota.NewLedger(accounts, 5, now)
	adSvc := ads.NewService(nil, ads.DefaultStatic(), accounts, adLimit)
	p := gate.NewPipeline(accounts, ledger, member, fakeForceSub{channel: channel}, adSvc)
	return env{store: store, accounts: accounts, pipeline: p}
}

func agreed(t *testing.T, e env, id int64) {
	t.Helper()
	if _, err := e.accounts.Get(id); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := e.accounts.AgreeTerms(id); err != nil {
		t.Fatalf("agree terms: %v", err)
	}
}

func TestTermsRequired(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fakeMember{member: true}, "", 3)
	d, err := e.pipeline.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed || d.Reason != gate.ReasonTerms {
		t.Fatalf("got %+v, want terms refusal", d)
	}
}

func TestForceSubRefusal(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fakeMember{member: false}, "somechannel", 3)
	agreed(t, e, 1)

	d, err := e.pipeline.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed || d.Reason != gate.ReasonNotSubscribed || d.Channel != "somechannel" {
		t.Fatalf("got %+v, want not-subscribed refusal", d)
	}
}

func TestPrivilegedBypassesForceSub(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fakeMember{member: false}, "somechannel", 3)
	agreed(t, e, 1)
	if err := e.accounts.SetRole(1, account.RoleAdmin, 0); err != nil {
		t.Fatalf("set role: %v", err)
	}

	d, err := e.pipeline.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("admin must bypass force-sub, got %+v", d)
	}
	if d.ShowAd {
		t.Fatal("admin must not see ads")
	}
}

func TestMembershipErrorFailsOpen(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fakeMember{err: errors.New("FLOOD_WAIT")}, "somechannel", 3)
	agreed(t, e, 1)

	d, err := e.pipeline.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("broken membership check must not block users, got %+v", d)
	}
}

func TestBannedRefusal(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fakeMember{member: true}, "", 3)
	agreed(t, e, 1)
	if err := e.accounts.SetBanned(1, true); err != nil {
		t.Fatalf("ban: %v", err)
	}

	d, err := e.pipeline.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed || d.Reason != gate.ReasonBanned {
		t.Fatalf("got %+v, want ban refusal", d)
	}
}

func TestQuotaRefusal(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fakeMember{member: true}, "", 3)
	agreed(t, e, 1)
	if _, err := e.store.UpdateUser(1, func(u *account.User) error {
		u.DownloadsToday = 5
		u.LastDownloadDate = account.DateKey(now())
		return nil
	}); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	d, err := e.pipeline.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed || d.Reason != gate.ReasonQuota {
		t.Fatalf("got %+v, want quota refusal", d)
	}
}

func TestFreeUserGetsAd(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fakeMember{member: true}, "", 3)
	agreed(t, e, 1)

	d, err := e.pipeline.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed || !d.ShowAd || d.Ad.Empty() {
		t.Fatalf("free user should be allowed with an ad, got %+v", d)
	}
}

func TestPremiumSkipsAds(t *testing.T) {
	t.Parallel()

	e := newEnv(t, fakeMember{member: true}, "", 3)
	agreed(t, e, 1)
	if err := e.accounts.SetRole(1, account.RolePremium, 0); err != nil {
		t.Fatalf("set role: %v", err)
	}

	d, err := e.pipeline.Check(context.Background(), 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed || d.ShowAd {
		t.Fatalf("premium user should be allowed without ads, got %+v", d)
	}
}
