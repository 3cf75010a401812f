package quota_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/domain/quota"
)

// memStore — Store в памяти, достаточный для account.Service в тестах.
type memStore struct {
	mu    sync.Mutex
	users map[int64]account.User
}

func newMemStore() *memStore {
	return &memStore{users: make(map[int64]account.User)}
}

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

func fixedClock(day string) func() time.Time {
	t, _ := time.Parse("2006-01-02", day)
	return func() time.Time { return t }
}

func newLedger(t *testing.T, day string) (*quota.Ledger, *account.Service, *memStore) {
	t.Helper()
	ms := newMemStore()
	svc := account.NewService(ms, 0, fixedClock(day))
	return quota.NewLedger(svc, 5, fixedClock(day)), svc, ms
}

func TestFreeUserCapRefused(t *testing.T) {
	t.Parallel()
	ledger, svc, _ := newLedger(t, "2026-09-01")

	if _, err := svc.Get(1); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	for i := range 5 {
		if err := ledger.Check(1); err != nil {
			t.Fatalf("Check() #%d error = %v", i, err)
		}
		if err := ledger.Increment(1, 1); err != nil {
			t.Fatalf("Increment() #%d error = %v", i, err)
		}
	}

	err := ledger.Check(1)
	if !errors.Is(err, quota.ErrExceeded) {
		t.Fatalf("Check() at cap error = %v, want ErrExceeded", err)
	}

	// Отказ не трогает счётчик.
	u, _ := svc.Get(1)
	if u.DownloadsToday != 5 {
		t.Errorf("DownloadsToday after refusal = %d, want 5", u.DownloadsToday)
	}
}

func TestBannedRefused(t *testing.T) {
	t.Parallel()
	ledger, svc, _ := newLedger(t, "2026-09-01")

	if _, err := svc.Get(2); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetBanned(2, true); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Check(2); !errors.Is(err, quota.ErrBanned) {
		t.Fatalf("Check(banned) error = %v, want ErrBanned", err)
	}
}

func TestLazyDailyReset(t *testing.T) {
	t.Parallel()
	ms := newMemStore()
	svc := account.NewService(ms, 0, fixedClock("2026-09-01"))
	if _, err := svc.Get(3); err != nil {
		t.Fatal(err)
	}

	ledger := quota.NewLedger(svc, 5, fixedClock("2026-09-01"))
	for range 5 {
		_ = ledger.Increment(3, 1)
	}
	if err := ledger.Check(3); !errors.Is(err, quota.ErrExceeded) {
		t.Fatalf("Check() = %v, want ErrExceeded", err)
	}

	// Следующий день: первый же Check самовосстанавливает счётчик.
	next := quota.NewLedger(svc, 5, fixedClock("2026-09-02"))
	if err := next.Check(3); err != nil {
		t.Fatalf("Check() next day error = %v", err)
	}
	remaining, unlimited, err := next.Remaining(3)
	if err != nil || unlimited {
		t.Fatalf("Remaining() = %v, %v", unlimited, err)
	}
	if remaining != 5 {
		t.Errorf("Remaining() next day = %d, want 5", remaining)
	}
}

func TestPremiumExpiryDemotesOnce(t *testing.T) {
	t.Parallel()
	ms := newMemStore()
	svc := account.NewService(ms, 0, fixedClock("2026-08-01"))
	if _, err := svc.Get(4); err != nil {
		t.Fatal(err)
	}
	// Премиум на 10 дней: истекает 2026-08-11.
	if err := svc.SetRole(4, account.RolePremium, 10); err != nil {
		t.Fatal(err)
	}

	active := quota.NewLedger(svc, 5, fixedClock("2026-08-05"))
	if _, unlimited, _ := active.Remaining(4); !unlimited {
		t.Fatal("Remaining() before expiry: want unlimited")
	}

	expired := quota.NewLedger(svc, 5, fixedClock("2026-08-12"))
	if err := expired.Check(4); err != nil {
		t.Fatalf("Check() after expiry error = %v", err)
	}
	u, _ := svc.Get(4)
	if u.Role != account.RoleFree {
		t.Errorf("Role after expiry = %q, want free", u.Role)
	}
	if u.PremiumExpiryDate != "" {
		t.Errorf("PremiumExpiryDate = %q, want cleared", u.PremiumExpiryDate)
	}

	// Повторная проверка идемпотентна.
	if err := expired.Check(4); err != nil {
		t.Fatalf("second Check() error = %v", err)
	}
	u2, _ := svc.Get(4)
	if u2.Role != account.RoleFree || u2.PremiumExpiryDate != "" {
		t.Errorf("second check mutated user: %+v", u2)
	}
}

func TestPremiumWithoutExpiryIsIndefinite(t *testing.T) {
	t.Parallel()
	ledger, svc, _ := newLedger(t, "2026-09-01")
	if _, err := svc.Get(5); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetRole(5, account.RolePremium, 0); err != nil {
		t.Fatal(err)
	}
	if _, unlimited, _ := ledger.Remaining(5); !unlimited {
		t.Error("premium without expiry must be unlimited")
	}
}

func TestIncrementReflectedExactlyOnce(t *testing.T) {
	t.Parallel()
	ledger, svc, _ := newLedger(t, "2026-09-01")
	if _, err := svc.Get(6); err != nil {
		t.Fatal(err)
	}

	if err := ledger.Check(6); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Increment(6, 3); err != nil {
		t.Fatal(err)
	}
	remaining, _, err := ledger.Remaining(6)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 2 {
		t.Errorf("Remaining() = %d, want 2", remaining)
	}
}
