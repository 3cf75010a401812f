package account_test

import (
	"sync"
	"testing"
	"time"

	"telegram-downloader/internal/domain/account"
)

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

func clockAt(day string) func() time.Time {
	t, _ := time.Parse("2006-01-02", day)
	return func() time.Time { return t }
}

func TestDemoteIfExpired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		role     account.Role
		expiry   string
		today    string
		demoted  bool
		wantRole account.Role
	}{
		{"expired premium", account.RolePremium, "2026-08-31", "2026-09-01", true, account.RoleFree},
		{"expires today", account.RolePremium, "2026-09-01", "2026-09-01", true, account.RoleFree},
		{"still active", account.RolePremium, "2026-09-02", "2026-09-01", false, account.RolePremium},
		{"lifetime premium", account.RolePremium, "", "2026-09-01", false, account.RolePremium},
		{"free untouched", account.RoleFree, "2026-08-31", "2026-09-01", false, account.RoleFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u := &account.User{Role: tt.role, PremiumExpiryDate: tt.expiry}
			if got := u.DemoteIfExpired(tt.today); got != tt.demoted {
				t.Fatalf("DemoteIfExpired = %v, want %v", got, tt.demoted)
			}
			if u.Role != tt.wantRole {
				t.Fatalf("Role = %q, want %q", u.Role, tt.wantRole)
			}
			if tt.demoted && u.PremiumExpiryDate != "" {
				t.Fatalf("expiry not cleared after demotion")
			}
		})
	}
}

func TestResetDayIfStale(t *testing.T) {
	t.Parallel()

	u := &account.User{DownloadsToday: 4, LastDownloadDate: "2026-08-31"}
	if !u.ResetDayIfStale("2026-09-01") {
		t.Fatalf("stale day not reset")
	}
	if u.DownloadsToday != 0 || u.LastDownloadDate != "2026-09-01" {
		t.Fatalf("after reset: count=%d date=%q", u.DownloadsToday, u.LastDownloadDate)
	}
	u.DownloadsToday = 2
	if u.ResetDayIfStale("2026-09-01") {
		t.Fatalf("same-day reset must be a no-op")
	}
	if u.DownloadsToday != 2 {
		t.Fatalf("counter touched on same day")
	}
}

func TestServiceGetCreatesUser(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := account.NewService(store, 0, clockAt("2026-09-01"))

	u, err := svc.Get(42)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if u.TelegramID != 42 || u.Role != account.RoleFree {
		t.Fatalf("created user = %+v", u)
	}
	if u.LastDownloadDate != "2026-09-01" {
		t.Fatalf("LastDownloadDate = %q", u.LastDownloadDate)
	}
}

func TestServiceOwnerPromotion(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := account.NewService(store, 99, clockAt("2026-09-01"))

	// Новый контакт владельца сразу получает роль owner.
	u, err := svc.Get(99)
	if err != nil {
		t.Fatalf("Get owner: %v", err)
	}
	if u.Role != account.RoleOwner {
		t.Fatalf("Role = %q, want owner", u.Role)
	}

	// Существующая запись с чужой ролью повышается на пути чтения.
	store.users[99] = account.User{TelegramID: 99, Role: account.RoleFree}
	u, err = svc.Get(99)
	if err != nil {
		t.Fatalf("Get existing owner: %v", err)
	}
	if u.Role != account.RoleOwner {
		t.Fatalf("existing owner Role = %q, want owner", u.Role)
	}
}

func TestServiceSetRolePremiumExpiry(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := account.NewService(store, 0, clockAt("2026-09-01"))

	if err := svc.SetRole(7, account.RolePremium, 30); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	u, err := svc.Get(7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if u.PremiumExpiryDate != "2026-10-01" {
		t.Fatalf("expiry = %q, want 2026-10-01", u.PremiumExpiryDate)
	}

	// Без срока премиум бессрочный.
	if err := svc.SetRole(7, account.RolePremium, 0); err != nil {
		t.Fatalf("SetRole lifetime: %v", err)
	}
	u, _ = svc.Get(7)
	if u.PremiumExpiryDate != "" {
		t.Fatalf("lifetime premium must have empty expiry, got %q", u.PremiumExpiryDate)
	}
}

func TestServiceSessionLifecycle(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	svc := account.NewService(store, 0, clockAt("2026-09-01"))

	if err := svc.SaveSession(5, "c2Vzc2lvbi1wYXlsb2Fk"); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	u, _ := svc.Get(5)
	if !u.HasSession() {
		t.Fatalf("HasSession = false after save")
	}

	if err := svc.Logout(5); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	u, _ = svc.Get(5)
	if u.HasSession() {
		t.Fatalf("HasSession = true after logout")
	}
}

func TestAdCounterRollsOver(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	clock := clockAt("2026-09-01")
	svc := account.NewService(store, 0, clock)

	for range 3 {
		if err := svc.RecordAdShown(8); err != nil {
			t.Fatalf("RecordAdShown: %v", err)
		}
	}
	n, err := svc.AdsShownToday(8)
	if err != nil {
		t.Fatalf("AdsShownToday: %v", err)
	}
	if n != 3 {
		t.Fatalf("AdsShownToday = %d, want 3", n)
	}

	// Новый день обнуляет счётчик на пути чтения.
	store.mu.Lock()
	u := store.users[8]
	u.LastAdDate = "2026-08-31"
	store.users[8] = u
	store.mu.Unlock()
	n, err = svc.AdsShownToday(8)
	if err != nil {
		t.Fatalf("AdsShownToday after rollover: %v", err)
	}
	if n != 0 {
		t.Fatalf("AdsShownToday after rollover = %d, want 0", n)
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	if r, ok := account.ParseRole("premium"); !ok || r != account.RolePremium {
		t.Fatalf("ParseRole(premium) = %q, %v", r, ok)
	}
	if _, ok := account.ParseRole("root"); ok {
		t.Fatalf("unknown role accepted")
	}
}

func TestDateKey(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+5", 5*3600)
	moment := time.Date(2026, 9, 1, 2, 0, 0, 0, loc)
	if got := account.DateKey(moment); got != "2026-08-31" {
		t.Fatalf("DateKey = %q, want 2026-08-31", got)
	}
}
