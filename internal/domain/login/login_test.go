package login_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/domain/login"
)

type fakeSessions struct {
	users map[int64]*account.User
	saved map[int64]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{users: make(map[int64]*account.User), saved: make(map[int64]string)}
}

func (f *fakeSessions) Get(id int64) (*account.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	u := account.New(id, time.Now())
	f.users[id] = u
	return u, nil
}

func (f *fakeSessions) SaveSession(id int64, credential string) error {
	f.saved[id] = credential
	return nil
}

// fakeFlow скриптуется через поля: каждая операция возвращает заданную ошибку
// либо снимает её после первого вызова.
type fakeFlow struct {
	sendCodeErr error
	signInErrs  []error
	passwordErr error
	exportErr   error
	closed      int
	phones      []string
	codes       []string
}

func (f *fakeFlow) SendCode(_ context.Context, phone string) (string, error) {
	f.phones = append(f.phones, phone)
	if f.sendCodeErr != nil {
		return "", f.sendCodeErr
	}
	return "hash-1", nil
}

func (f *fakeFlow) SignIn(_ context.Context, _, hash, code string) error {
	f.codes = append(f.codes, code)
	if hash != "hash-1" {
		return errors.New("wrong hash")
	}
	if len(f.signInErrs) == 0 {
		return nil
	}
	err := f.signInErrs[0]
	f.signInErrs = f.signInErrs[1:]
	return err
}

func (f *fakeFlow) Password(context.Context, string) error { return f.passwordErr }

func (f *fakeFlow) Export(context.Context) (string, error) {
	if f.exportErr != nil {
		return "", f.exportErr
	}
	return "credential-abc", nil
}

func (f *fakeFlow) Close() { f.closed++ }

type fakeDialer struct {
	flow  *fakeFlow
	dials int
	err   error
}

func (d *fakeDialer) Dial(context.Context) (login.Flow, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.flow, nil
}

func newManager(flow *fakeFlow) (*login.Manager, *fakeSessions, *fakeDialer) {
	sessions := newFakeSessions()
	dialer := &fakeDialer{flow: flow}
	m := login.NewManager(dialer, sessions, 10*time.Minute, nil)
	return m, sessions, dialer
}

func TestHappyPathWithoutPassword(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	flow := &fakeFlow{}
	m, sessions, _ := newManager(flow)

	step, err := m.Begin(ctx, 1)
	if err != nil || step != login.StepAskPhone {
		t.Fatalf("Begin: step=%v err=%v", step, err)
	}

	step, err = m.Input(ctx, 1, "+1 (555) 010-2030")
	if err != nil || step != login.StepAskCode {
		t.Fatalf("phone input: step=%v err=%v", step, err)
	}
	if flow.phones[0] != "+15550102030" {
		t.Fatalf("phone not normalized: %q", flow.phones[0])
	}

	step, err = m.Input(ctx, 1, "12 34 5")
	if err != nil || step != login.StepDone {
		t.Fatalf("code input: step=%v err=%v", step, err)
	}
	if flow.codes[0] != "12345" {
		t.Fatalf("code not normalized: %q", flow.codes[0])
	}
	if sessions.saved[1] != "credential-abc" {
		t.Fatalf("credential not saved: %q", sessions.saved[1])
	}
	if flow.closed != 1 {
		t.Fatalf("flow closed %d times, want 1", flow.closed)
	}
	if m.Active(1) {
		t.Fatal("conversation must be gone after success")
	}
}

func TestTwoFactorPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	flow := &fakeFlow{signInErrs: []error{login.ErrPasswordNeeded}}
	m, sessions, _ := newManager(flow)

	if _, err := m.Begin(ctx, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := m.Input(ctx, 1, "+15550102030"); err != nil {
		t.Fatalf("phone: %v", err)
	}

	step, err := m.Input(ctx, 1, "12345")
	if err != nil || step != login.StepAskPassword {
		t.Fatalf("code input: step=%v err=%v", step, err)
	}

	step, err = m.Input(ctx, 1, "hunter2")
	if err != nil || step != login.StepDone {
		t.Fatalf("password input: step=%v err=%v", step, err)
	}
	if sessions.saved[1] == "" {
		t.Fatal("credential not saved after 2FA")
	}
}

func TestInvalidCodeRetriesThenAborts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	flow := &fakeFlow{signInErrs: []error{login.ErrCodeInvalid, login.ErrCodeInvalid, login.ErrCodeInvalid}}
	m, _, _ := newManager(flow)

	if _, err := m.Begin(ctx, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := m.Input(ctx, 1, "+15550102030"); err != nil {
		t.Fatalf("phone: %v", err)
	}

	for i := 0; i < 2; i++ {
		step, err := m.Input(ctx, 1, "00000")
		if step != login.StepRetryCode || !errors.Is(err, login.ErrCodeInvalid) {
			t.Fatalf("attempt %d: step=%v err=%v", i+1, step, err)
		}
	}

	step, err := m.Input(ctx, 1, "00000")
	if step != login.StepAborted || !errors.Is(err, login.ErrTooManyAttempts) {
		t.Fatalf("third attempt: step=%v err=%v", step, err)
	}
	if flow.closed != 1 {
		t.Fatalf("flow must be released on abort, closed=%d", flow.closed)
	}
	if m.Active(1) {
		t.Fatal("conversation must be gone after abort")
	}
}

func TestBeginRefusedWithExistingSession(t *testing.T) {
	t.Parallel()

	m, sessions, _ := newManager(&fakeFlow{})
	u, _ := sessions.Get(1)
	u.PhoneSessionString = "already-there-0123456789"

	if _, err := m.Begin(context.Background(), 1); !errors.Is(err, login.ErrAlreadyAuthorized) {
		t.Fatalf("got %v, want ErrAlreadyAuthorized", err)
	}
}

func TestMalformedPhoneRetriesWithoutDialing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	flow := &fakeFlow{}
	m, _, dialer := newManager(flow)

	if _, err := m.Begin(ctx, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Синтаксически негодный номер: клиент не поднимается, диалог живёт.
	step, err := m.Input(ctx, 1, "call me maybe")
	if step != login.StepRetryPhone || !errors.Is(err, login.ErrPhoneInvalid) {
		t.Fatalf("got step=%v err=%v", step, err)
	}
	if dialer.dials != 0 {
		t.Fatalf("dialer must not fire on locally rejected phone, dials=%d", dialer.dials)
	}

	if step, err = m.Input(ctx, 1, "+15550102030"); err != nil || step != login.StepAskCode {
		t.Fatalf("valid phone after retry: step=%v err=%v", step, err)
	}
}

func TestRejectedPhoneAbortsAndReleasesFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	flow := &fakeFlow{sendCodeErr: login.ErrPhoneInvalid}
	m, _, _ := newManager(flow)

	if _, err := m.Begin(ctx, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Номер отвергла платформа: диалог сворачивается, клиент закрывается.
	step, err := m.Input(ctx, 1, "+15550102030")
	if step != login.StepAborted || !errors.Is(err, login.ErrPhoneInvalid) {
		t.Fatalf("got step=%v err=%v", step, err)
	}
	if flow.closed != 1 {
		t.Fatalf("flow closed %d times, want 1", flow.closed)
	}
	if m.Active(1) {
		t.Fatal("conversation must be gone after rejection")
	}
}

func TestCancelReleasesFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	flow := &fakeFlow{}
	m, _, _ := newManager(flow)

	if _, err := m.Begin(ctx, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := m.Input(ctx, 1, "+15550102030"); err != nil {
		t.Fatalf("phone: %v", err)
	}

	if !m.Cancel(1) {
		t.Fatal("Cancel must report an active conversation")
	}
	if flow.closed != 1 {
		t.Fatalf("flow closed %d times, want 1", flow.closed)
	}
	if m.Cancel(1) {
		t.Fatal("second Cancel must report nothing to do")
	}
}

func TestSweepStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := &now
	flow := &fakeFlow{}
	dialer := &fakeDialer{flow: flow}
	m := login.NewManager(dialer, newFakeSessions(), 10*time.Minute, func() time.Time { return *clock })

	if _, err := m.Begin(ctx, 1); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := m.Input(ctx, 1, "+15550102030"); err != nil {
		t.Fatalf("phone: %v", err)
	}

	if n := m.SweepStale(); n != 0 {
		t.Fatalf("fresh conversation swept: %d", n)
	}

	later := now.Add(11 * time.Minute)
	clock = &later
	if n := m.SweepStale(); n != 1 {
		t.Fatalf("SweepStale = %d, want 1", n)
	}
	if flow.closed != 1 {
		t.Fatalf("stale flow must be closed, closed=%d", flow.closed)
	}
	if m.Active(1) {
		t.Fatal("stale conversation must be gone")
	}
}
