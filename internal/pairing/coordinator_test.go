package pairing

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/auth"
	"github.com/nerrad567/gray-logic-relay/internal/gateway"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-relay/migrations"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db       *database.DB
	coord    *Coordinator
	gateways *gateway.Registry
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "pairing-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}

	perms := auth.NewPermissionRepository(db.DB)
	for _, p := range []auth.HomePermission{
		{UserID: "usr-admin", HomeID: "home-1", Role: auth.RoleAdmin},
		{UserID: "usr-owner", HomeID: "home-1", Role: auth.RoleOwner},
		{UserID: "usr-member", HomeID: "home-1", Role: auth.RoleUser},
	} {
		p := p
		if err := perms.Grant(ctx, &p); err != nil {
			t.Fatalf("Grant() error = %v", err)
		}
	}

	gateways := gateway.NewRegistry(gateway.NewSQLiteRepository(db.DB))
	coord := NewCoordinator(db, auth.NewAuthorizer(perms), gateways, Config{
		CodeLength:    8,
		DefaultExpiry: 10 * time.Minute,
		MaxExpiry:     60 * time.Minute,
	})

	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	coord.SetClock(clock.Now)

	return &fixture{db: db, coord: coord, gateways: gateways, clock: clock}
}

func (f *fixture) request(t *testing.T, minutes int) *Code {
	t.Helper()
	code, err := f.coord.RequestCode(context.Background(), Request{
		UserID: "usr-admin", HomeID: "home-1", HomeName: "Lake House", ExpiryMinutes: minutes,
	})
	if err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	return code
}

func TestRequestCode_Format(t *testing.T) {
	f := newFixture(t)
	code := f.request(t, 0)

	if !regexp.MustCompile(`^[0-9]{8}$`).MatchString(code.Code) {
		t.Errorf("Code = %q, want 8 digits", code.Code)
	}
	if code.HomeID != "home-1" || code.UserID != "usr-admin" || code.HomeName != "Lake House" {
		t.Errorf("RequestCode() = %+v", code)
	}
}

func TestRequestCode_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		minutes int
		want    time.Duration
	}{
		{"default when zero", 0, 10 * time.Minute},
		{"default when negative", -5, 10 * time.Minute},
		{"as requested", 30, 30 * time.Minute},
		{"clamped to maximum", 120, 60 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code := f.request(t, tt.minutes)
			if got := code.ExpiresAt.Sub(code.CreatedAt); got != tt.want {
				t.Errorf("lifetime = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestCode_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, user := range []string{"usr-member", "usr-stranger"} {
		_, err := f.coord.RequestCode(ctx, Request{UserID: user, HomeID: "home-1"})
		if !errors.Is(err, auth.ErrForbidden) {
			t.Errorf("RequestCode(%s) error = %v, want auth.ErrForbidden", user, err)
		}
	}

	if _, err := f.coord.RequestCode(ctx, Request{UserID: "usr-owner", HomeID: "home-1"}); err != nil {
		t.Errorf("RequestCode(owner) error = %v", err)
	}
	if _, err := f.coord.RequestCode(ctx, Request{UserID: "usr-admin", HomeID: "home-2"}); !errors.Is(err, auth.ErrForbidden) {
		t.Errorf("RequestCode(other home) error = %v, want auth.ErrForbidden", err)
	}
}

func TestRequestCode_RedrawsOnCollision(t *testing.T) {
	f := newFixture(t)

	draws := []string{"48213790", "48213790", "48213790", "11112222"}
	f.coord.draw = func(int) (string, error) {
		v := draws[0]
		draws = draws[1:]
		return v, nil
	}

	first := f.request(t, 0)
	second := f.request(t, 0)

	if first.Code != "48213790" {
		t.Errorf("first code = %q, want 48213790", first.Code)
	}
	if second.Code != "11112222" {
		t.Errorf("second code = %q, want a redraw of 11112222", second.Code)
	}
}

func TestRequestCode_ExhaustedCodeSpace(t *testing.T) {
	f := newFixture(t)
	f.coord.draw = func(int) (string, error) { return "00000000", nil }

	f.request(t, 0)
	_, err := f.coord.RequestCode(context.Background(), Request{UserID: "usr-admin", HomeID: "home-1"})
	if !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Errorf("RequestCode() error = %v, want ErrCodeSpaceExhausted", err)
	}
}

func TestRequestCode_ReusesValueOfDeadCode(t *testing.T) {
	f := newFixture(t)
	f.coord.draw = func(int) (string, error) { return "48213790", nil }

	f.request(t, 10)
	f.clock.Advance(11 * time.Minute)

	// The first code has expired so its value is free again.
	again := f.request(t, 10)
	homeID, ok, err := f.coord.VerifyCode(context.Background(), again.Code)
	if err != nil || !ok || homeID != "home-1" {
		t.Errorf("VerifyCode() = (%q, %v, %v), want (home-1, true, nil)", homeID, ok, err)
	}
}

func TestVerifyCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.request(t, 10)

	homeID, ok, err := f.coord.VerifyCode(ctx, code.Code)
	if err != nil || !ok || homeID != "home-1" {
		t.Fatalf("VerifyCode() = (%q, %v, %v), want (home-1, true, nil)", homeID, ok, err)
	}

	// Verifying twice changes nothing.
	if _, ok, _ := f.coord.VerifyCode(ctx, code.Code); !ok {
		t.Error("second VerifyCode() should still be valid")
	}

	if _, ok, err := f.coord.VerifyCode(ctx, "99999999"); ok || err != nil {
		t.Errorf("VerifyCode(unknown) = (%v, %v), want (false, nil)", ok, err)
	}

	if _, err := f.coord.CompleteCode(ctx, code.Code, "Hub", "1.0.0"); err != nil {
		t.Fatalf("CompleteCode() error = %v", err)
	}
	if _, ok, _ := f.coord.VerifyCode(ctx, code.Code); ok {
		t.Error("VerifyCode() after completion should be invalid")
	}
}

func TestCompleteCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.request(t, 10)

	done, err := f.coord.CompleteCode(ctx, code.Code, "Kitchen Hub", "2.1.0")
	if err != nil {
		t.Fatalf("CompleteCode() error = %v", err)
	}

	gw := done.Gateway
	if gw.HomeID != "home-1" || gw.OwnerID != "usr-admin" || gw.Name != "Kitchen Hub" || gw.Version != "2.1.0" {
		t.Errorf("minted gateway = %+v", gw)
	}
	if gw.Status != gateway.StatusPending {
		t.Errorf("Status = %q, want pending", gw.Status)
	}
	if done.HomeName != "Lake House" {
		t.Errorf("HomeName = %q, want Lake House", done.HomeName)
	}

	// The issued credentials work against the registry.
	if _, err := f.gateways.Authenticate(ctx, gw.ID, done.Secret); err != nil {
		t.Errorf("Authenticate() with minted credentials error = %v", err)
	}

	if _, err := f.coord.CompleteCode(ctx, code.Code, "Again", ""); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("second CompleteCode() error = %v, want ErrAlreadyConsumed", err)
	}
	if _, err := f.coord.CompleteCode(ctx, "12345678", "", ""); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("CompleteCode(unknown) error = %v, want ErrInvalidCode", err)
	}

	var linked string
	if err := f.db.QueryRowContext(ctx, "SELECT gateway_id FROM pairing_codes WHERE id = ?", code.ID).Scan(&linked); err != nil {
		t.Fatalf("reading pairing code: %v", err)
	}
	if linked != gw.ID {
		t.Errorf("pairing_codes.gateway_id = %q, want %q", linked, gw.ID)
	}
}

func TestCompleteCode_ConcurrentCallersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.request(t, 10)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.CompleteCode(ctx, code.Code, "Hub", "1.0.0")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, consumed int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyConsumed):
			consumed++
		default:
			t.Errorf("CompleteCode() unexpected error = %v", err)
		}
	}
	if wins != 1 || consumed != callers-1 {
		t.Errorf("wins = %d, already consumed = %d, want 1 and %d", wins, consumed, callers-1)
	}

	list, err := f.gateways.ListByHome(ctx, "home-1")
	if err != nil {
		t.Fatalf("ListByHome() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("gateways minted = %d, want 1", len(list))
	}
}

func TestCompleteCode_ExpiredCodeIsNotConsumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coord.draw = func(int) (string, error) { return "48213790", nil }

	code := f.request(t, 10)
	f.clock.Advance(11 * time.Minute)

	if _, err := f.coord.CompleteCode(ctx, "48213790", "Hub", "1.0.0"); !errors.Is(err, ErrExpired) {
		t.Fatalf("CompleteCode() error = %v, want ErrExpired", err)
	}

	var consumed int
	if err := f.db.QueryRowContext(ctx, "SELECT consumed FROM pairing_codes WHERE id = ?", code.ID).Scan(&consumed); err != nil {
		t.Fatalf("reading pairing code: %v", err)
	}
	if consumed != 0 {
		t.Error("expired code must remain unconsumed")
	}

	list, _ := f.gateways.ListByHome(ctx, "home-1") //nolint:errcheck // empty list on error fails below
	if len(list) != 0 {
		t.Errorf("gateways minted = %d, want 0", len(list))
	}
}

func TestCompleteCode_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.request(t, 10)

	f.clock.Advance(10*time.Minute - time.Second)
	if _, ok, _ := f.coord.VerifyCode(ctx, code.Code); !ok {
		t.Error("code should be valid one second before expiry")
	}

	f.clock.Advance(time.Second)
	if _, err := f.coord.CompleteCode(ctx, code.Code, "", ""); !errors.Is(err, ErrExpired) {
		t.Errorf("CompleteCode() at expiry error = %v, want ErrExpired", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.request(t, 5)
	redeemed := f.request(t, 5)
	long := f.request(t, 30)

	if _, err := f.coord.CompleteCode(ctx, redeemed.Code, "", ""); err != nil {
		t.Fatalf("CompleteCode() error = %v", err)
	}

	f.clock.Advance(6 * time.Minute)
	n, err := f.coord.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CleanupExpired() removed %d, want 1", n)
	}

	var remaining int
	if err := f.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pairing_codes").Scan(&remaining); err != nil {
		t.Fatalf("counting codes: %v", err)
	}
	if remaining != 2 {
		t.Errorf("remaining codes = %d, want 2 (redeemed history and the long-lived code)", remaining)
	}
	if _, ok, _ := f.coord.VerifyCode(ctx, long.Code); !ok {
		t.Error("long-lived code should survive cleanup")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.coord.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestDrawCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9]{6}$`)
	for i := 0; i < 200; i++ {
		v, err := drawCode(6)
		if err != nil {
			t.Fatalf("drawCode() error = %v", err)
		}
		if !pattern.MatchString(v) {
			t.Fatalf("drawCode(6) = %q, want 6 digits", v)
		}
	}
}
