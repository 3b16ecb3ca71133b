package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

func newTestManager(now time.Time) *Manager {
	m := NewManager("test-secret", "clinic-test", time.Hour)
	m.now = func() time.Time { return now }
	return m
}

func TestIssueAndValidate_RoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newTestManager(now)
	want := Principal{UserID: uuid.New(), Role: appointment.RoleNurse}

	tok, exp, err := m.Issue(want)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("expiry = %s", exp)
	}

	got, err := m.Validate(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if *got != want {
		t.Fatalf("principal = %+v, want %+v", *got, want)
	}
}

func TestIssue_RejectsUnknownRole(t *testing.T) {
	m := newTestManager(time.Now())
	if _, _, err := m.Issue(Principal{UserID: uuid.New(), Role: "janitor"}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	issuedAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer := newTestManager(issuedAt)
	tok, _, err := issuer.Issue(Principal{UserID: uuid.New(), Role: appointment.RoleDoctor})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	t.Run("expired", func(t *testing.T) {
		later := newTestManager(issuedAt.Add(2 * time.Hour))
		if _, err := later.Validate(tok); !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("expected ErrTokenExpired, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewManager("other-secret", "clinic-test", time.Hour)
		other.now = func() time.Time { return issuedAt }
		if _, err := other.Validate(tok); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewManager("test-secret", "someone-else", time.Hour)
		other.now = func() time.Time { return issuedAt }
		if _, err := other.Validate(tok); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := issuer.Validate("not-a-token"); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	})
}

func TestMiddleware(t *testing.T) {
	now := time.Now()
	m := newTestManager(now)
	receptionist := Principal{UserID: uuid.New(), Role: appointment.RoleReceptionist}
	tok, _, err := m.Issue(receptionist)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, found := PrincipalFrom(r.Context())
		if !found || p.UserID != receptionist.UserID {
			t.Errorf("principal not propagated: %+v", p)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		header string
		roles  []appointment.Role
		status int
		code   string
	}{
		{"no header", "", []appointment.Role{appointment.RoleReceptionist}, http.StatusUnauthorized, "missing_token"},
		{"wrong scheme", "Basic abc", []appointment.Role{appointment.RoleReceptionist}, http.StatusUnauthorized, "missing_token"},
		{"bad token", "Bearer nope", []appointment.Role{appointment.RoleReceptionist}, http.StatusUnauthorized, "invalid_token"},
		{"allowed role", "Bearer " + tok, []appointment.Role{appointment.RoleAdmin, appointment.RoleReceptionist}, http.StatusNoContent, ""},
		{"forbidden role", "bearer " + tok, []appointment.Role{appointment.RoleDoctor}, http.StatusForbidden, "forbidden"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := Authenticate(m)(RequireRole(tc.roles...)(ok))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if tc.code == "" {
				return
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("error code = %q, want %q", body["error"], tc.code)
			}
		})
	}
}
