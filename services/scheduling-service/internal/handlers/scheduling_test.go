package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmendozar/citadesk/libs/auth"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/booking"
)

func TestParseClock(t *testing.T) {
	cases := map[string]int{
		"08:00": 480,
		"15:30": 930,
		"00:00": 0,
	}
	for in, want := range cases {
		got, err := parseClock(in)
		if err != nil {
			t.Fatalf("parseClock(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseClock(%q) = %d, want %d", in, got, want)
		}
	}
	for _, bad := range []string{"25:00", "8am", "", "08:61"} {
		if _, err := parseClock(bad); err == nil {
			t.Fatalf("parseClock(%q) should fail", bad)
		}
	}
}

func TestWriteError_StatusMapping(t *testing.T) {
	h := &SchedulingHandler{logger: slog.Default()}
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{booking.NotFound("office not found"), http.StatusNotFound, ""},
		{booking.Invalid(booking.ReasonBadSlot, "not a slot"), http.StatusUnprocessableEntity, "bad-slot"},
		{booking.Conflict("taken"), http.StatusConflict, ""},
		{booking.Forbidden("not yours"), http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		h.writeError(rec, req, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid error body: %v", err)
		}
		if body["reason"] != tc.reason {
			t.Fatalf("%v: expected reason %q, got %q", tc.err, tc.reason, body["reason"])
		}
	}
}

func TestWithClientAuth(t *testing.T) {
	secret := "test-secret"
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ClientIDFromContext(r.Context())))
	})
	handler := WithClientAuth(secret)(next)

	token, err := auth.SignHS256(auth.Claims{
		Sub:      "user-1",
		ClientID: "cl-1",
		Exp:      time.Now().Add(time.Hour).Unix(),
		Iat:      time.Now().Unix(),
	}, secret)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "cl-1" {
		t.Fatalf("expected client id in context, got %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}
