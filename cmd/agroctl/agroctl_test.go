package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/agro-freight/internal/auth"
	"github.com/example/agro-freight/internal/models"
)

func TestMintTokenVerifies(t *testing.T) {
	tok, err := mintToken("s3cret", "agro-freight", time.Hour, "trans-1", auth.RoleTransporter)
	if err != nil {
		t.Fatal(err)
	}
	actor, err := auth.NewService("s3cret", "agro-freight", time.Hour).Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if actor.UserID != "trans-1" || actor.Role != auth.RoleTransporter {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if _, err := mintToken("s3cret", "", time.Hour, "u", auth.Role("pilot")); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestTokenCommandPrintsToken(t *testing.T) {
	cmd := newTokenCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--user", "client-1", "--role", "client", "--secret", "k"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.Count(strings.TrimSpace(out.String()), ".") != 2 {
		t.Fatalf("expected a JWT, got %q", out.String())
	}
}

type recordedUpdate struct {
	auth string
	body map[string]float64
}

func TestSimulatePostsEveryStep(t *testing.T) {
	var (
		mu      sync.Mutex
		updates []recordedUpdate
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tracking/ship-1/update" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var b map[string]float64
		_ = json.NewDecoder(r.Body).Decode(&b)
		mu.Lock()
		updates = append(updates, recordedUpdate{auth: r.Header.Get("Authorization"), body: b})
		mu.Unlock()
		w.Write([]byte(`{"success":true}`))
	}))
	defer ts.Close()

	opts := simOptions{
		API:        ts.URL + "/",
		ShipmentID: "ship-1",
		Token:      "tok",
		From:       alger,
		To:         blida,
		Steps:      3,
		Interval:   time.Millisecond,
		Speed:      55,
	}
	var out bytes.Buffer
	if err := simulate(context.Background(), ts.Client(), opts, &out); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 4 {
		t.Fatalf("expected 4 updates, got %d", len(updates))
	}
	first, last := updates[0], updates[3]
	if first.auth != "Bearer tok" || first.body["latitude"] != alger.Lat || first.body["speed"] != 55 {
		t.Fatalf("unexpected first update %+v", first)
	}
	if last.body["latitude"] != blida.Lat || last.body["longitude"] != blida.Lon {
		t.Fatalf("last update should land on the destination, got %+v", last.body)
	}
	if h := first.body["heading"]; h < 180 || h > 270 {
		t.Fatalf("Alger to Blida heads south-west, got %f", h)
	}
	if !strings.Contains(out.String(), "4/4") {
		t.Fatalf("progress output missing: %q", out.String())
	}
}

func TestSimulateStopsOnRejection(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"message":"shipment is accepted, not in transit"}`))
	}))
	defer ts.Close()

	opts := simOptions{API: ts.URL, ShipmentID: "s", Token: "t", From: alger, To: blida, Steps: 5, Interval: time.Millisecond}
	err := simulate(context.Background(), ts.Client(), opts, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "not in transit") {
		t.Fatalf("expected rejection message, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected to stop after the first rejection, got %d calls", n)
	}
}

func TestCoordFlagValidates(t *testing.T) {
	cmd := newSimulateCmd()
	if err := cmd.Flags().Set("from", "95,3"); err != nil {
		t.Fatal(err)
	}
	if _, err := coordFlag(cmd, "from"); err == nil {
		t.Fatal("expected out-of-range latitude to fail")
	}
	c, err := coordFlag(cmd, "to")
	if err != nil || c != (models.Coord{Lat: blida.Lat, Lon: blida.Lon}) {
		t.Fatalf("default destination: %+v %v", c, err)
	}
}
