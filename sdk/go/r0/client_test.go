package r0

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSubmitTurnSendsAPIKey(t *testing.T) {
	submitted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/turns" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("X-API-Key"); got != "secret" {
			t.Fatalf("expected api key header, got %q", got)
		}
		var body TurnSubmission
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if body.Prompt != "check the market" {
			t.Fatalf("unexpected prompt: %q", body.Prompt)
		}
		submitted = true
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Turn{ID: "turn-1", Status: "pending"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetAPIKey("secret")

	created, err := client.SubmitTurn(context.Background(), TurnSubmission{Prompt: "check the market"})
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	if !submitted {
		t.Fatal("turn was not submitted")
	}
	if created.ID != "turn-1" || created.Status != "pending" {
		t.Fatalf("unexpected turn: %+v", created)
	}
}

func TestGetTurnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "turn not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.GetTurn(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

func TestListTurnsBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("limit") != "5" || query.Get("status") != "succeeded,failed" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Turn{{ID: "t1"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	turns, err := client.ListTurns(context.Background(), ListQuery{
		Limit:    5,
		Statuses: []string{"succeeded", "failed"},
	})
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 1 || turns[0].ID != "t1" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestWaitForTurnPollsUntilTerminal(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := "running"
		if calls >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Turn{ID: "t1", Status: status})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	final, err := client.WaitForTurn(ctx, "t1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for turn: %v", err)
	}
	if final.Status != "succeeded" || calls < 3 {
		t.Fatalf("unexpected final state: %+v (calls=%d)", final, calls)
	}
}
