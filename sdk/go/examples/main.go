package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"R0-Agent/sdk/go/r0"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/turns", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(r0.Turn{
				ID:     "turn-demo",
				Status: "pending",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/turns/turn-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(r0.Turn{
			ID:     "turn-demo",
			Status: "succeeded",
			Result: &r0.ExecutionResult{
				Thought:    "BTC 短线动量转强",
				Reply:      "已按市价买入 0.01 BTC",
				Iterations: 2,
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := r0.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAPIKey("demo-key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.SubmitTurn(ctx, r0.TurnSubmission{
		SessionID: "demo",
		Prompt:    "分析 BTC/USD 行情并给出操作",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted turn %s (status=%s)\n", created.ID, created.Status)

	final, err := client.WaitForTurn(ctx, created.ID, 200*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("turn %s finished: %s\n", final.ID, final.Result.Reply)
}
