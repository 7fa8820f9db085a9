package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ModelRelay/sdk/go/modelrelay"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat", func(w http.ResponseWriter, r *http.Request) {
		var req modelrelay.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(modelrelay.ChatResult{
			Prompt:       req.Prompt,
			Reply:        "demo reply",
			Model:        "z-ai/glm4.7",
			FinishReason: "stop",
			TotalTokens:  7,
		})
	})
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(modelrelay.Task{ID: "task-demo", Status: "pending"})
	})
	mux.HandleFunc("/api/v1/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(modelrelay.Task{
			ID:     "task-demo",
			Status: "succeeded",
			Result: &modelrelay.ExecutionResult{Reply: "async reply", FinishReason: "stop"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := modelrelay.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Chat(ctx, modelrelay.ChatRequest{Prompt: "hello"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("chat reply: %s (tokens=%d)\n", result.Reply, result.TotalTokens)

	submitted, err := client.SubmitTask(ctx, modelrelay.ChatRequest{Prompt: "long running"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted task %s (status=%s)\n", submitted.ID, submitted.Status)

	done, err := client.WaitForTask(ctx, submitted.ID, 50*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task finished: %s -> %s\n", done.Status, done.Result.Reply)
}
