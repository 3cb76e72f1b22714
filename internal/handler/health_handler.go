package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Health は死活監視用のエンドポイント。依存先には触れない。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
