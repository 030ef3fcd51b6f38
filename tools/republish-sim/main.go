// republish-sim is a local stand-in for the republish action endpoint.
// It accepts per-brand POSTs, optionally verifies the HMAC signature, and
// replies with a vehicle count. Useful for exercising the service end to end
// without touching the real listing site.
//
//	SECRET=dev-secret DELAY=2s FAIL_EVERY=5 go run ./tools/republish-sim
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type republishRequest struct {
	BrandID   string `json:"brand_id"`
	BrandName string `json:"brand_name"`
}

type seen struct {
	Timestamp string `json:"timestamp"`
	BrandID   string `json:"brand_id"`
	BrandName string `json:"brand_name"`
	Vehicles  int    `json:"vehicles_count"`
	Failed    bool   `json:"failed,omitempty"`
}

type stats struct {
	Count    int64  `json:"count"`
	LastRuns []seen `json:"last_runs"`
	Since    string `json:"since"`
}

var (
	mu        sync.Mutex
	count     int64
	lastRuns  []seen
	since     time.Time
	maxStored = 50

	secret    string
	delay     time.Duration
	failEvery int
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("SECRET")

	addr := ":9000"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	if v := os.Getenv("DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid DELAY %q: %v", v, err)
		}
		delay = d
	}
	if v := os.Getenv("FAIL_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			log.Fatalf("invalid FAIL_EVERY %q", v)
		}
		failEvery = n
	}

	http.HandleFunc("/republish", republishHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastRuns = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("republish-sim listening on %s (signing=%v, delay=%s, fail_every=%d)",
		addr, secret != "", delay, failEvery)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func republishHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if secret != "" && !verifySignature(body, r.Header.Get("X-Republisher-Signature")) {
		log.Printf("rejected request with bad signature from %s", r.RemoteAddr)
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	var req republishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	mu.Lock()
	count++
	current := count
	fail := failEvery > 0 && current%int64(failEvery) == 0
	vehicles := 0
	if !fail {
		vehicles = 5 + rand.Intn(55)
	}
	lastRuns = append(lastRuns, seen{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		BrandID:   req.BrandID,
		BrandName: req.BrandName,
		Vehicles:  vehicles,
		Failed:    fail,
	})
	if len(lastRuns) > maxStored {
		lastRuns = lastRuns[len(lastRuns)-maxStored:]
	}
	mu.Unlock()

	if fail {
		log.Printf("republish #%d: %s FAILED (forced)", current, req.BrandName)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"vehicles_count":0,"error":"simulated failure"}`)
		return
	}

	log.Printf("republish #%d: %s -> %d vehicles", current, req.BrandName, vehicles)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"vehicles_count":%d}`, vehicles)
}

func verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:    count,
		LastRuns: lastRuns,
		Since:    since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
