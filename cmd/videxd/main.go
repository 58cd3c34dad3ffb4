// Command videxd runs the virtual storage-engine statistics server.
//
// Usage: videxd [-server_ip 0.0.0.0] [-port 5001] [-debug]
//
// Endpoints:
//
//	POST /create_task_meta                — ingest task metadata
//	POST /ask_videx                       — answer a statistics query
//	GET  /videx/visualization/get_stats    — registry snapshot, for debugging
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"

	"github.com/felmond13/videxd/dispatcher"
	"github.com/felmond13/videxd/estimator"
	"github.com/felmond13/videxd/snapshot"
	"github.com/felmond13/videxd/task"
	"github.com/felmond13/videxd/tasklock"
)

var nonIdentifierRune = regexp.MustCompile(`[^A-Za-z0-9_]`)

// sanitizeIdentifier maps a freeform string (an address:port pair, a
// database name) onto the strict [A-Za-z0-9_]+ identifier snapshot
// filenames require, per the path-validation rule in snapshot.
func sanitizeIdentifier(s string) string {
	return nonIdentifierRune.ReplaceAllString(s, "_")
}

func main() {
	serverIP := flag.String("server_ip", "0.0.0.0", "listen address")
	port := flag.Int("port", 5001, "listen port")
	debug := flag.Bool("debug", false, "log each create_task_meta body and each ask_videx function name")
	maxPayloadBytes := flag.Int64("max_payload_bytes", 64<<20, "maximum accepted (decompressed) request body size")
	snapshotDir := flag.String("snapshot_dir", "", "directory for optional on-disk task metadata snapshots; disabled if empty")
	flag.Parse()

	registry := task.New(tasklock.PolicyWait)
	d := dispatcher.New(registry, estimator.InnoDBLike{IgnoreRangeAfterNeq: true}, 4096)

	var store *snapshot.Store
	if *snapshotDir != "" {
		var err error
		store, err = snapshot.New(*snapshotDir)
		if err != nil {
			log.Fatalf("videxd: cannot open snapshot dir: %v", err)
		}
	}

	serverIPPort := sanitizeIdentifier(fmt.Sprintf("%s_%d", *serverIP, *port))

	mux := http.NewServeMux()
	mux.HandleFunc("/create_task_meta", createTaskMetaHandler(registry, store, serverIPPort, *maxPayloadBytes, *debug))
	mux.HandleFunc("/ask_videx", askVidexHandler(d, *debug))
	mux.HandleFunc("/videx/visualization/get_stats", visualizationHandler(registry))

	addr := fmt.Sprintf("%s:%d", *serverIP, *port)
	handler := corsMiddleware(mux)

	log.Printf("videxd listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, handler))
}

type statusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func createTaskMetaHandler(registry *task.Registry, store *snapshot.Store, serverIPPort string, maxPayloadBytes int64, debug bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, statusResponse{Code: 400, Message: "cannot read body: " + err.Error()})
			return
		}
		if int64(len(raw)) > maxPayloadBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, statusResponse{Code: 413, Message: "request body too large"})
			return
		}
		body, err := task.DecodeGzip(raw, r.Header.Get("Content-Encoding"), maxPayloadBytes)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, statusResponse{Code: 400, Message: err.Error()})
			return
		}
		if debug {
			log.Printf("videxd: create_task_meta body: %s", body)
		}

		if err := registry.AddTaskMeta(r.Context(), body); err != nil {
			writeJSON(w, http.StatusBadRequest, statusResponse{Code: 400, Message: err.Error()})
			return
		}

		if store != nil {
			var p task.Payload
			if err := json.Unmarshal(body, &p); err == nil && p.VidexDB != "" {
				if err := store.Save(serverIPPort, sanitizeIdentifier(p.VidexDB), body); err != nil {
					log.Printf("snapshot: save failed for db %q: %v", p.VidexDB, err)
				}
			}
		}

		writeJSON(w, http.StatusOK, statusResponse{Code: 200})
	}
}

func askVidexHandler(d *dispatcher.Dispatcher, debug bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req dispatcher.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, dispatcher.Response{Code: 400, Message: "invalid JSON: " + err.Error(), Data: map[string]string{}})
			return
		}
		if debug {
			log.Printf("videxd: ask_videx function=%q", req.Properties.Function)
		}
		writeJSON(w, http.StatusOK, d.Dispatch(req))
	}
}

func visualizationHandler(registry *task.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, registry.Snapshot())
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// corsMiddleware mirrors the teacher's development CORS wrapper.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
