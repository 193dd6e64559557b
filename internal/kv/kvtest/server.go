// Package kvtest provides an in-process emulator of the Redis-over-HTTP
// command protocol for tests.
package kvtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

type Server struct {
	*httptest.Server

	Token string

	mu       sync.Mutex
	data     map[string]string
	failNext int
	commands []string
}

func NewServer(token string) *Server {
	s := &Server{Token: token, data: map[string]string{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// FailNext makes the next n requests answer 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *Server) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

func (s *Server) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Server) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Commands returns the command names received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+s.Token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	var args []string
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || len(args) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "ERR malformed command"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := strings.ToUpper(args[0])
	s.commands = append(s.commands, cmd)

	if s.failNext > 0 {
		s.failNext--
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "unavailable"})
		return
	}

	switch {
	case cmd == "PING":
		writeJSON(w, http.StatusOK, map[string]any{"result": "PONG"})
	case cmd == "GET" && len(args) == 2:
		v, ok := s.data[args[1]]
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"result": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": v})
	case cmd == "SET" && len(args) >= 3:
		s.data[args[1]] = args[2]
		writeJSON(w, http.StatusOK, map[string]any{"result": "OK"})
	case cmd == "DEL" && len(args) >= 2:
		deleted := 0
		for _, k := range args[1:] {
			if _, ok := s.data[k]; ok {
				delete(s.data, k)
				deleted++
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": deleted})
	case cmd == "EVAL" && len(args) == 7:
		// EVAL script 1 key expectExists old next
		key, expectExists, old, next := args[3], args[4], args[5], args[6]
		current, exists := s.data[key]
		if (expectExists == "0" && exists) || (expectExists == "1" && (!exists || current != old)) {
			writeJSON(w, http.StatusOK, map[string]any{"result": 0})
			return
		}
		s.data[key] = next
		writeJSON(w, http.StatusOK, map[string]any{"result": 1})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "ERR unknown command '" + cmd + "'"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
