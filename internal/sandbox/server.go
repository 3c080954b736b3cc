package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/franz/gigbase-loader/internal/util"
)

const defaultKeyHeader = "x-hasura-access-key"

// Options configures a sandbox server
type Options struct {
	// Variant is "simple" or "tagged"
	Variant string

	// AccessKey, when set, must be sent in KeyHeader
	AccessKey string
	KeyHeader string
}

// Request is one GraphQL request the sandbox received
type Request struct {
	OperationName string
	Query         string
	Variables     map[string]interface{}
}

type failure struct {
	match  func(Request) bool
	status int
	body   string
}

// Server answers GraphQL over HTTP from an in-memory store
type Server struct {
	opts   Options
	schema graphql.Schema
	store  *store

	mu       sync.Mutex
	requests []Request
	failures []failure
}

type requestBody struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

// New builds an empty sandbox for the configured variant
func New(opts Options) (*Server, error) {
	if opts.Variant == "" {
		opts.Variant = "simple"
	}
	if opts.KeyHeader == "" {
		opts.KeyHeader = defaultKeyHeader
	}

	tables, err := Layout(opts.Variant)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrUnsupported, err)
	}

	st := newStore(tables)
	schema, err := buildSchema(tables, st)
	if err != nil {
		return nil, fmt.Errorf("failed to build sandbox schema: %w", err)
	}

	return &Server{opts: opts, schema: schema, store: st}, nil
}

// Variant returns the schema variant being served
func (s *Server) Variant() string {
	return s.opts.Variant
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.opts.AccessKey != "" && r.Header.Get(s.opts.KeyHeader) != s.opts.AccessKey {
		writeErrors(w, http.StatusOK, "access-denied", fmt.Sprintf("invalid %s", s.opts.KeyHeader))
		return
	}

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrors(w, http.StatusBadRequest, "invalid-json", err.Error())
		return
	}

	req := Request{OperationName: body.OperationName, Query: body.Query, Variables: body.Variables}
	if f, ok := s.record(req); ok {
		util.DebugLog("sandbox: injected failure for %s", req.OperationName)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		w.Write([]byte(f.body))
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  body.Query,
		VariableValues: body.Variables,
		OperationName:  body.OperationName,
		Context:        r.Context(),
	})
	if result.HasErrors() {
		util.DebugLog("sandbox: %s failed: %v", req.OperationName, result.Errors)
	} else {
		util.DebugLog("sandbox: %s ok", req.OperationName)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		util.WarnLog("sandbox: failed to write response: %v", err)
	}
}

// record stores req and returns the first matching injected failure
func (s *Server) record(req Request) (failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	for _, f := range s.failures {
		if f.match(req) {
			return f, true
		}
	}
	return failure{}, false
}

// FailWhen makes every request matching match answer with status and body
// instead of executing
func (s *Server) FailWhen(match func(Request) bool, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{match: match, status: status, body: body})
}

// Requests returns every request received so far, in arrival order
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Operations returns the operation names received so far
func (s *Server) Operations() []string {
	reqs := s.Requests()
	ops := make([]string, len(reqs))
	for i, r := range reqs {
		ops[i] = r.OperationName
	}
	return ops
}

// Count returns the number of rows in table
func (s *Server) Count(table string) int {
	return s.store.count(table)
}

// Rows returns a copy of table's rows in insertion order
func (s *Server) Rows(table string) []map[string]interface{} {
	return s.store.dump(table)
}

// Reset clears every table, the request log, and injected failures
func (s *Server) Reset() {
	s.store.reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
	s.failures = nil
}

// Listener serves the sandbox on a TCP address
type Listener struct {
	URL string

	srv  *http.Server
	done chan error
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in
// the background
func (s *Server) Start(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/graphql", s)
	mux.Handle("/v1alpha1/graphql", s)

	l := &Listener{
		URL:  fmt.Sprintf("http://%s/v1/graphql", ln.Addr().String()),
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		done: make(chan error, 1),
	}

	go func() {
		err := l.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		l.done <- err
	}()

	util.DebugLog("sandbox (%s) listening on %s", s.opts.Variant, l.URL)
	return l, nil
}

// Shutdown stops the listener and waits for in-flight requests
func (l *Listener) Shutdown(ctx context.Context) error {
	if err := l.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-l.done
}

// Wait blocks until the listener stops or ctx is done, then shuts it down
func (l *Listener) Wait(ctx context.Context) error {
	select {
	case err := <-l.done:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return l.Shutdown(shutdownCtx)
	}
}

func writeErrors(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": []map[string]interface{}{{
			"message":    message,
			"extensions": map[string]interface{}{"code": code, "path": "$"},
		}},
	})
}
