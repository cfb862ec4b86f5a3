/*
 * Copyright 2021-2022 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api exposes the runtime metrics and the partition status over HTTP
// served on a named pipe or a TCP socket.
package api

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os/user"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rabbitstack/kguard/pkg/config"
	"github.com/rabbitstack/kguard/pkg/util/version"
	log "github.com/sirupsen/logrus"
)

const pipePrefix = `npipe:///`

// StatusFunc produces the document served by the status endpoint.
type StatusFunc func() any

// Server is the API HTTP server.
type Server struct {
	l   net.Listener
	srv *http.Server
}

// StartServer starts the HTTP server with the specified configuration.
func StartServer(c config.APIConfig, status StatusFunc) (*Server, error) {
	l, err := listen(c.Transport)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/status", statusHandler(status))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/freemem", func(http.ResponseWriter, *http.Request) {
		debug.FreeOSMemory()
	})

	s := &Server{
		l: l,
		srv: &http.Server{
			Handler:      withServerHeader(mux),
			ReadTimeout:  c.Timeout,
			WriteTimeout: c.Timeout,
		},
	}
	go func() {
		if err := s.srv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Errorf("unable to bind the API server: %v", err)
		}
	}()
	log.Infof("API server listening on %s", c.Transport)

	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s.l.Addr().Network() == "tcp" {
		return s.l.Addr().String()
	}
	return pipePrefix + strings.TrimPrefix(s.l.Addr().String(), `\\.\pipe\`)
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func listen(transport string) (net.Listener, error) {
	if !strings.HasPrefix(transport, pipePrefix) {
		return net.Listen("tcp", transport)
	}
	usr, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve the current user: %v", err)
	}
	// grant generic access to the current user only
	descriptor := "D:P(A;;GA;;;" + usr.Uid + ")"
	return makePipeListener(transport, descriptor)
}

func statusHandler(status StatusFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status == nil {
			http.Error(w, "status is not available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			log.Warnf("unable to encode status: %v", err)
		}
	})
}

func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.ProductToken())
		h.ServeHTTP(w, r)
	})
}

// transformPipePath takes an input type name defined as a URI like `npipe:///hello` and transform it into
// `\\.\pipe\hello`.
func transformPipePath(name string) string {
	if strings.HasPrefix(name, pipePrefix) {
		return `\\.\pipe\` + strings.TrimPrefix(name, pipePrefix)
	}
	return name
}
