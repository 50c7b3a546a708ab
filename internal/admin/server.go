/*
 * Copyright (c) 2026, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/config"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/kernel"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/registry"
)

// Server is the admin HTTP server
type Server struct {
	cfg        *config.AdminConfig
	httpServer *http.Server
}

// NewServer creates a new admin server
func NewServer(cfg *config.AdminConfig, k *kernel.Kernel, reg *registry.PolicyRegistry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/config_dump", ipAllowListMiddleware(cfg.AllowedIPs, NewConfigDumpHandler(k, reg)))

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: mux,
		},
	}
}

// Start serves until Stop is called
func (s *Server) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "Starting admin HTTP server",
		"port", s.cfg.Port,
		"allowed_ips", s.cfg.AllowedIPs)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the admin HTTP server
func (s *Server) Stop(ctx context.Context) error {
	slog.InfoContext(ctx, "Stopping admin HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// ipAllowListMiddleware rejects requests from clients outside the allowed list
func ipAllowListMiddleware(allowedIPs []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := extractClientIP(r)
		if !isIPAllowed(clientIP, allowedIPs) {
			slog.Warn("Blocked admin request from unauthorized IP",
				"client_ip", clientIP,
				"path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractClientIP uses RemoteAddr only; proxy headers are not trusted for admin endpoints
func extractClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isIPAllowed matches the client IP against exact addresses, CIDR ranges and "*"
func isIPAllowed(clientIP string, allowedIPs []string) bool {
	ip := net.ParseIP(clientIP)
	for _, allowed := range allowedIPs {
		if allowed == "*" || allowed == "0.0.0.0/0" {
			return true
		}
		if clientIP == allowed {
			return true
		}
		if _, network, err := net.ParseCIDR(allowed); err == nil && ip != nil && network.Contains(ip) {
			return true
		}
	}
	return false
}
