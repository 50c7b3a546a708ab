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
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/kernel"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/registry"
)

// ConfigDumpHandler handles GET /config_dump requests
type ConfigDumpHandler struct {
	kernel   *kernel.Kernel
	registry *registry.PolicyRegistry
}

// NewConfigDumpHandler creates a new config dump handler
func NewConfigDumpHandler(k *kernel.Kernel, reg *registry.PolicyRegistry) *ConfigDumpHandler {
	return &ConfigDumpHandler{
		kernel:   k,
		registry: reg,
	}
}

func (h *ConfigDumpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dump := DumpConfig(h.kernel, h.registry)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// headers are already out, so an encoding error can only be logged
	if err := json.NewEncoder(w).Encode(dump); err != nil {
		slog.WarnContext(r.Context(), "Failed to encode config dump", "error", err)
	}
}
