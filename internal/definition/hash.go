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

package definition

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// Hash returns a 64-bit structural hash of the flow.
// Two flows with the same content hash to the same value regardless of identity.
func (f *Flow) Hash() uint64 {
	d := xxhash.New()
	h := &hasher{d: d}
	h.str(f.ID)
	h.str(f.Name)
	h.bool(f.Enabled)
	h.str(f.Selector.Path)
	h.str(string(f.Selector.PathOperator))
	h.int(len(f.Selector.Methods))
	for _, m := range f.Selector.Methods {
		h.str(m)
	}
	h.str(f.Selector.Condition)
	h.steps(f.Request)
	h.steps(f.Response)
	return d.Sum64()
}

// HashKey returns Hash formatted as a fixed width hex string
func (f *Flow) HashKey() string {
	s := strconv.FormatUint(f.Hash(), 16)
	if len(s) < 16 {
		s = strings.Repeat("0", 16-len(s)) + s
	}
	return s
}

// NormalizedName returns the lower-cased flow name, or when the flow has no
// name a name synthesized from its selector: "<methods|ALL>-<path>"
func (f *Flow) NormalizedName() string {
	if f.Name != "" {
		return strings.ToLower(f.Name)
	}
	methods := "ALL"
	if len(f.Selector.Methods) > 0 {
		methods = strings.Join(f.Selector.Methods, "-")
	}
	return strings.ToLower(methods + "-" + f.Selector.Path)
}

// StepsFor returns the steps declared for the phase. Any other phase has no steps.
func (f *Flow) StepsFor(phase policy.Phase) []Step {
	switch phase {
	case policy.PhaseRequest:
		return f.Request
	case policy.PhaseResponse:
		return f.Response
	default:
		return nil
	}
}

type hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

// str writes a length-prefixed string so that field boundaries are unambiguous
func (h *hasher) str(s string) {
	h.int(len(s))
	_, _ = h.d.WriteString(s)
}

func (h *hasher) int(n int) {
	binary.LittleEndian.PutUint64(h.buf[:], uint64(n))
	_, _ = h.d.Write(h.buf[:])
}

func (h *hasher) bool(b bool) {
	if b {
		h.int(1)
		return
	}
	h.int(0)
}

func (h *hasher) steps(steps []Step) {
	h.int(len(steps))
	for _, s := range steps {
		h.str(s.Name)
		h.str(s.Description)
		h.str(s.PolicyID)
		h.str(s.Configuration)
		h.str(s.Condition)
		h.bool(s.Enabled)
	}
}
