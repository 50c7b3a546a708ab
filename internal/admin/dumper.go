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
	"sort"
	"time"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/chain"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/definition"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/kernel"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/registry"
)

// DumpConfig dumps the registered policies and the deployed APIs
func DumpConfig(k *kernel.Kernel, reg *registry.PolicyRegistry) *ConfigDumpResponse {
	return &ConfigDumpResponse{
		Timestamp:      time.Now(),
		PolicyRegistry: dumpPolicyRegistry(reg),
		APIs:           dumpAPIs(k),
	}
}

func dumpPolicyRegistry(reg *registry.PolicyRegistry) PolicyRegistryDump {
	policies := reg.DumpPolicies()

	infos := make([]PolicyInfo, 0, len(policies))
	for _, def := range policies {
		infos = append(infos, PolicyInfo{
			Name:        def.Name,
			Version:     def.Version,
			Description: def.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Version < infos[j].Version
	})

	return PolicyRegistryDump{
		TotalPolicies: len(infos),
		Policies:      infos,
	}
}

func dumpAPIs(k *kernel.Kernel) APIsDump {
	reactors := k.Reactors()

	apis := make([]APIDump, 0, len(reactors))
	for _, r := range reactors {
		api := r.API()
		d := APIDump{
			ID:            api.ID,
			Name:          api.Name,
			Version:       api.Version,
			ContextPath:   api.ContextPath,
			Upstream:      api.Upstream,
			ExecutionMode: string(api.ExecutionMode),
			FlowMode:      string(api.FlowMode),
			DeployedAt:    r.DeployedAt(),
			Security:      dumpSteps(api.Security),
			Flows:         dumpFlows(api.Flows),
			Paths:         dumpPaths(api.Paths),
			ChainCache:    dumpCache(r.Factory().Cache()),
		}
		for _, plan := range api.Plans {
			d.Plans = append(d.Plans, PlanDump{
				ID:       plan.ID,
				Name:     plan.Name,
				Security: plan.Security,
				Flows:    dumpFlows(plan.Flows),
				Paths:    dumpPaths(plan.Paths),
			})
		}
		if rc := r.RuleCache(); rc != nil {
			rules := dumpCache(rc)
			d.RuleCache = &rules
		}
		apis = append(apis, d)
	}

	return APIsDump{
		TotalAPIs: len(apis),
		APIs:      apis,
	}
}

func dumpFlows(flows []definition.Flow) []FlowDump {
	if len(flows) == 0 {
		return nil
	}
	out := make([]FlowDump, 0, len(flows))
	for i := range flows {
		f := &flows[i]
		out = append(out, FlowDump{
			Name:         f.NormalizedName(),
			Hash:         f.HashKey(),
			Enabled:      f.Enabled,
			Path:         f.Selector.Path,
			PathOperator: string(f.Selector.PathOperator),
			Methods:      f.Selector.Methods,
			Condition:    f.Selector.Condition,
			Request:      dumpSteps(f.Request),
			Response:     dumpSteps(f.Response),
		})
	}
	return out
}

func dumpSteps(steps []definition.Step) []StepDump {
	if len(steps) == 0 {
		return nil
	}
	out := make([]StepDump, 0, len(steps))
	for _, s := range steps {
		out = append(out, StepDump{Policy: s.PolicyID, Condition: s.Condition, Enabled: s.Enabled})
	}
	return out
}

func dumpPaths(paths map[string][]definition.Rule) map[string][]RuleDump {
	if len(paths) == 0 {
		return nil
	}
	out := make(map[string][]RuleDump, len(paths))
	for path, rules := range paths {
		dumped := make([]RuleDump, 0, len(rules))
		for _, rule := range rules {
			dumped = append(dumped, RuleDump{Policy: rule.PolicyID, Methods: rule.Methods, Enabled: rule.Enabled})
		}
		out[path] = dumped
	}
	return out
}

func dumpCache(c *chain.Cache) ChainCacheDump {
	keys := c.Keys()
	sort.Strings(keys)
	return ChainCacheDump{CacheStats: c.Stats(), Keys: keys}
}
