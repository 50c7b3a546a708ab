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

package cel

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// evalCtxPool reuses activation maps between evaluations
var evalCtxPool = sync.Pool{
	New: func() any {
		return make(map[string]any, 4)
	},
}

// CELEvaluator evaluates guard expressions against an ExecutionContext.
//
// Available variables:
//   - phase: "request" or "response"
//   - request: {id, method, path, host, scheme, headers} with lower-cased header names
//   - response: {status, headers}
//   - attributes: request attributes set by earlier policies (e.g. attributes.plan)
type CELEvaluator interface {
	// Evaluate returns true if the condition passes
	Evaluate(expression string, phase policy.Phase, execCtx *policy.ExecutionContext) (bool, error)

	// Compile checks an expression without evaluating it
	Compile(expression string) error
}

type celEvaluator struct {
	mu sync.RWMutex

	// Key: expression string, Value: compiled cel.Program
	programCache map[string]cel.Program

	env *cel.Env
}

// NewCELEvaluator creates a new CEL evaluator with program caching
func NewCELEvaluator() (CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("phase", cel.StringType),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("response", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &celEvaluator{
		programCache: make(map[string]cel.Program),
		env:          env,
	}, nil
}

// Evaluate evaluates a boolean CEL expression against the execution context
func (e *celEvaluator) Evaluate(expression string, phase policy.Phase, execCtx *policy.ExecutionContext) (bool, error) {
	program, err := e.getOrCompileProgram(expression)
	if err != nil {
		return false, fmt.Errorf("failed to compile CEL expression: %w", err)
	}

	evalCtx := evalCtxPool.Get().(map[string]any)
	evalCtx["phase"] = phase.Lower()
	evalCtx["request"] = requestVars(execCtx.Request)
	evalCtx["response"] = responseVars(execCtx.Response)
	evalCtx["attributes"] = execCtx.Attributes()

	result, _, err := program.Eval(evalCtx)

	for k := range evalCtx {
		delete(evalCtx, k)
	}
	evalCtxPool.Put(evalCtx)

	if err != nil {
		return false, fmt.Errorf("CEL evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression must return boolean, got %T", result.Value())
	}
	return boolResult, nil
}

// Compile compiles and caches an expression
func (e *celEvaluator) Compile(expression string) error {
	_, err := e.getOrCompileProgram(expression)
	return err
}

func (e *celEvaluator) getOrCompileProgram(expression string) (cel.Program, error) {
	e.mu.RLock()
	if program, ok := e.programCache[expression]; ok {
		e.mu.RUnlock()
		return program, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.programCache[expression]; ok {
		return program, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation failed: %w", issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed: %w", err)
	}

	e.programCache[expression] = program
	return program, nil
}

func requestVars(req *policy.Request) map[string]any {
	if req == nil {
		return map[string]any{}
	}
	return map[string]any{
		"id":      req.ID,
		"method":  req.Method,
		"path":    req.Path,
		"host":    req.Host,
		"scheme":  req.Scheme,
		"headers": flattenHeaders(req.Headers),
	}
}

func responseVars(resp *policy.Response) map[string]any {
	if resp == nil {
		return map[string]any{"status": 0, "headers": map[string]string{}}
	}
	return map[string]any{
		"status":  resp.Status,
		"headers": flattenHeaders(resp.Headers),
	}
}

// flattenHeaders lower-cases names and joins repeated values with ","
func flattenHeaders(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ",")
	}
	return out
}
