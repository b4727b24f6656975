/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
)

/*
Filter decides which measurements are too broken to be stored.
Expression is evaluated with govaluate, see https://github.com/Knetic/govaluate/blob/master/MANUAL.md

Supported variables, all in seconds:
  - offset
  - delay

Supported functions:
  - abs(value)

Expression must evaluate to bool, true means the measurement is excluded.
*/
type Filter struct {
	expr *govaluate.EvaluableExpression
}

var filterVars = map[string]bool{
	"offset": true,
	"delay":  true,
}

var functions = map[string]govaluate.ExpressionFunction{
	"abs": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs: wrong number of arguments: want 1, got %d", len(args))
		}
		val, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("abs: want number, got %T", args[0])
		}
		return math.Abs(val), nil
	},
}

// NewFilter parses the expression and makes sure it yields bool
func NewFilter(exprStr string) (*Filter, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, functions)
	if err != nil {
		return nil, err
	}
	for _, v := range expr.Vars() {
		if !filterVars[v] {
			return nil, fmt.Errorf("unsupported variable %q", v)
		}
	}
	f := &Filter{expr: expr}
	if _, err := f.Exclude(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

// Exclude tells if the measurement must not be stored
func (f *Filter) Exclude(offset, delay float64) (bool, error) {
	res, err := f.expr.Evaluate(map[string]interface{}{
		"offset": offset,
		"delay":  delay,
	})
	if err != nil {
		return false, err
	}
	exclude, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q evaluated to %v, want bool", f.expr.String(), res)
	}
	return exclude, nil
}

// String returns the expression
func (f *Filter) String() string {
	return f.expr.String()
}
