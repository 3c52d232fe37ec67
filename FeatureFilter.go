package Gozonal

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// FeatureFilter 基于表达式的要素过滤器
type FeatureFilter struct {
	program *vm.Program
}

// NewFeatureFilter 编译过滤表达式，表达式以要素属性为变量，结果必须为布尔值
func NewFeatureFilter(expression string) (*FeatureFilter, error) {
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("编译过滤表达式失败: %v", err)
	}
	return &FeatureFilter{program: program}, nil
}

// Match 对单个要素求值，求值出错或结果非布尔时按不匹配处理
func (f *FeatureFilter) Match(feature *Feature) bool {
	env := feature.Properties
	if env == nil {
		env = map[string]interface{}{}
	}
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// FilterFeatures 按表达式过滤要素切片，保持原有顺序
func FilterFeatures(features []*Feature, expression string) ([]*Feature, error) {
	filter, err := NewFeatureFilter(expression)
	if err != nil {
		return nil, err
	}
	out := make([]*Feature, 0, len(features))
	for _, f := range features {
		if filter.Match(f) {
			out = append(out, f)
		}
	}
	return out, nil
}
