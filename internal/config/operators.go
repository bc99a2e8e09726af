package config

import (
	"fmt"
	"os"

	"github.com/iamwavecut/tool"
	"gopkg.in/yaml.v2"
)

type operatorsFile struct {
	Operators []struct {
		ID   int64  `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"operators"`
}

// LoadOperatorsFile reads the privileged operators list:
//
//	operators:
//	  - id: 12345
//	    name: alice
func LoadOperatorsFile(path string) ([]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read operators file: %w", err)
	}
	var f operatorsFile
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, fmt.Errorf("parse operators file: %w", err)
	}
	ids := make([]int64, 0, len(f.Operators))
	for _, op := range f.Operators {
		if op.ID == 0 {
			return nil, fmt.Errorf("operator %q has no id", op.Name)
		}
		ids = append(ids, op.ID)
	}
	return ids, nil
}

func mergeOperators(a, b []int64) []int64 {
	res := make([]int64, 0, len(a)+len(b))
	for _, id := range append(a[:len(a):len(a)], b...) {
		if !tool.In(id, res...) {
			res = append(res, id)
		}
	}
	return res
}
