package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type jobsFile struct {
	Jobs []Job `yaml:"jobs" validate:"required,min=1,dive"`
}

// LoadJobs reads a YAML jobs file:
//
//	jobs:
//	  - name: requests
//	    old: {release: {project: requests, version: "2.30.0"}, root: ./old}
//	    new: {release: {project: requests, version: "2.31.0"}, root: ./new}
//
// Relative roots are resolved against the file's directory.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}
	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing jobs file %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("invalid jobs file %s: %s", path, verrs[0].Namespace()+" failed "+verrs[0].Tag())
		}
		return nil, fmt.Errorf("invalid jobs file %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range f.Jobs {
		for _, in := range []*string{&f.Jobs[i].Old.Root, &f.Jobs[i].New.Root} {
			if !filepath.IsAbs(*in) {
				*in = filepath.Join(dir, *in)
			}
		}
	}
	return f.Jobs, nil
}
