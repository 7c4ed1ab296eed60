package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadDir builds every .cue file in dir as one package and compiles it.
func LoadDir(dir string) (*Catalog, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("catalog directory: %w", err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("catalog directory: not a directory: %s", dir)}
	}
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("scan catalog directory: %w", err)}
	}
	if len(files) == 0 {
		return nil, []error{fmt.Errorf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances loaded from %s", dir)}
	}
	if err := instances[0].Err; err != nil {
		return nil, []error{cueError("load", err)}
	}

	v := cuecontext.New().BuildInstance(instances[0])
	if err := v.Err(); err != nil {
		return nil, []error{cueError("build", err)}
	}
	return Compile(v)
}

// FindCUEFiles returns the .cue files directly in dir, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.cue"))
}
