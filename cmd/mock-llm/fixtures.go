package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultModel answers any model without fixtures of its own.
const defaultModel = "default"

// fixtureSet maps a model name to the contents served on successive calls.
type fixtureSet map[string][]string

// sequenced matches "<model>.<n>.json".
var sequenced = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads every JSON file under dir, including subdirectories.
// A model's numbered fixtures come first in numeric order, then its base file.
func loadFixtures(dir string) (fixtureSet, error) {
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, "**/*.json")
	if err != nil {
		return nil, err
	}

	type numbered struct {
		n       int
		content string
	}
	base := make(map[string]string)
	steps := make(map[string][]numbered)

	for _, match := range matches {
		data, err := fs.ReadFile(fsys, match)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", match, err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("%s is not valid JSON", match)
		}

		name := path.Base(match)
		if m := sequenced.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[2])
			steps[m[1]] = append(steps[m[1]], numbered{n: n, content: string(data)})
			continue
		}
		base[strings.TrimSuffix(name, ".json")] = string(data)
	}

	set := make(fixtureSet)
	for model, seq := range steps {
		slices.SortFunc(seq, func(a, b numbered) int { return a.n - b.n })
		for _, s := range seq {
			set[model] = append(set[model], s.content)
		}
	}
	for model, content := range base {
		set[model] = append(set[model], content)
	}

	if len(set) == 0 {
		return nil, fmt.Errorf("no fixture files found")
	}
	return set, nil
}

// lookup returns the fixtures for model, falling back to the default model.
func (f fixtureSet) lookup(model string) (string, []string, bool) {
	if seq, ok := f[model]; ok {
		return model, seq, true
	}
	if seq, ok := f[defaultModel]; ok {
		return defaultModel, seq, true
	}
	return "", nil, false
}

func (f fixtureSet) models() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
