package urdriver

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Recipe is the ordered list of telemetry variables in one direction.
type Recipe []string

// LoadRecipe reads a recipe file with one variable name per line.
func LoadRecipe(path string) (Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipe: %w", err)
	}
	defer f.Close()

	var r Recipe
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("recipe %s: duplicate variable %q", path, name)
		}
		seen[name] = true
		r = append(r, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read recipe %s: %w", path, err)
	}
	if len(r) == 0 {
		return nil, fmt.Errorf("recipe %s has no variables", path)
	}
	return r, nil
}
