package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadEventTypes reads one event type per line. Blank lines and lines
// starting with # are skipped.
func ReadEventTypes(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event types: %w", err)
	}
	defer file.Close()

	var types []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		types = append(types, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event types: %w", err)
	}
	return types, nil
}

// mergeTypes concatenates lists, dropping repeats and keeping first order.
func mergeTypes(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, t := range list {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
