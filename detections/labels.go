package detections

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// UnknownLabel is reported for class indices outside the label table.
const UnknownLabel = "unknown_trash"

// DefaultLabels is the class order of the bundled waste classifier.
var DefaultLabels = Labels{
	"plastic_bottle",
	"plastic_bag",
	"can",
	"metal_waste",
	"paper",
	"cardboard",
	"glass",
	"organic",
}

// Labels maps class indices to trash labels.
type Labels []string

// Label returns the name for index i, or UnknownLabel.
func (l Labels) Label(i int) string {
	if i < 0 || i >= len(l) {
		return UnknownLabel
	}
	return l[i]
}

// LoadLabels reads one label per line. Blank lines and lines starting with
// '#' are skipped.
func LoadLabels(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("detections: open labels: %w", err)
	}
	defer f.Close()

	var labels Labels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("detections: read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("detections: labels file %s is empty", path)
	}
	return labels, nil
}
