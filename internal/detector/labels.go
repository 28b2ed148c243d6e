package detector

import (
	"bufio"
	"os"
	"strings"
)

// defaultLabels matches the class order the bundled traffic-sign model
// was trained with.
var defaultLabels = []string{
	"Speed Limit 50",
	"Speed Limit 100",
	"No Overtaking",
	"Yield",
	"Stop",
	"No Entry",
	"Danger Ahead",
	"Road Work Ahead",
	"Pedestrian Crossing",
	"Children Crossing",
}

func resolveLabels(path string) ([]string, error) {
	if path == "" {
		return defaultLabels, nil
	}
	return loadLabels(path)
}

func loadLabels(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var labels []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	return labels, scanner.Err()
}
