package source

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/LdDl/mot-presence/presence"
	"github.com/pkg/errors"
)

// ReadClasses reads class table: one class name per line.
// Empty lines and lines starting with '#' are skipped and do not take an index,
// so class index is the position among the remaining lines.
func ReadClasses(r io.Reader) (presence.ClassTable, error) {
	classes := make(presence.ClassTable, 0, 80)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		classes = append(classes, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "can't read classes")
	}
	if len(classes) == 0 {
		return nil, errors.New("class table is empty")
	}
	return classes, nil
}

// LoadClasses reads class table from file
func LoadClasses(path string) (presence.ClassTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open classes %s", path)
	}
	defer file.Close()
	classes, err := ReadClasses(file)
	return classes, errors.Wrapf(err, "classes %s", path)
}
