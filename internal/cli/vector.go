package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/sparsego"
)

// ParseVector parses a JSON object of dimension → weight pairs.
func ParseVector(s string) (sparsego.SparseVector, error) {
	var m map[uint32]float32
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return sparsego.SparseVector{}, fmt.Errorf("parse vector: %w", err)
	}
	return sparsego.NewSparseVector(m)
}

// readVectors calls fn for every non-empty line of r.
func readVectors(r io.Reader, fn func(line int, v sparsego.SparseVector) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := ParseVector(text)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(line, v); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}
