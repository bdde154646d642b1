// image_loader.go - ASCII-hex image format (spec.md §6): one 32-bit word
// (8 hex digits) per line, loaded consecutively from address 0.
//
// Grounded on original_source/tools/emulator/main.c's load_hex_file: a
// plain line-oriented scanner, tolerant of blank lines, that is the one
// piece of the original host tool spec.md explicitly keeps in scope
// (the loader format itself is out of scope per §1, but reading it is
// still this emulator's job).

package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LoadHexImage parses r's lines as 8-hex-digit words and returns them in
// file order, ready for Processor.LoadImage.
func LoadHexImage(r io.Reader) ([]uint32, error) {
	var words []uint32
	scan := bufio.NewScanner(r)
	line := 0
	for scan.Scan() {
		line++
		text := strings.TrimSpace(scan.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseUint(text, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("image_loader: line %d: %w", line, err)
		}
		words = append(words, uint32(v))
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("image_loader: %w", err)
	}
	return words, nil
}
