// Package starfile reads the structured tabular text files produced by the
// cryo-EM processing pipelines. A file holds named data blocks; a block
// carries either a loop table or plain key-value pairs. The reader keeps
// every value as a string and converts on access, since column types are not
// declared in the format.
package starfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Table is one loop: named columns over string rows.
type Table struct {
	Columns []string
	Rows    [][]string

	index map[string]int
}

// HasColumn reports whether the table declares the column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.columnIndex(name)
	return ok
}

func (t *Table) columnIndex(name string) (int, bool) {
	if t.index == nil {
		t.index = make(map[string]int, len(t.Columns))
		for i, c := range t.Columns {
			t.index[c] = i
		}
	}
	i, ok := t.index[name]
	return i, ok
}

// Get returns the cell at row for the named column, or "" when the column is
// absent.
func (t *Table) Get(row int, column string) string {
	i, ok := t.columnIndex(column)
	if !ok || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][i]
}

// Float converts the cell to a float64, returning 0 for absent or malformed
// values.
func (t *Table) Float(row int, column string) float64 {
	v, _ := strconv.ParseFloat(t.Get(row, column), 64)
	return v
}

// Int converts the cell to an int, returning 0 for absent or malformed
// values.
func (t *Table) Int(row int, column string) int {
	v, _ := strconv.Atoi(t.Get(row, column))
	return v
}

// Block is one data block of a file.
type Block struct {
	Name   string
	Values map[string]string
	Table  *Table
}

// File is a parsed file: blocks in declaration order.
type File struct {
	Blocks []*Block
}

// Block returns the named block. An empty name returns the first block.
func (f *File) Block(name string) (*Block, bool) {
	for _, b := range f.Blocks {
		if name == "" || b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// FirstTable returns the first loop table of the file, or nil when the file
// holds none.
func (f *File) FirstTable() *Table {
	for _, b := range f.Blocks {
		if b.Table != nil {
			return b.Table
		}
	}
	return nil
}

// Table returns the loop table of the named block, or an empty table when
// the block or its loop is absent. Absent artifacts must read as empty, so
// in-progress sessions render gracefully.
func (f *File) Table(name string) *Table {
	if b, ok := f.Block(name); ok && b.Table != nil {
		return b.Table
	}
	return &Table{}
}

// ParseFile parses the file at path.
func ParseFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse reads a file from r.
func Parse(r io.Reader) (*File, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	file := &File{}
	var block *Block
	var table *Table
	inHeader := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			// A blank line ends a loop but not the block.
			if table != nil && !inHeader {
				table = nil
			}
			inHeader = false
		case strings.HasPrefix(line, "data_"):
			block = &Block{Name: strings.TrimPrefix(line, "data_"), Values: map[string]string{}}
			file.Blocks = append(file.Blocks, block)
			table = nil
			inHeader = false
		case line == "loop_":
			if block == nil {
				block = &Block{Values: map[string]string{}}
				file.Blocks = append(file.Blocks, block)
			}
			table = &Table{}
			if block.Table == nil {
				block.Table = table
			}
			inHeader = true
		case strings.HasPrefix(line, "_"):
			name := line
			if i := strings.IndexAny(line, " \t"); i >= 0 {
				name = line[:i]
			}
			if inHeader {
				// Column declarations may carry a position comment (#N).
				table.Columns = append(table.Columns, name)
				continue
			}
			if block == nil {
				block = &Block{Values: map[string]string{}}
				file.Blocks = append(file.Blocks, block)
			}
			value := strings.TrimSpace(strings.TrimPrefix(line, name))
			block.Values[name] = unquote(value)
		default:
			if table == nil {
				continue
			}
			inHeader = false
			fields := strings.Fields(line)
			if len(fields) > 0 {
				table.Rows = append(table.Rows, fields)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return file, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
