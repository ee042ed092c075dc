// Package accesstable reads and writes the semicolon-delimited membership
// export: four member columns followed by one 0/1 column per unit.
package accesstable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
)

const memberColumns = 4

var (
	ErrUnknownUnit = errors.New("unit not in access table")
	ErrMalformed   = errors.New("malformed access table")
)

var header = []string{"member id", "member name", "card number", "card code"}

// Member is one row with a valid card code.
type Member struct {
	ID         string
	Name       string
	CardNumber string
	Card       link.CardID
	// Access is parallel to Table.Units.
	Access []bool
}

type Table struct {
	Units   []string
	Members []Member
}

func ReadFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open access table: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a table. Rows whose card code is not 8 hex digits are skipped.
func Read(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err == io.EOF {
		return Table{}, fmt.Errorf("%w: missing header", ErrMalformed)
	}
	if err != nil {
		return Table{}, fmt.Errorf("read header: %w", err)
	}
	if len(head) < memberColumns {
		return Table{}, fmt.Errorf("%w: header has %d columns", ErrMalformed, len(head))
	}

	t := Table{Units: make([]string, 0, len(head)-memberColumns)}
	for _, name := range head[memberColumns:] {
		t.Units = append(t.Units, strings.TrimSpace(name))
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read line %d: %w", line, err)
		}
		if len(rec) < memberColumns {
			return Table{}, fmt.Errorf("%w: line %d has %d columns", ErrMalformed, line, len(rec))
		}

		card, err := link.ParseCardID(rec[3])
		if err != nil {
			continue
		}
		if len(rec) != len(head) {
			return Table{}, fmt.Errorf("%w: line %d has %d columns, header has %d", ErrMalformed, line, len(rec), len(head))
		}

		m := Member{
			ID:         strings.TrimSpace(rec[0]),
			Name:       strings.TrimSpace(rec[1]),
			CardNumber: strings.TrimSpace(rec[2]),
			Card:       card,
			Access:     make([]bool, len(t.Units)),
		}
		for i, v := range rec[memberColumns:] {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return Table{}, fmt.Errorf("%w: line %d unit %q: %v", ErrMalformed, line, t.Units[i], err)
			}
			m.Access[i] = n != 0
		}
		t.Members = append(t.Members, m)
	}
	return t, nil
}

func (t Table) column(unit string) (int, error) {
	for i, name := range t.Units {
		if name == unit {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownUnit, unit)
}

// For returns the entries to push to one unit, in row order.
func (t Table) For(unit string) ([]link.AccessTableEntry, error) {
	col, err := t.column(unit)
	if err != nil {
		return nil, err
	}

	out := make([]link.AccessTableEntry, 0, len(t.Members))
	for _, m := range t.Members {
		out = append(out, link.AccessTableEntry{Card: m.Card, Authorized: m.Access[col]})
	}
	return out, nil
}

// Select returns a copy of the table restricted to the given unit columns,
// in the order given. Member rows are kept as they are.
func (t Table) Select(units ...string) (Table, error) {
	cols := make([]int, len(units))
	for i, u := range units {
		col, err := t.column(u)
		if err != nil {
			return Table{}, err
		}
		cols[i] = col
	}

	out := Table{Units: append([]string(nil), units...), Members: make([]Member, 0, len(t.Members))}
	for _, m := range t.Members {
		access := make([]bool, len(cols))
		for i, col := range cols {
			access[i] = m.Access[col]
		}
		m.Access = access
		out.Members = append(out.Members, m)
	}
	return out, nil
}

func WriteFile(path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create access table: %w", err)
	}
	if err := Write(f, t); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func Write(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	row := append(append([]string(nil), header...), t.Units...)
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, m := range t.Members {
		if len(m.Access) != len(t.Units) {
			return fmt.Errorf("%w: member %s has %d access flags for %d units", ErrMalformed, m.ID, len(m.Access), len(t.Units))
		}
		row = append(row[:0], m.ID, m.Name, m.CardNumber, m.Card.String())
		for _, ok := range m.Access {
			if ok {
				row = append(row, "1")
			} else {
				row = append(row, "0")
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write member %s: %w", m.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
