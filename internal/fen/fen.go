// Package fen converts between the 8x8 board matrix and Forsyth-Edwards
// Notation text.
package fen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/thyrook/fenvision/internal/board"
)

// StartPosition is the standard initial position.
const StartPosition = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Metadata holds the five FEN fields that follow the board field.
type Metadata struct {
	SideToMove byte   // 'w' or 'b'; not validated
	Castling   string // "KQkq", "-", ...
	EnPassant  string // "e3" or "-"
	Halfmove   int
	Fullmove   int
}

// DefaultMetadata returns "w - - 0 1".
func DefaultMetadata() Metadata {
	return Metadata{
		SideToMove: 'w',
		Castling:   "-",
		EnPassant:  "-",
		Halfmove:   0,
		Fullmove:   1,
	}
}

// Record is the structured form of a complete FEN string.
type Record struct {
	Board board.Matrix
	Metadata
}

// String returns the 6-field FEN text.
func (r Record) String() string {
	return Encode(r)
}

// ShapeError reports a board that is not 8x8.
type ShapeError struct {
	Rows int
	Row  int // index of the offending row, -1 when the row count is wrong
	Cols int
}

func (e *ShapeError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("board must be 8x8: got %d rows", e.Rows)
	}
	return fmt.Sprintf("board must be 8x8: row %d has %d squares", e.Row, e.Cols)
}

// FormatError reports malformed FEN text.
type FormatError struct {
	Field string
	Msg   string
}

func (e *FormatError) Error() string {
	if e.Field == "" {
		return "fen: " + e.Msg
	}
	return fmt.Sprintf("fen %s: %s", e.Field, e.Msg)
}

func formatErr(field, format string, args ...any) error {
	return &FormatError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Encode returns the FEN text for r.
func Encode(r Record) string {
	return fmt.Sprintf("%s %c %s %s %d %d",
		EncodeBoard(r.Board),
		r.SideToMove,
		r.Castling,
		r.EnPassant,
		r.Halfmove,
		r.Fullmove,
	)
}

// EncodeBoard returns the run-length board field, rank 8 first.
func EncodeBoard(m board.Matrix) string {
	ranks := make([]string, board.Size)
	for r := range m {
		ranks[r] = encodeRank(m[r][:])
	}
	return strings.Join(ranks, "/")
}

func encodeRank(row []board.Symbol) string {
	var b strings.Builder
	empty := 0
	for _, s := range row {
		ch, ok := s.FENChar()
		if !ok {
			empty++
			continue
		}
		if empty > 0 {
			b.WriteString(strconv.Itoa(empty))
			empty = 0
		}
		b.WriteByte(ch)
	}
	if empty > 0 {
		b.WriteString(strconv.Itoa(empty))
	}
	return b.String()
}

// Build encodes a dynamically shaped board. rows must be 8 rows of 8
// symbols, rank 8 first.
func Build(rows [][]board.Symbol, meta Metadata) (string, error) {
	m, err := MatrixFromRows(rows)
	if err != nil {
		return "", err
	}
	return Encode(Record{Board: m, Metadata: meta}), nil
}

// MatrixFromRows copies rows into a Matrix, failing with *ShapeError when
// the input is not 8x8.
func MatrixFromRows(rows [][]board.Symbol) (board.Matrix, error) {
	var m board.Matrix
	if len(rows) != board.Size {
		return m, &ShapeError{Rows: len(rows), Row: -1}
	}
	for r, row := range rows {
		if len(row) != board.Size {
			return m, &ShapeError{Rows: len(rows), Row: r, Cols: len(row)}
		}
		copy(m[r][:], row)
	}
	return m, nil
}

// Parse decodes FEN text into a Record.
//
// The board field must hold 8 ranks of exactly 8 squares each, and every
// character must be a run length 1-8 or one of the 12 piece letters. Side to move is
// the first character of field 2; castling and en passant are taken
// verbatim. Both counters must be plain decimal digits, fullmove at least 1.
func Parse(text string) (Record, error) {
	var rec Record

	parts := strings.Split(strings.TrimSpace(text), " ")
	if len(parts) != 6 {
		return rec, formatErr("", "FEN must have 6 space-separated fields, got %d", len(parts))
	}

	m, err := ParseBoard(parts[0])
	if err != nil {
		return Record{}, err
	}
	rec.Board = m

	if parts[1] == "" {
		return Record{}, formatErr("side to move", "empty field")
	}
	rec.SideToMove = parts[1][0]
	rec.Castling = parts[2]
	rec.EnPassant = parts[3]

	rec.Halfmove, err = parseCounter(parts[4])
	if err != nil {
		return Record{}, formatErr("halfmove clock", "not a number: %q", parts[4])
	}

	rec.Fullmove, err = parseCounter(parts[5])
	if err != nil {
		return Record{}, formatErr("fullmove number", "not a number: %q", parts[5])
	}
	if rec.Fullmove < 1 {
		return Record{}, formatErr("fullmove number", "must be >= 1, got %d", rec.Fullmove)
	}

	return rec, nil
}

// parseCounter accepts plain decimal digits only, so the counter re-encodes
// to the same text.
func parseCounter(s string) (int, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

// ParseBoard decodes only the board field of a FEN string.
func ParseBoard(field string) (board.Matrix, error) {
	var m board.Matrix

	ranks := strings.Split(field, "/")
	if len(ranks) != board.Size {
		return m, formatErr("board", "board must have 8 ranks, got %d", len(ranks))
	}

	for r, rank := range ranks {
		n := 0
		for i := 0; i < len(rank); i++ {
			c := rank[i]
			if c >= '1' && c <= '8' {
				// Empties are already zero; only the count moves.
				n += int(c - '0')
				continue
			}
			s, ok := board.SymbolFromFEN(c)
			if !ok {
				return board.Matrix{}, formatErr("board", "invalid piece symbol %q in rank %q", c, rank)
			}
			if n < board.Size {
				m[r][n] = s
			}
			n++
		}
		if n != board.Size {
			return board.Matrix{}, formatErr("board", "rank must have 8 squares, got %d in %q", n, rank)
		}
	}

	return m, nil
}
