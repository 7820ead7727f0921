// Package board defines chess square addressing and the 8x8 symbol matrix
// that sits between the image side and the FEN text side.
package board

import (
	"fmt"
	"strings"
)

// Size is the number of files and ranks on the board.
const Size = 8

// Symbol is one board cell: a FEN piece letter or Empty.
type Symbol byte

const (
	Empty Symbol = 0

	WhiteKing   Symbol = 'K'
	WhiteQueen  Symbol = 'Q'
	WhiteRook   Symbol = 'R'
	WhiteBishop Symbol = 'B'
	WhiteKnight Symbol = 'N'
	WhitePawn   Symbol = 'P'

	BlackKing   Symbol = 'k'
	BlackQueen  Symbol = 'q'
	BlackRook   Symbol = 'r'
	BlackBishop Symbol = 'b'
	BlackKnight Symbol = 'n'
	BlackPawn   Symbol = 'p'
)

// AllSymbols lists the 13 symbols in class-index order. Learned classifiers
// emit one probability per entry in this order.
var AllSymbols = [13]Symbol{
	Empty,
	WhiteKing, WhiteQueen, WhiteRook, WhiteBishop, WhiteKnight, WhitePawn,
	BlackKing, BlackQueen, BlackRook, BlackBishop, BlackKnight, BlackPawn,
}

// SymbolFromFEN maps a FEN piece letter to its Symbol. Digits and any other
// character outside the 12 piece letters are rejected.
func SymbolFromFEN(c byte) (Symbol, bool) {
	switch Symbol(c) {
	case WhiteKing, WhiteQueen, WhiteRook, WhiteBishop, WhiteKnight, WhitePawn,
		BlackKing, BlackQueen, BlackRook, BlackBishop, BlackKnight, BlackPawn:
		return Symbol(c), true
	}
	return Empty, false
}

// FENChar returns the FEN letter of s. Empty has no letter.
func (s Symbol) FENChar() (byte, bool) {
	if s == Empty {
		return 0, false
	}
	return byte(s), true
}

// IsWhite reports whether s is a white piece.
func (s Symbol) IsWhite() bool { return s >= 'A' && s <= 'Z' }

// IsBlack reports whether s is a black piece.
func (s Symbol) IsBlack() bool { return s >= 'a' && s <= 'z' }

// String returns the FEN letter, or "empty".
func (s Symbol) String() string {
	if s == Empty {
		return "empty"
	}
	return string(rune(s))
}

// ClassIndex returns the position of s in AllSymbols, or -1.
func (s Symbol) ClassIndex() int {
	for i, v := range AllSymbols {
		if v == s {
			return i
		}
	}
	return -1
}

// Square addresses one board square in chess terms.
type Square struct {
	File byte // 'a'..'h'
	Rank int  // 1..8
}

// ParseSquare parses algebraic notation such as "e4".
func ParseSquare(s string) (Square, error) {
	if len(s) != 2 {
		return Square{}, fmt.Errorf("invalid square %q", s)
	}
	sq := Square{File: s[0], Rank: int(s[1] - '0')}
	if !sq.Valid() {
		return Square{}, fmt.Errorf("invalid square %q", s)
	}
	return sq, nil
}

// Valid reports whether the square lies on the board.
func (sq Square) Valid() bool {
	return sq.File >= 'a' && sq.File <= 'h' && sq.Rank >= 1 && sq.Rank <= 8
}

// Row is the matrix row of the square: rank 8 is row 0.
func (sq Square) Row() int { return Size - sq.Rank }

// Col is the matrix column of the square: file a is column 0.
func (sq Square) Col() int { return int(sq.File - 'a') }

// String returns algebraic notation (e.g., "e4")
func (sq Square) String() string {
	return fmt.Sprintf("%c%d", sq.File, sq.Rank)
}

// SquareAt is the inverse of Row/Col.
func SquareAt(row, col int) Square {
	return Square{File: byte('a' + col), Rank: Size - row}
}

// Squares returns all 64 squares in traversal order: rank 8 down to rank 1,
// file a through h within each rank. This is top-left to bottom-right of a
// canonical raster with rank 8 on the top row.
func Squares() []Square {
	out := make([]Square, 0, Size*Size)
	for rank := Size; rank >= 1; rank-- {
		for f := 0; f < Size; f++ {
			out = append(out, Square{File: byte('a' + f), Rank: rank})
		}
	}
	return out
}

// Matrix is the 8x8 board indexed [rankOffsetFromTop][fileIndex]. The zero
// value is an empty board.
type Matrix [Size][Size]Symbol

// At returns the symbol on sq.
func (m *Matrix) At(sq Square) Symbol {
	return m[sq.Row()][sq.Col()]
}

// Set places s on sq.
func (m *Matrix) Set(sq Square, s Symbol) {
	m[sq.Row()][sq.Col()] = s
}

// Rows returns the matrix as a slice of rows, top rank first.
func (m *Matrix) Rows() [][]Symbol {
	rows := make([][]Symbol, Size)
	for r := range m {
		rows[r] = append([]Symbol(nil), m[r][:]...)
	}
	return rows
}

// Count returns the number of non-empty squares.
func (m *Matrix) Count() (white, black int) {
	for r := range m {
		for _, s := range m[r] {
			switch {
			case s.IsWhite():
				white++
			case s.IsBlack():
				black++
			}
		}
	}
	return white, black
}

// Render returns a human-readable diagram of the board, rank 8 on top.
func (m *Matrix) Render() string {
	var b strings.Builder
	b.WriteString("  a b c d e f g h\n")
	for r := 0; r < Size; r++ {
		rank := Size - r
		fmt.Fprintf(&b, "%d ", rank)
		for c := 0; c < Size; c++ {
			if ch, ok := m[r][c].FENChar(); ok {
				b.WriteByte(ch)
			} else {
				b.WriteByte('.')
			}
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d\n", rank)
	}
	b.WriteString("  a b c d e f g h\n")
	return b.String()
}
