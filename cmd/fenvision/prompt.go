package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/thyrook/fenvision/internal/fen"
	"github.com/thyrook/fenvision/internal/geometry"
)

var errAborted = errors.New("aborted")

func translateSurveyErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return errAborted
	}
	return err
}

func validatePoint(ans interface{}) error {
	s, _ := ans.(string)
	_, err := geometry.ParsePoint(s)
	return err
}

func validateNonNegative(ans interface{}) error {
	s, _ := ans.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("enter a whole number >= 0")
	}
	return nil
}

func validatePositive(ans interface{}) error {
	s, _ := ans.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("enter a whole number >= 1")
	}
	return nil
}

// askImagePath prompts for the photo to convert.
func askImagePath(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var out string
	prompt := &survey.Input{
		Message: "Board image:",
		Help:    "PNG, JPEG, GIF, BMP, TIFF or WebP file",
		Suggest: func(toComplete string) []string {
			files, _ := filepath.Glob(toComplete + "*")
			return files
		},
	}
	if err := survey.AskOne(prompt, &out, survey.WithValidator(survey.Required)); err != nil {
		return "", translateSurveyErr(err)
	}
	return out, nil
}

// askCorners prompts for the four board corners in pixel coordinates.
func askCorners(ctx context.Context, width, height int) (geometry.CornerSet, error) {
	defaults := geometry.RectCorners(0, 0, float64(width), float64(height)).Points()
	names := []string{"Top-left", "Top-right", "Bottom-right", "Bottom-left"}

	var pts [4]geometry.Point
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return geometry.CornerSet{}, err
		}
		var out string
		prompt := &survey.Input{
			Message: name + " corner (x,y):",
			Help:    fmt.Sprintf("Pixel position of the outer %s corner of the playing area, as seen in the %dx%d image", name, width, height),
			Default: fmt.Sprintf("%g,%g", defaults[i].X, defaults[i].Y),
		}
		if err := survey.AskOne(prompt, &out, survey.WithValidator(validatePoint)); err != nil {
			return geometry.CornerSet{}, translateSurveyErr(err)
		}
		p, err := geometry.ParsePoint(out)
		if err != nil {
			return geometry.CornerSet{}, err
		}
		pts[i] = p
	}

	return geometry.CornerSet{TopLeft: pts[0], TopRight: pts[1], BottomRight: pts[2], BottomLeft: pts[3]}, nil
}

// askMetadata prompts for the FEN fields the photo cannot show.
func askMetadata(ctx context.Context, meta fen.Metadata) (fen.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return meta, err
	}

	side := "White"
	if meta.SideToMove == 'b' {
		side = "Black"
	}
	answers := struct {
		Side      string `survey:"side"`
		Castling  string `survey:"castling"`
		EnPassant string `survey:"enpassant"`
		Halfmove  string `survey:"halfmove"`
		Fullmove  string `survey:"fullmove"`
	}{}

	questions := []*survey.Question{
		{
			Name:   "side",
			Prompt: &survey.Select{Message: "Side to move:", Options: []string{"White", "Black"}, Default: side},
		},
		{
			Name:   "castling",
			Prompt: &survey.Input{Message: "Castling rights:", Default: meta.Castling, Help: "e.g. KQkq, Kq or -"},
		},
		{
			Name:   "enpassant",
			Prompt: &survey.Input{Message: "En passant target:", Default: meta.EnPassant, Help: "e.g. e3 or -"},
		},
		{
			Name:     "halfmove",
			Prompt:   &survey.Input{Message: "Halfmove clock:", Default: strconv.Itoa(meta.Halfmove)},
			Validate: validateNonNegative,
		},
		{
			Name:     "fullmove",
			Prompt:   &survey.Input{Message: "Fullmove number:", Default: strconv.Itoa(meta.Fullmove)},
			Validate: validatePositive,
		},
	}
	if err := survey.Ask(questions, &answers); err != nil {
		return meta, translateSurveyErr(err)
	}

	meta.SideToMove = 'w'
	if answers.Side == "Black" {
		meta.SideToMove = 'b'
	}
	meta.Castling = answers.Castling
	meta.EnPassant = answers.EnPassant
	meta.Halfmove, _ = strconv.Atoi(answers.Halfmove)
	meta.Fullmove, _ = strconv.Atoi(answers.Fullmove)
	return meta, nil
}
