// Package render draws the final position of a game as a PNG.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"math"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var ErrBadSquare = errors.New("bad square")

// Highlight marks the last move.
type Highlight struct {
	From nchess.Square
	To   nchess.Square
}

type Options struct {
	// Title is printed above the board, e.g. "gpt-4o vs Stockfish  0-1".
	Title     string
	Subtitle  string
	Highlight *Highlight
}

const (
	squareSize   = 64
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	sideMargin   = 28
	topMargin    = 56
	bottomMargin = 28
)

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	backgroundColor     = color.RGBA{28, 31, 46, 255}
	titleTextColor      = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	subtitleTextColor   = color.NRGBA{R: 204, G: 210, B: 236, A: 255}
	coordinateTextColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
	whiteMoveFill       = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	blackMoveArrow      = color.NRGBA{R: 148, G: 207, B: 255, A: 170}
	neutralMoveArrow    = color.NRGBA{R: 182, G: 184, B: 190, A: 140}
)

// RenderPNG draws board from White's side with coordinates and a title band.
func RenderPNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	totalWidth := boardSize + sideMargin*2
	totalHeight := boardSize + topMargin + bottomMargin
	origin := image.Point{X: sideMargin, Y: topMargin}

	img := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawTitle(img, opts, totalWidth)
	drawSquares(img, origin)
	drawHighlight(img, board, opts.Highlight, origin)
	if err := drawPieces(img, board, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// HighlightUCI builds a highlight from a coordinate move such as "e2e4".
func HighlightUCI(uci string) (*Highlight, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 {
		return nil, fmt.Errorf("%w: %q", ErrBadSquare, uci)
	}
	from, err := parseSquare(uci[0:2])
	if err != nil {
		return nil, err
	}
	to, err := parseSquare(uci[2:4])
	if err != nil {
		return nil, err
	}
	return &Highlight{From: from, To: to}, nil
}

func parseSquare(s string) (nchess.Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, fmt.Errorf("%w: %q", ErrBadSquare, s)
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), nil
}

var (
	ranks = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	files = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for row, rank := range ranks {
		for col, file := range files {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			clr := squareColor(nchess.NewSquare(file, rank))
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, origin image.Point) error {
	boardMap := board.SquareMap()
	for row, rank := range ranks {
		for col, file := range files {
			piece := boardMap[nchess.NewSquare(file, rank)]
			if piece == nchess.NoPiece {
				continue
			}
			img, err := renderPieceImage(piece, squareSize)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

// drawHighlight fills both squares for White's move and draws an arrow for Black's.
func drawHighlight(img *image.RGBA, board *nchess.Board, h *Highlight, origin image.Point) {
	if h == nil {
		return
	}
	mover := nchess.NoColor
	if piece := board.Piece(h.To); piece != nchess.NoPiece {
		mover = piece.Color()
	}
	switch mover {
	case nchess.White:
		drawSquareOverlay(img, h.From, origin, whiteMoveFill)
		drawSquareOverlay(img, h.To, origin, whiteMoveFill)
	case nchess.Black:
		drawArrow(img, h.From, h.To, origin, blackMoveArrow)
	default:
		drawArrow(img, h.From, h.To, origin, neutralMoveArrow)
	}
}

func drawSquareOverlay(img *image.RGBA, sq nchess.Square, origin image.Point, clr color.Color) {
	imagedraw.Draw(img, squareRect(sq, origin), image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

// drawArrow fills a shaft and head from the center of from to the center of to.
func drawArrow(img *image.RGBA, from, to nchess.Square, origin image.Point, clr color.Color) {
	if from == to {
		return
	}
	a := squareRect(from, origin).Min.Add(image.Pt(squareSize/2, squareSize/2))
	b := squareRect(to, origin).Min.Add(image.Pt(squareSize/2, squareSize/2))
	sx, sy, ex, ey := float64(a.X), float64(a.Y), float64(b.X), float64(b.Y)
	length := math.Hypot(ex-sx, ey-sy)
	ux, uy := (ex-sx)/length, (ey-sy)/length
	nx, ny := -uy, ux

	neck := max(length-squareSize*0.45, length*0.6)
	shaft, head := squareSize*0.18, squareSize*0.32
	mx, my := sx+ux*neck, sy+uy*neck

	size := img.Bounds().Size()
	filler := rasterx.NewFiller(size.X, size.Y, rasterx.NewScannerGV(size.X, size.Y, img, img.Bounds()))
	filler.SetColor(clr)
	filler.Start(rasterx.ToFixedP(sx+nx*shaft, sy+ny*shaft))
	for _, p := range [][2]float64{
		{mx + nx*shaft, my + ny*shaft},
		{mx + nx*head, my + ny*head},
		{ex, ey},
		{mx - nx*head, my - ny*head},
		{mx - nx*shaft, my - ny*shaft},
		{sx - nx*shaft, sy - ny*shaft},
	} {
		filler.Line(rasterx.ToFixedP(p[0], p[1]))
	}
	filler.Stop(true)
	filler.Draw()
}

func drawTitle(dst imagedraw.Image, opts Options, width int) {
	drawer := &font.Drawer{Dst: dst, Face: basicfont.Face7x13}
	if t := strings.TrimSpace(opts.Title); t != "" {
		drawer.Src = image.NewUniform(titleTextColor)
		drawCenteredText(drawer, truncate(drawer, t, width-2*sideMargin), width/2, 22)
	}
	if s := strings.TrimSpace(opts.Subtitle); s != "" {
		drawer.Src = image.NewUniform(subtitleTextColor)
		drawCenteredText(drawer, truncate(drawer, s, width-2*sideMargin), width/2, 42)
	}
}

func drawCoordinates(dst imagedraw.Image, origin image.Point) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: dst, Face: face, Src: image.NewUniform(coordinateTextColor)}
	ascent := face.Metrics().Ascent.Ceil()
	boardEndY := origin.Y + len(ranks)*squareSize

	for row, rank := range ranks {
		center := origin.Y + row*squareSize + squareSize/2
		drawCenteredText(drawer, rank.String(), origin.X-sideMargin/2, center+ascent/2)
	}
	for col, file := range files {
		center := origin.X + col*squareSize + squareSize/2
		drawCenteredText(drawer, file.String(), center, boardEndY+ascent+4)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func truncate(drawer *font.Drawer, text string, maxWidth int) string {
	if drawer.MeasureString(text).Round() <= maxWidth {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "..."
		if drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return ""
}

func squareRect(sq nchess.Square, origin image.Point) image.Rectangle {
	x := origin.X + int(sq.File())*squareSize
	y := origin.Y + (7-int(sq.Rank()))*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}
