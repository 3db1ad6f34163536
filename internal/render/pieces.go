package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

// Piece bodies on a 45x45 canvas; every shape shares the base plinth.
var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="13" r="5"/>
<polygon points="17,34 28,34 25.5,20 19.5,20"/>`,
	nchess.Rook: `<polygon points="12,9 16,9 16,12 20.5,12 20.5,9 24.5,9 24.5,12 29,12 29,9 33,9 33,16 12,16"/>
<rect x="15" y="16" width="15" height="17"/>`,
	nchess.Knight: `<polygon points="14,34 31,34 31,20 27,9 21,8 12,18 13,23 19,20 17,27"/>
<circle cx="23" cy="14" r="1.4"/>`,
	nchess.Bishop: `<ellipse cx="22.5" cy="22" rx="7" ry="10"/>
<circle cx="22.5" cy="9" r="2.5"/>
<polygon points="17,34 28,34 26,30 19,30"/>`,
	nchess.Queen: `<polygon points="12,32 33,32 36,13 29,24 26,10 22.5,23 19,10 16,24 9,13"/>
<circle cx="9" cy="12" r="2.2"/>
<circle cx="19" cy="9" r="2.2"/>
<circle cx="26" cy="9" r="2.2"/>
<circle cx="36" cy="12" r="2.2"/>`,
	nchess.King: `<rect x="21" y="4" width="3" height="10"/>
<rect x="17.5" y="7" width="10" height="3"/>
<polygon points="12,33 33,33 35,19 28,16 22.5,21 17,16 10,19"/>`,
}

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	shape, ok := pieceShapes[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no shape for piece %v", piece)
	}
	fill, stroke := "#f8f6f0", "#1e1e1e"
	if piece.Color() == nchess.Black {
		fill, stroke = "#262626", "#e8e8e8"
	}
	var b bytes.Buffer
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">`)
	fmt.Fprintf(&b, `<g fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round">`, fill, stroke)
	b.WriteString(shape)
	b.WriteString(`<rect x="10" y="34" width="25" height="5" rx="1.5"/>`)
	b.WriteString(`</g></svg>`)
	return b.Bytes(), nil
}

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}
