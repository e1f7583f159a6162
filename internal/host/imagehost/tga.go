package imagehost

import (
	"errors"
	"fmt"
	"image"
	"io"
)

// TGA has no magic number, so it cannot join image.RegisterFormat and is
// picked by extension instead.

const (
	tgaHeaderLen    = 18
	tgaTrueColor    = 2
	tgaTrueColorRLE = 10
	tgaTopToBottom  = 0x20
)

var errTGA = errors.New("tga")

// decodeTGA reads uncompressed or RLE true-color TGA with 24 or 32 bits per
// pixel into a straight-alpha image.
func decodeTGA(r io.Reader) (*image.NRGBA, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < tgaHeaderLen {
		return nil, fmt.Errorf("%w: header truncated", errTGA)
	}
	idLen := int(data[0])
	if data[1] != 0 {
		return nil, fmt.Errorf("%w: color-mapped images are not supported", errTGA)
	}
	kind := data[2]
	if kind != tgaTrueColor && kind != tgaTrueColorRLE {
		return nil, fmt.Errorf("%w: image type %d is not supported", errTGA, kind)
	}
	width := int(data[12]) | int(data[13])<<8
	height := int(data[14]) | int(data[15])<<8
	bpp := int(data[16]) / 8
	if bpp != 3 && bpp != 4 {
		return nil, fmt.Errorf("%w: %d bits per pixel is not supported", errTGA, data[16])
	}
	body := tgaHeaderLen + idLen
	if body > len(data) {
		return nil, fmt.Errorf("%w: id field truncated", errTGA)
	}

	d := &tgaDecoder{
		img:  image.NewNRGBA(image.Rect(0, 0, width, height)),
		src:  data[body:],
		bpp:  bpp,
		flip: data[17]&tgaTopToBottom == 0,
	}
	if kind == tgaTrueColor {
		err = d.raw(width * height)
	} else {
		err = d.rle()
	}
	if err != nil {
		return nil, err
	}
	return d.img, nil
}

type tgaDecoder struct {
	img  *image.NRGBA
	src  []byte
	pos  int
	bpp  int
	flip bool // rows are stored bottom-up
	n    int  // pixels written
}

// pixel reads one BGR(A) pixel.
func (d *tgaDecoder) pixel() ([4]byte, error) {
	if d.pos+d.bpp > len(d.src) {
		return [4]byte{}, fmt.Errorf("%w: pixel data truncated after %d pixels", errTGA, d.n)
	}
	p := d.src[d.pos : d.pos+d.bpp]
	d.pos += d.bpp
	px := [4]byte{p[2], p[1], p[0], 0xff}
	if d.bpp == 4 {
		px[3] = p[3]
	}
	return px, nil
}

func (d *tgaDecoder) put(px [4]byte) {
	w := d.img.Rect.Dx()
	x, y := d.n%w, d.n/w
	if d.flip {
		y = d.img.Rect.Dy() - 1 - y
	}
	copy(d.img.Pix[d.img.PixOffset(x, y):], px[:])
	d.n++
}

func (d *tgaDecoder) total() int { return d.img.Rect.Dx() * d.img.Rect.Dy() }

func (d *tgaDecoder) raw(count int) error {
	for i := 0; i < count && d.n < d.total(); i++ {
		px, err := d.pixel()
		if err != nil {
			return err
		}
		d.put(px)
	}
	return nil
}

func (d *tgaDecoder) rle() error {
	for d.n < d.total() {
		if d.pos >= len(d.src) {
			return fmt.Errorf("%w: rle data truncated after %d pixels", errTGA, d.n)
		}
		packet := d.src[d.pos]
		d.pos++
		count := int(packet&0x7f) + 1
		if packet&0x80 == 0 {
			if err := d.raw(count); err != nil {
				return err
			}
			continue
		}
		px, err := d.pixel()
		if err != nil {
			return err
		}
		for i := 0; i < count && d.n < d.total(); i++ {
			d.put(px)
		}
	}
	return nil
}
