// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package importer turns committed buffers into renderable images.
//
// A buffer is imported by format class. Packed RGB and RGBA buffers become
// one image. Semi-planar Y_UV buffers become two images, one for the luma
// plane and one for the interleaved chroma plane, which the renderer combines
// when it draws. Other formats are not supported, and a surface committing
// one keeps the images of its previous frame.
package importer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/rdkcmf/waymetric/log"
	"github.com/rdkcmf/waymetric/protocol"
	"github.com/rdkcmf/waymetric/render"
)

var logger = log.New("importer")

// ErrUnsupported is reported for a buffer whose format cannot be imported.
var ErrUnsupported = errors.New("unsupported buffer format")

// A Slot holds the images imported for one surface. The zero value is an
// empty slot ready for use.
type Slot struct {
	images []render.Image
	format protocol.Format
	width  int
	height int
}

// Len reports the number of images held by s.
func (s *Slot) Len() int { return len(s.images) }

// Images returns a copy of the images held by s.
func (s *Slot) Images() []render.Image { return append([]render.Image(nil), s.images...) }

// Format reports the format of the images held by s.
func (s *Slot) Format() protocol.Format { return s.format }

// An Importer imports buffers through a rendering context.
type Importer struct {
	ctx  render.Context
	draw bool

	μ      sync.Mutex
	warned mapset.Set[protocol.Format]
}

// New constructs an importer using ctx. If draw is true, each successful
// import is drawn and presented.
func New(ctx render.Context, draw bool) *Importer {
	return &Importer{ctx: ctx, draw: draw, warned: mapset.New[protocol.Format]()}
}

// planes reports the number of images a buffer of format f imports to, or 0
// if f cannot be imported.
func planes(f protocol.Format) int {
	switch f {
	case protocol.FormatRGB, protocol.FormatRGBA:
		return 1
	case protocol.FormatYUV2:
		return 2
	default:
		return 0
	}
}

// Import replaces the contents of slot with images imported from src, and
// reports the number of images imported.
//
// If the format of src is not supported, Import reports ErrUnsupported and
// leaves slot unchanged. Otherwise the images previously held by slot are
// destroyed first; if an import then fails, slot is left empty.
func (im *Importer) Import(slot *Slot, src render.ImageSource) (int, error) {
	f := src.Format()
	np := planes(f)
	if np == 0 {
		im.warnOnce(f)
		return 0, fmt.Errorf("import %v: %w", f, ErrUnsupported)
	}

	im.Free(slot)
	images := make([]render.Image, 0, np)
	for plane := range np {
		img, err := im.ctx.ImportImage(src, plane)
		if err != nil {
			for _, done := range images {
				im.ctx.DestroyImage(done)
			}
			logger.Errorf("import %v plane %d of %q: %v", f, plane, src.Storage(), err)
			return 0, err
		}
		images = append(images, img)
	}
	*slot = Slot{images: images, format: f, width: src.Width(), height: src.Height()}

	if im.draw {
		if err := im.present(slot); err != nil {
			logger.Warningf("draw %v: %v", f, err)
		}
	}
	return np, nil
}

// Free destroys the images held by slot and leaves it empty.
func (im *Importer) Free(slot *Slot) {
	for _, img := range slot.images {
		if err := im.ctx.DestroyImage(img); err != nil {
			logger.Debugf("destroy image %d: %v", img, err)
		}
	}
	*slot = Slot{}
}

func (im *Importer) present(slot *Slot) error {
	if err := im.ctx.Draw(slot.images, slot.format, slot.width, slot.height); err != nil {
		return err
	}
	return im.ctx.Swap()
}

func (im *Importer) warnOnce(f protocol.Format) {
	im.μ.Lock()
	defer im.μ.Unlock()
	if !im.warned.Has(f) {
		im.warned.Add(f)
		logger.Warningf("skipping buffers of unsupported format %v", f)
	}
}
