// Copyright (C) 2026 RDK Management. All Rights Reserved.

package compositor

import (
	"errors"

	"github.com/rdkcmf/waymetric/importer"
)

// NewImportSink returns a CommitSink that imports each committed buffer into
// the images of its surface.
func NewImportSink(imp *importer.Importer) CommitSink { return importSink{imp: imp} }

type importSink struct {
	imp *importer.Importer
}

func (s importSink) Commit(surf *Surface, b *Buffer) bool {
	n, err := s.imp.Import(&surf.images, b)
	compMetrics.imagesImported.Add(int64(n))
	if errors.Is(err, importer.ErrUnsupported) {
		compMetrics.formatsUnsupp.Add(1)
	} else if err != nil {
		logger.Errorf("%v: import %v: %v", surf, b, err)
	}
	return false
}

func (s importSink) SurfaceDestroyed(surf *Surface) { s.imp.Free(&surf.images) }
