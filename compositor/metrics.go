// Copyright (C) 2026 RDK Management. All Rights Reserved.

package compositor

import "expvar"

// instanceMetrics record compositor activity counters, shared by all
// instances in the process.
type instanceMetrics struct {
	surfacesCreated   expvar.Int
	surfacesDestroyed expvar.Int
	buffersReleased   expvar.Int // release events sent to producers
	commits           expvar.Int // commits with a buffer attached
	imagesImported    expvar.Int
	formatsUnsupp     expvar.Int // commits skipped for an unsupported format

	emap *expvar.Map
}

var compMetrics = newInstanceMetrics()

func newInstanceMetrics() *instanceMetrics {
	m := &instanceMetrics{emap: new(expvar.Map)}
	m.emap.Set("surfaces_created", &m.surfacesCreated)
	m.emap.Set("surfaces_destroyed", &m.surfacesDestroyed)
	m.emap.Set("buffers_released", &m.buffersReleased)
	m.emap.Set("commits", &m.commits)
	m.emap.Set("images_imported", &m.imagesImported)
	m.emap.Set("formats_unsupported", &m.formatsUnsupp)
	return m
}

// Metrics returns the metrics map shared by all instances. It is safe for the
// caller to add additional metrics to the map.
func Metrics() *expvar.Map { return compMetrics.emap }
