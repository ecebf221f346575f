// Copyright (C) 2026 RDK Management. All Rights Reserved.

package repeater

import "expvar"

type repeaterMetrics struct {
	framesForwarded  expvar.Int
	releasesDeferred expvar.Int // clone releases observed upstream
	releasesSent     expvar.Int // deferred releases sent downstream
	cloneFailures    expvar.Int

	emap *expvar.Map
}

var repMetrics = newRepeaterMetrics()

func newRepeaterMetrics() *repeaterMetrics {
	m := &repeaterMetrics{emap: new(expvar.Map)}
	m.emap.Set("frames_forwarded", &m.framesForwarded)
	m.emap.Set("releases_deferred", &m.releasesDeferred)
	m.emap.Set("releases_sent", &m.releasesSent)
	m.emap.Set("clone_failures", &m.cloneFailures)
	return m
}

// Metrics returns the metrics map shared by all repeaters.
func Metrics() *expvar.Map { return repMetrics.emap }
