package models

// RunHealth derives feed health from a terminal run's classification
// counts. The reject rate is measured against everything parsed; the
// quarantine rate only against sellable records, so a feed that simply
// lacks UPCs is flagged without being treated as broken.
//
// Thresholds: reject rate above 50% fails the feed; quarantine rate above
// 30% or reject rate above 10% is a warning. A zero-record run is healthy.
func RunHealth(indexed, quarantined, rejected int) string {
	total := indexed + quarantined + rejected
	if total == 0 {
		return FeedHealthy
	}

	rejectRate := float64(rejected) / float64(total)
	if rejectRate > 0.50 {
		return FeedFailed
	}

	sellable := indexed + quarantined
	var quarantineRate float64
	if sellable > 0 {
		quarantineRate = float64(quarantined) / float64(sellable)
	}
	if quarantineRate > 0.30 || rejectRate > 0.10 {
		return FeedWarning
	}
	return FeedHealthy
}

// RunStatusFor maps feed health onto the run's terminal status.
func RunStatusFor(health string) string {
	switch health {
	case FeedFailed:
		return RunFailure
	case FeedWarning:
		return RunWarning
	default:
		return RunSuccess
	}
}
