package fingerprint

import (
	"math"

	"github.com/himanishpuri/EarPrint/pkg/models"
)

const (
	maxFreqMask  = uint32(1<<MaxFreqBits) - 1
	maxDeltaMask = uint32(1<<MaxDeltaBits) - 1
)

// createAddress packs an anchor/target pair as
// anchorFreqIdx(9) | targetFreqIdx(9) | deltaMs(14). Pairs whose fields do
// not fit are rejected.
func createAddress(anchor Peak, target Peak) (uint32, bool) {
	if anchor.FreqIdx < 0 || target.FreqIdx < 0 {
		return 0, false
	}
	anchorFreqVal := uint32(anchor.FreqIdx)
	targetFreqVal := uint32(target.FreqIdx)
	if anchorFreqVal > maxFreqMask || targetFreqVal > maxFreqMask {
		return 0, false
	}

	delta := math.Round((target.Time - anchor.Time) * 1000.0)
	if delta < 0 || delta > float64(maxDeltaMask) {
		return 0, false
	}
	deltaMs := uint32(delta)

	shiftTarget := MaxDeltaBits
	shiftAnchor := MaxDeltaBits + MaxFreqBits

	return (anchorFreqVal << shiftAnchor) | (targetFreqVal << shiftTarget) | deltaMs, true
}

// UnpackHash splits a hash into its anchor bin, target bin and delta in ms.
func UnpackHash(h uint32) (anchorFreq, targetFreq int, deltaMs int) {
	deltaMs = int(h & maxDeltaMask)
	targetFreq = int((h >> MaxDeltaBits) & maxFreqMask)
	anchorFreq = int((h >> (MaxDeltaBits + MaxFreqBits)) & maxFreqMask)
	return anchorFreq, targetFreq, deltaMs
}

// Hash pairs time-sorted peaks into fingerprints. For each anchor the scan
// walks forward and stops at the first peak more than MaxDelta ahead; peaks
// closer than MinDelta or further than MaxFreqDelta bins away are skipped,
// and at most FanOut targets are taken. Offsets are the anchor times.
func Hash(peaks []Peak, cfg Config) []models.Fingerprint {
	fps := make([]models.Fingerprint, 0, len(peaks)*cfg.FanOut)
	for i, anchor := range peaks {
		paired := 0
		for j := i + 1; j < len(peaks) && paired < cfg.FanOut; j++ {
			target := peaks[j]
			dt := target.Time - anchor.Time
			if dt > cfg.MaxDelta {
				break
			}
			if dt < cfg.MinDelta {
				continue
			}
			df := target.FreqIdx - anchor.FreqIdx
			if df < 0 {
				df = -df
			}
			if df > cfg.MaxFreqDelta {
				continue
			}
			addr, ok := createAddress(anchor, target)
			if !ok {
				continue
			}
			fps = append(fps, models.Fingerprint{Hash: addr, Offset: anchor.Time})
			paired++
		}
	}
	return fps
}
