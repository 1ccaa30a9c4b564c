package fingerprint

import (
	"math"
	"sort"
)

type Peak struct {
	TimeIdx int
	FreqIdx int
	Time    float64 // seconds from the start of the signal
	Freq    float64 // Hz
	MagDB   float64 // dBFS
}

const eps = 1e-10

func toDB(mag float64) float64 {
	return 20.0 * math.Log10(mag+eps)
}

// logBands splits nBins into logarithmically growing bands so that low
// frequencies, where most musical energy sits, get more candidates.
func logBands(nBins int) [][2]int {
	bands := [][2]int{{0, min(10, nBins)}}
	for start := 10; start < nBins; start *= 2 {
		end := min(start*2, nBins)
		bands = append(bands, [2]int{start, end})
		if end == nBins {
			break
		}
	}
	return bands
}

// ExtractPeaks picks landmark peaks from a spectrogram produced with cfg.
// Per frame the strongest bin of each band is a candidate; it survives if it
// clears the absolute noise floor, sits MinDBAboveMean above the mean of the
// frame's band maxima, and no neighbour within TimeRadius frames and
// FreqRadius bins is louder. The result is sorted by time, then frequency.
func ExtractPeaks(spectrogram [][]float64, cfg Config) []Peak {
	if len(spectrogram) == 0 || len(spectrogram[0]) == 0 {
		return nil
	}

	nFrames := len(spectrogram)
	nBins := len(spectrogram[0])
	freqRes := cfg.BinWidth()
	frameTime := cfg.FrameDuration()
	bands := logBands(nBins)

	peaks := make([]Peak, 0, nFrames)
	bandMaxMag := make([]float64, len(bands))
	bandMaxIdx := make([]int, len(bands))

	for t := 0; t < nFrames; t++ {
		frame := spectrogram[t]

		var sumDB float64
		for bi, b := range bands {
			maxMag, maxIdx := 0.0, b[0]
			for i := b[0]; i < b[1]; i++ {
				if frame[i] > maxMag {
					maxMag = frame[i]
					maxIdx = i
				}
			}
			bandMaxMag[bi] = maxMag
			bandMaxIdx[bi] = maxIdx
			sumDB += toDB(maxMag)
		}
		avgDB := sumDB / float64(len(bands))

		for bi, mag := range bandMaxMag {
			if mag <= 0 {
				continue
			}
			magDB := toDB(mag)
			if magDB < cfg.NoiseFloorDB || magDB < avgDB+cfg.MinDBAboveMean {
				continue
			}
			bin := bandMaxIdx[bi]
			if !isLocalMax(spectrogram, t, bin, mag, cfg.TimeRadius, cfg.FreqRadius) {
				continue
			}
			peaks = append(peaks, Peak{
				TimeIdx: t,
				FreqIdx: bin,
				Time:    float64(t) * frameTime,
				Freq:    float64(bin) * freqRes,
				MagDB:   magDB,
			})
		}
	}

	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].TimeIdx == peaks[j].TimeIdx {
			return peaks[i].FreqIdx < peaks[j].FreqIdx
		}
		return peaks[i].TimeIdx < peaks[j].TimeIdx
	})

	return peaks
}

// isLocalMax reports whether (t, bin) is a strict maximum of its
// neighbourhood. On a plateau of equal magnitudes only the earliest cell
// (lowest time, then lowest bin) qualifies.
func isLocalMax(spectrogram [][]float64, t, bin int, mag float64, timeRadius, freqRadius int) bool {
	nFrames := len(spectrogram)
	nBins := len(spectrogram[0])
	for tIdx := max(0, t-timeRadius); tIdx <= min(nFrames-1, t+timeRadius); tIdx++ {
		row := spectrogram[tIdx]
		for fIdx := max(0, bin-freqRadius); fIdx <= min(nBins-1, bin+freqRadius); fIdx++ {
			if tIdx == t && fIdx == bin {
				continue
			}
			if row[fIdx] > mag {
				return false
			}
			if row[fIdx] == mag && (tIdx < t || (tIdx == t && fIdx < bin)) {
				return false
			}
		}
	}
	return true
}
