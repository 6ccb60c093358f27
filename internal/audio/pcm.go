package audio

import (
	"math"
	"time"
)

// RMS returns the root-mean-square amplitude of PCM16LE samples,
// normalized to the 0..1 range.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// SpeechDuration estimates how much of the buffer contains speech by
// scanning 20ms windows and summing those whose RMS clears threshold.
func SpeechDuration(pcm []byte, sampleRate int, threshold float64) time.Duration {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	windowBytes := sampleRate / 50 * 2 // 20ms of PCM16LE mono
	if windowBytes == 0 {
		return 0
	}
	var voiced int
	for off := 0; off+windowBytes <= len(pcm); off += windowBytes {
		if RMS(pcm[off:off+windowBytes]) >= threshold {
			voiced++
		}
	}
	return time.Duration(voiced) * 20 * time.Millisecond
}

// TrailingSilence returns how long the buffer has been quiet, measured
// from the end in 20ms windows until one clears threshold.
func TrailingSilence(pcm []byte, sampleRate int, threshold float64) time.Duration {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	windowBytes := sampleRate / 50 * 2
	if windowBytes == 0 {
		return 0
	}
	var quiet int
	for off := len(pcm) - windowBytes; off >= 0; off -= windowBytes {
		if RMS(pcm[off:off+windowBytes]) >= threshold {
			break
		}
		quiet++
	}
	return time.Duration(quiet) * 20 * time.Millisecond
}

// Duration returns the playback length of a PCM16LE mono buffer.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
